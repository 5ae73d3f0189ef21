// README: Bench cases: connectivity, auth, credit conservation under concurrency and the accept race.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"zemi/internal/infra"
	"zemi/internal/migrate"
)

const (
	statusPass = "PASS"
	statusFail = "FAIL"
	statusSkip = "SKIP"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	// run-scoped identities so repeated runs never collide
	clientID string
	adminID  string
	tripIDs  []string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	run := uuid.NewString()[:8]
	return &Runner{
		cfg:      cfg,
		httpc:    &http.Client{Timeout: 10 * time.Second},
		clientID: "bench-client-" + run,
		adminID:  "bench-admin-" + run,
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
			defer db.Close()
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
		defer r.redis.Close()
	}

	cases := r.cases()
	results := make([]Result, 0, len(cases))
	for _, tc := range cases {
		start := time.Now()
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		if res.Latency == 0 {
			res.Latency = time.Since(start)
		}
		results = append(results, res)
		fmt.Printf("%-5s %s (%s)", res.Status, res.Name, res.Latency.Round(time.Millisecond))
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}
	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.db == nil {
				return Result{Status: statusSkip, Note: "dsn not configured"}
			}
			if err := r.db.Ping(ctx); err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
			if r.cfg.ApplyMigration {
				if err := migrate.Apply(ctx, r.db); err != nil {
					return Result{Status: statusFail, Note: err.Error()}
				}
			}
			return Result{Status: statusPass}
		}},
		{Name: "Env: Redis connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.redis == nil {
				return Result{Status: statusSkip, Note: "redis not configured"}
			}
			if err := r.redis.Ping(ctx).Err(); err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
			return Result{Status: statusPass}
		}},
		{Name: "API: health", Run: func(ctx context.Context, r *Runner) Result {
			code, _, err := r.call(ctx, http.MethodGet, "/health", "", nil)
			return expectCode(code, err, http.StatusOK)
		}},
		{Name: "API: unauthenticated request rejected", Run: func(ctx context.Context, r *Runner) Result {
			code, _, err := r.call(ctx, http.MethodGet, "/api/credits", "", nil)
			return expectCode(code, err, http.StatusUnauthorized)
		}},
		{Name: "Credit: concurrent requests never exceed credits", Run: func(ctx context.Context, r *Runner) Result { return r.creditConservation(ctx) }},
		{Name: "Trip: one driver wins each accept race", Run: func(ctx context.Context, r *Runner) Result { return r.acceptRace(ctx) }},
		{Name: "DB: trips match consumed credits", Run: func(ctx context.Context, r *Runner) Result { return r.dbConsistency(ctx) }},
	}
}

// creditConservation grants Credits trips and fires Requests concurrent
// requests. Exactly Credits must succeed; the rest must be 402.
func (r *Runner) creditConservation(ctx context.Context) Result {
	if r.cfg.JWTSecret == "" {
		return Result{Status: statusSkip, Note: "jwt secret not configured"}
	}
	admin := r.token(r.adminID, "admin")
	code, body, err := r.call(ctx, http.MethodPost, "/api/admin/credits", admin, map[string]any{
		"client_id": r.clientID, "trips": r.cfg.Credits, "validity_days": 1,
	})
	if err != nil || code != http.StatusCreated {
		return Result{Status: statusFail, Note: fmt.Sprintf("grant credit: status=%d err=%v body=%s", code, err, body)}
	}

	client := r.token(r.clientID, "client")
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		created int
		denied  int
		other   []int
	)
	start := time.Now()
	for i := 0; i < r.cfg.Requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, body, err := r.call(ctx, http.MethodPost, "/api/trips", client, map[string]any{
				"origin": map[string]float64{"lat": 14.6937, "lng": -17.4441},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				other = append(other, -1)
			case code == http.StatusCreated:
				created++
				var out struct {
					TripID string `json:"trip_id"`
				}
				if json.Unmarshal(body, &out) == nil {
					r.tripIDs = append(r.tripIDs, out.TripID)
				}
			case code == http.StatusPaymentRequired:
				denied++
			default:
				other = append(other, code)
			}
		}()
	}
	wg.Wait()

	note := fmt.Sprintf("created=%d denied=%d other=%v", created, denied, other)
	want := min(r.cfg.Credits, r.cfg.Requests)
	if created != want || len(other) > 0 {
		return Result{Status: statusFail, Latency: time.Since(start), Note: note}
	}
	return Result{Status: statusPass, Latency: time.Since(start), Note: note}
}

// acceptRace approves Drivers fresh drivers and has all of them accept the
// same trip at once. Exactly one may win.
func (r *Runner) acceptRace(ctx context.Context) Result {
	if len(r.tripIDs) == 0 {
		return Result{Status: statusSkip, Note: "no requested trips"}
	}
	admin := r.token(r.adminID, "admin")
	drivers := make([]string, r.cfg.Drivers)
	for i := range drivers {
		id := fmt.Sprintf("%s-driver-%d", r.clientID, i)
		drivers[i] = r.token(id, "driver")
		if code, body, err := r.call(ctx, http.MethodPut, "/api/admin/drivers/"+id+"/approval", admin, map[string]string{"approval": "approved"}); err != nil || code != http.StatusOK {
			return Result{Status: statusFail, Note: fmt.Sprintf("approve %s: status=%d err=%v body=%s", id, code, err, body)}
		}
		if code, body, err := r.call(ctx, http.MethodPut, "/api/drivers/me/activation", drivers[i], map[string]string{"activation": "active"}); err != nil || code != http.StatusOK {
			return Result{Status: statusFail, Note: fmt.Sprintf("activate %s: status=%d err=%v body=%s", id, code, err, body)}
		}
	}

	tripID := r.tripIDs[0]
	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		wins int
		lost int
	)
	for _, tok := range drivers {
		wg.Add(1)
		go func(tok string) {
			defer wg.Done()
			code, _, err := r.call(ctx, http.MethodPost, "/api/trips/"+tripID+"/accept", tok, nil)
			mu.Lock()
			defer mu.Unlock()
			if err == nil && code == http.StatusOK {
				wins++
			} else if err == nil && code == http.StatusConflict {
				lost++
			}
		}(tok)
	}
	wg.Wait()

	note := fmt.Sprintf("trip=%s wins=%d conflicts=%d", tripID, wins, lost)
	if wins != 1 || wins+lost != len(drivers) {
		return Result{Status: statusFail, Note: note}
	}
	return Result{Status: statusPass, Note: note}
}

func (r *Runner) dbConsistency(ctx context.Context) Result {
	if r.db == nil {
		return Result{Status: statusSkip, Note: "dsn not configured"}
	}
	var trips, consumed int
	err := r.db.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM trips WHERE client_id = $1 AND status <> 'expired'),
			(SELECT COALESCE(SUM(trips_total - trips_remaining), 0) FROM credit_grants WHERE owner_id = $1)`,
		r.clientID,
	).Scan(&trips, &consumed)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	note := fmt.Sprintf("trips=%d consumed=%d", trips, consumed)
	if trips != consumed {
		return Result{Status: statusFail, Note: note}
	}
	return Result{Status: statusPass, Note: note}
}

func (r *Runner) token(uid, role string) string {
	tok, err := infra.IssueJWT(r.cfg.JWTSecret, uid, role, 10*time.Minute)
	if err != nil {
		return ""
	}
	return tok
}

func (r *Runner) call(ctx context.Context, method, path, token string, body any) (int, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, &buf)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b, nil
}

func expectCode(code int, err error, want int) Result {
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	if code != want {
		return Result{Status: statusFail, Note: fmt.Sprintf("status=%d want=%d", code, want)}
	}
	return Result{Status: statusPass}
}
