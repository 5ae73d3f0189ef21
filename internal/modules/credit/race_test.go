// README: Credit conservation against PostgreSQL under concurrent trip requests (run with -race).
package credit

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"zemi/internal/modules/ledger"
	"zemi/internal/modules/trip"
	"zemi/internal/testutil"
	"zemi/internal/txn"
	"zemi/internal/types"
)

type pgFixture struct {
	alloc  *Allocator
	grants *ledger.PgStore
	trips  *trip.PgStore
}

func newPgFixture(t *testing.T) *pgFixture {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	db := testutil.OpenDB(t)
	tx := txn.NewPgManager(db, txn.DefaultRetry)
	grants := ledger.NewStore(db)
	trips := trip.NewStore(db)
	tripSvc := trip.NewService(trips, tx, trip.Config{Fare: decimal.NewFromInt(1000)}, trip.Deps{Logger: log})
	return &pgFixture{alloc: NewAllocator(grants, tripSvc, tx, log), grants: grants, trips: trips}
}

func (f *pgFixture) createGrant(t *testing.T, owner types.ID, trips int, expiresAt time.Time) *ledger.Grant {
	t.Helper()
	now := time.Now().UTC()
	g := &ledger.Grant{
		ID: types.NewID(), OwnerID: owner, TripsRemaining: trips, TripsTotal: trips,
		ExpiresAt: expiresAt, PurchasedAt: now, UpdatedAt: now,
	}
	if err := f.grants.CreateGrant(context.Background(), g); err != nil {
		t.Fatalf("create grant: %v", err)
	}
	return g
}

func TestPgConcurrentRequestsConserveCredit(t *testing.T) {
	ctx := context.Background()
	f := newPgFixture(t)
	now := time.Now().UTC()
	const credits, requests = 5, 16
	f.createGrant(t, client.ID, 3, now.Add(time.Hour))
	f.createGrant(t, client.ID, 2, now.Add(2*time.Hour))

	var wg sync.WaitGroup
	errs := make(chan error, requests)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.alloc.RequestTrip(ctx, client, RequestTripCommand{Origin: origin})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrNoEligibleCredit) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != credits {
		t.Fatalf("expected %d successes, got %d", credits, success)
	}

	grants, err := f.grants.ListGrants(ctx, client.ID)
	if err != nil {
		t.Fatalf("list grants: %v", err)
	}
	remaining := 0
	for _, g := range grants {
		if g.TripsRemaining < 0 {
			t.Fatalf("grant %s went negative: %d", g.ID, g.TripsRemaining)
		}
		remaining += g.TripsRemaining
	}
	requested, err := f.trips.ListRequested(ctx, 100)
	if err != nil {
		t.Fatalf("list trips: %v", err)
	}
	if remaining != 0 || len(requested) != credits {
		t.Fatalf("credits not conserved: remaining=%d trips=%d", remaining, len(requested))
	}
}

func TestPgExpiredGrantIsNeverConsumed(t *testing.T) {
	ctx := context.Background()
	f := newPgFixture(t)
	old := f.createGrant(t, client.ID, 2, time.Now().UTC().Add(-time.Minute))

	if _, err := f.alloc.RequestTrip(ctx, client, RequestTripCommand{Origin: origin}); !errors.Is(err, ErrNoEligibleCredit) {
		t.Fatalf("expected ErrNoEligibleCredit, got %v", err)
	}
	ok, err := f.grants.ConsumeGrant(ctx, old.ID, time.Now().UTC())
	if err != nil || ok {
		t.Fatalf("expired grant consumed: ok=%v err=%v", ok, err)
	}
	got, _ := f.grants.GetGrant(ctx, old.ID)
	if got.TripsRemaining != 2 {
		t.Fatalf("trips remaining = %d, want 2", got.TripsRemaining)
	}
}
