// README: Ledger store backed by PostgreSQL.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"zemi/internal/txn"
	"zemi/internal/types"
)

type Store interface {
	CreateGrant(ctx context.Context, g *Grant) error
	GetGrant(ctx context.Context, id types.ID) (*Grant, error)
	ListGrants(ctx context.Context, ownerID types.ID) ([]Grant, error)
	// UsableGrants returns grants usable at now, in allocation order.
	UsableGrants(ctx context.Context, ownerID types.ID, now time.Time) ([]Grant, error)
	// ConsumeGrant decrements one trip if the grant is still usable at now.
	// It reports false when another request got there first or the grant lapsed.
	ConsumeGrant(ctx context.Context, id types.ID, now time.Time) (bool, error)
	TopUpGrant(ctx context.Context, id types.ID, trips int, expiresAt, now time.Time) error
	RestoreGrant(ctx context.Context, id types.ID, now time.Time) error
	AppendTransaction(ctx context.Context, t *Transaction) error
	ListTransactions(ctx context.Context, actorID types.ID, limit int) ([]Transaction, error)
	SumByKind(ctx context.Context, actorID types.ID, kind Kind) (decimal.Decimal, error)
}

// uniqueReference is the constraint enforcing one row per (kind, reference).
const uniqueReference = "ledger_transactions_kind_reference_key"

type PgStore struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{db: db}
}

func (s *PgStore) q(ctx context.Context) txn.DBTX {
	return txn.Querier(ctx, s.db)
}

func (s *PgStore) CreateGrant(ctx context.Context, g *Grant) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO credit_grants (
			id, owner_id, trips_remaining, trips_total, expires_at, purchased_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(g.ID), string(g.OwnerID), g.TripsRemaining, g.TripsTotal,
		g.ExpiresAt, g.PurchasedAt, g.UpdatedAt,
	)
	return err
}

const grantColumns = `id, owner_id, trips_remaining, trips_total, expires_at, purchased_at, updated_at`

func scanGrant(row pgx.Row) (*Grant, error) {
	var g Grant
	var id, owner string
	if err := row.Scan(&id, &owner, &g.TripsRemaining, &g.TripsTotal, &g.ExpiresAt, &g.PurchasedAt, &g.UpdatedAt); err != nil {
		return nil, err
	}
	g.ID = types.ID(id)
	g.OwnerID = types.ID(owner)
	return &g, nil
}

func (s *PgStore) GetGrant(ctx context.Context, id types.ID) (*Grant, error) {
	g, err := scanGrant(s.q(ctx).QueryRow(ctx, `SELECT `+grantColumns+` FROM credit_grants WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return g, err
}

func (s *PgStore) ListGrants(ctx context.Context, ownerID types.ID) ([]Grant, error) {
	return s.listGrants(ctx, `
		SELECT `+grantColumns+` FROM credit_grants
		WHERE owner_id = $1
		ORDER BY purchased_at DESC, id`, string(ownerID))
}

func (s *PgStore) UsableGrants(ctx context.Context, ownerID types.ID, now time.Time) ([]Grant, error) {
	return s.listGrants(ctx, `
		SELECT `+grantColumns+` FROM credit_grants
		WHERE owner_id = $1 AND trips_remaining > 0 AND expires_at > $2
		ORDER BY expires_at ASC, purchased_at ASC, id ASC`, string(ownerID), now)
}

func (s *PgStore) listGrants(ctx context.Context, sql string, args ...any) ([]Grant, error) {
	rows, err := s.q(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

func (s *PgStore) ConsumeGrant(ctx context.Context, id types.ID, now time.Time) (bool, error) {
	tag, err := s.q(ctx).Exec(ctx, `
		UPDATE credit_grants
		SET trips_remaining = trips_remaining - 1,
		    updated_at = $2
		WHERE id = $1 AND trips_remaining > 0 AND expires_at > $2`,
		string(id), now,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) TopUpGrant(ctx context.Context, id types.ID, trips int, expiresAt, now time.Time) error {
	tag, err := s.q(ctx).Exec(ctx, `
		UPDATE credit_grants
		SET trips_remaining = trips_remaining + $2,
		    trips_total = trips_total + $2,
		    expires_at = GREATEST(expires_at, $3),
		    updated_at = $4
		WHERE id = $1`,
		string(id), trips, expiresAt, now,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) RestoreGrant(ctx context.Context, id types.ID, now time.Time) error {
	tag, err := s.q(ctx).Exec(ctx, `
		UPDATE credit_grants
		SET trips_remaining = LEAST(trips_remaining + 1, trips_total),
		    updated_at = $2
		WHERE id = $1`,
		string(id), now,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) AppendTransaction(ctx context.Context, t *Transaction) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO ledger_transactions (
			id, actor_id, amount, kind, status, reference, trip_id, recorded_at
		) VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8)`,
		string(t.ID), string(t.ActorID), t.Amount.String(), string(t.Kind),
		string(t.Status), t.Reference, idPtr(t.TripID), t.RecordedAt,
	)
	if txn.IsUniqueViolation(err, uniqueReference) {
		return ErrDuplicateReference
	}
	return err
}

func (s *PgStore) ListTransactions(ctx context.Context, actorID types.ID, limit int) ([]Transaction, error) {
	rows, err := s.q(ctx).Query(ctx, `
		SELECT id, actor_id, amount::text, kind, status, reference, trip_id, recorded_at
		FROM ledger_transactions
		WHERE actor_id = $1
		ORDER BY recorded_at DESC, id
		LIMIT $2`, string(actorID), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		var t Transaction
		var id, actor, amount, kind, status string
		var tripID *string
		if err := rows.Scan(&id, &actor, &amount, &kind, &status, &t.Reference, &tripID, &t.RecordedAt); err != nil {
			return nil, err
		}
		t.ID, t.ActorID = types.ID(id), types.ID(actor)
		t.Kind, t.Status = Kind(kind), TxStatus(status)
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		if tripID != nil {
			v := types.ID(*tripID)
			t.TripID = &v
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PgStore) SumByKind(ctx context.Context, actorID types.ID, kind Kind) (decimal.Decimal, error) {
	var sum string
	err := s.q(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::text
		FROM ledger_transactions
		WHERE actor_id = $1 AND kind = $2 AND status = 'completed'`,
		string(actorID), string(kind),
	).Scan(&sum)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(sum)
}

func idPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
