// README: Driver profile and subscription store backed by PostgreSQL.
package driver

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
	// EnsureProfile creates a pending, inactive profile with the trial
	// allowance unless one exists, and returns the stored profile.
	EnsureProfile(ctx context.Context, driverID types.ID, trialTrips int, now time.Time) (*Profile, error)
	GetProfile(ctx context.Context, driverID types.ID) (*Profile, error)
	// GetProfileForUpdate locks the profile row until the surrounding transaction ends.
	GetProfileForUpdate(ctx context.Context, driverID types.ID) (*Profile, error)
	SetApproval(ctx context.Context, driverID types.ID, approval Approval, now time.Time) error
	SetActivation(ctx context.Context, driverID types.ID, activation Activation, now time.Time) error
	CreditWallet(ctx context.Context, driverID types.ID, amount decimal.Decimal, now time.Time) error
	// ConsumeTrial decrements the trial allowance if it is positive.
	ConsumeTrial(ctx context.Context, driverID types.ID, now time.Time) (bool, error)
	// SweepWallet zeroes a positive balance and returns the amount swept.
	// A zero balance returns decimal.Zero and changes nothing.
	SweepWallet(ctx context.Context, driverID types.ID, now time.Time) (decimal.Decimal, error)
	// ActiveSubscription returns the latest-ending subscription active at now, or nil.
	ActiveSubscription(ctx context.Context, driverID types.ID, now time.Time) (*Subscription, error)
	CreateSubscription(ctx context.Context, sub *Subscription) error
}

const uniqueSubscriptionReference = "driver_subscriptions_reference_key"

type PgStore struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{db: db}
}

func (s *PgStore) q(ctx context.Context) txn.DBTX {
	return txn.Querier(ctx, s.db)
}

const profileColumns = `id, driver_id, activation_state, approval_state, wallet_balance::text,
	trial_trips_remaining, created_at, updated_at`

func scanProfile(row pgx.Row) (*Profile, error) {
	var p Profile
	var id, driverID, activation, approval, balance string
	err := row.Scan(&id, &driverID, &activation, &approval, &balance,
		&p.TrialTripsRemaining, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.ID, p.DriverID = types.ID(id), types.ID(driverID)
	p.Activation, p.Approval = Activation(activation), Approval(approval)
	if p.WalletBalance, err = decimal.NewFromString(balance); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PgStore) EnsureProfile(ctx context.Context, driverID types.ID, trialTrips int, now time.Time) (*Profile, error) {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO driver_profiles (
			id, driver_id, activation_state, approval_state, wallet_balance,
			trial_trips_remaining, created_at, updated_at
		) VALUES ($1, $2, 'inactive', 'pending', 0, $3, $4, $4)
		ON CONFLICT (driver_id) DO NOTHING`,
		string(types.NewID()), string(driverID), trialTrips, now,
	)
	if err != nil {
		return nil, err
	}
	return s.GetProfile(ctx, driverID)
}

func (s *PgStore) GetProfile(ctx context.Context, driverID types.ID) (*Profile, error) {
	return scanProfile(s.q(ctx).QueryRow(ctx,
		`SELECT `+profileColumns+` FROM driver_profiles WHERE driver_id = $1`, string(driverID)))
}

func (s *PgStore) GetProfileForUpdate(ctx context.Context, driverID types.ID) (*Profile, error) {
	return scanProfile(s.q(ctx).QueryRow(ctx,
		`SELECT `+profileColumns+` FROM driver_profiles WHERE driver_id = $1 FOR UPDATE`, string(driverID)))
}

func (s *PgStore) SetApproval(ctx context.Context, driverID types.ID, approval Approval, now time.Time) error {
	return s.exec(ctx, `UPDATE driver_profiles SET approval_state = $2, updated_at = $3 WHERE driver_id = $1`,
		string(driverID), string(approval), now)
}

func (s *PgStore) SetActivation(ctx context.Context, driverID types.ID, activation Activation, now time.Time) error {
	return s.exec(ctx, `UPDATE driver_profiles SET activation_state = $2, updated_at = $3 WHERE driver_id = $1`,
		string(driverID), string(activation), now)
}

func (s *PgStore) CreditWallet(ctx context.Context, driverID types.ID, amount decimal.Decimal, now time.Time) error {
	return s.exec(ctx, `
		UPDATE driver_profiles
		SET wallet_balance = wallet_balance + $2::numeric, updated_at = $3
		WHERE driver_id = $1`,
		string(driverID), amount.String(), now)
}

func (s *PgStore) ConsumeTrial(ctx context.Context, driverID types.ID, now time.Time) (bool, error) {
	tag, err := s.q(ctx).Exec(ctx, `
		UPDATE driver_profiles
		SET trial_trips_remaining = trial_trips_remaining - 1, updated_at = $2
		WHERE driver_id = $1 AND trial_trips_remaining > 0`,
		string(driverID), now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) SweepWallet(ctx context.Context, driverID types.ID, now time.Time) (decimal.Decimal, error) {
	var swept string
	err := s.q(ctx).QueryRow(ctx, `
		WITH prev AS (
			SELECT driver_id, wallet_balance FROM driver_profiles
			WHERE driver_id = $1 FOR UPDATE
		)
		UPDATE driver_profiles p
		SET wallet_balance = 0, updated_at = $2
		FROM prev
		WHERE p.driver_id = prev.driver_id AND prev.wallet_balance > 0
		RETURNING prev.wallet_balance::text`,
		string(driverID), now,
	).Scan(&swept)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(swept)
}

func (s *PgStore) ActiveSubscription(ctx context.Context, driverID types.ID, now time.Time) (*Subscription, error) {
	var sub Subscription
	var id, owner string
	err := s.q(ctx).QueryRow(ctx, `
		SELECT id, driver_id, starts_at, ends_at, reference, created_at
		FROM driver_subscriptions
		WHERE driver_id = $1 AND starts_at <= $2 AND ends_at > $2
		ORDER BY ends_at DESC
		LIMIT 1`, string(driverID), now,
	).Scan(&id, &owner, &sub.StartsAt, &sub.EndsAt, &sub.Reference, &sub.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sub.ID, sub.DriverID = types.ID(id), types.ID(owner)
	return &sub, nil
}

func (s *PgStore) CreateSubscription(ctx context.Context, sub *Subscription) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO driver_subscriptions (id, driver_id, starts_at, ends_at, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		string(sub.ID), string(sub.DriverID), sub.StartsAt, sub.EndsAt, sub.Reference, sub.CreatedAt,
	)
	if txn.IsUniqueViolation(err, uniqueSubscriptionReference) {
		return ErrDuplicateSubscription
	}
	return err
}

func (s *PgStore) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := s.q(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
