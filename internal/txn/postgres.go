// README: Postgres transaction manager with retry on serialization and deadlock failures.
package txn

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

var DefaultRetry = RetryPolicy{Attempts: 3, BaseDelay: 20 * time.Millisecond, MaxDelay: time.Second}

type PgManager struct {
	pool  *pgxpool.Pool
	retry RetryPolicy
}

func NewPgManager(pool *pgxpool.Pool, retry RetryPolicy) *PgManager {
	if retry.Attempts < 1 {
		retry.Attempts = 1
	}
	return &PgManager{pool: pool, retry: retry}
}

func (m *PgManager) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if InPgTx(ctx) {
		return fn(ctx)
	}
	var hooks *commitHooks
	err := Retry(ctx, m.retry, func() error {
		var hctx context.Context
		hctx, hooks = withHooks(ctx)
		return pgx.BeginTxFunc(ctx, m.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
			return fn(context.WithValue(hctx, pgTxKey{}, tx))
		})
	})
	if err != nil {
		return err
	}
	hooks.run()
	return nil
}

// Retry runs op until it succeeds, returns a non-retryable error, or attempts run out.
// The delay doubles after every failed attempt up to MaxDelay.
func Retry(ctx context.Context, p RetryPolicy, op func() error) error {
	delay := p.BaseDelay
	var err error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		err = op()
		if err == nil || !IsRetryable(err) || attempt == p.Attempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return err
}

// IsRetryable reports serialization failures, deadlocks and errors pgconn
// marks as safe to retry (nothing was sent to the server).
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return pgconn.SafeToRetry(err)
}

// IsUniqueViolation reports whether err is a unique constraint failure,
// optionally restricted to the named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
