// README: Transaction boundary shared by every store; the active tx travels in the context.
package txn

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Manager runs fn inside a single transaction. Stores called with the ctx
// passed to fn join that transaction. Nested calls join the outer one.
type Manager interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgTxKey struct{}

// Querier returns the transaction carried by ctx, or fallback when there is none.
func Querier(ctx context.Context, fallback DBTX) DBTX {
	if tx, ok := ctx.Value(pgTxKey{}).(pgx.Tx); ok {
		return tx
	}
	return fallback
}

// InPgTx reports whether ctx carries a Postgres transaction.
func InPgTx(ctx context.Context) bool {
	_, ok := ctx.Value(pgTxKey{}).(pgx.Tx)
	return ok
}

type hooksKey struct{}

type commitHooks struct {
	fns []func()
}

func (h *commitHooks) run() {
	for _, fn := range h.fns {
		fn()
	}
}

func withHooks(ctx context.Context) (context.Context, *commitHooks) {
	h := &commitHooks{}
	return context.WithValue(ctx, hooksKey{}, h), h
}

// AfterCommit schedules fn to run once the outermost transaction carried by
// ctx has committed. Rolled-back transactions drop their hooks. Outside a
// transaction fn runs immediately.
func AfterCommit(ctx context.Context, fn func()) {
	if h, ok := ctx.Value(hooksKey{}).(*commitHooks); ok {
		h.fns = append(h.fns, fn)
		return
	}
	fn()
}
