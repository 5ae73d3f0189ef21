// README: In-memory transaction manager for development mode and tests.
package txn

import (
	"context"
	"sync"
)

// Participant is an in-memory store that can be rolled back. Snapshot is
// called with the manager lock held and returns a function restoring that state.
type Participant interface {
	Snapshot() (restore func())
}

// MemManager serializes every in-memory operation behind one mutex, which
// makes each InTx call fully isolated. Failed transactions are rolled back by
// restoring the snapshots of all registered participants.
type MemManager struct {
	mu           sync.Mutex
	participants []Participant
}

func NewMemManager() *MemManager {
	return &MemManager{}
}

type memTxKey struct{}

// Register adds a store to the rollback set. Call it before serving traffic.
func (m *MemManager) Register(p Participant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.participants = append(m.participants, p)
}

func (m *MemManager) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.inTx(ctx) {
		return fn(ctx)
	}
	ctx, hooks := withHooks(ctx)
	if err := m.run(ctx, fn); err != nil {
		return err
	}
	hooks.run()
	return nil
}

func (m *MemManager) run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	restores := make([]func(), 0, len(m.participants))
	for _, p := range m.participants {
		restores = append(restores, p.Snapshot())
	}
	defer func() {
		if r := recover(); r != nil {
			rollback(restores)
			panic(r)
		}
		if err != nil {
			rollback(restores)
		}
	}()
	return fn(context.WithValue(ctx, memTxKey{}, m))
}

// Lock acquires the manager lock for a single store operation unless ctx is
// already inside one of this manager's transactions.
func (m *MemManager) Lock(ctx context.Context) (unlock func()) {
	if m.inTx(ctx) {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *MemManager) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(memTxKey{}).(*MemManager)
	return owner == m
}

func rollback(restores []func()) {
	for i := len(restores) - 1; i >= 0; i-- {
		restores[i]()
	}
}
