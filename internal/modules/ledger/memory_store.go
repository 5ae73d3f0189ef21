// README: In-memory ledger store for development mode and tests.
package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"zemi/internal/txn"
	"zemi/internal/types"
)

type MemoryStore struct {
	tx     *txn.MemManager
	grants map[types.ID]Grant
	log    []Transaction
	refs   map[string]struct{}
}

func NewMemoryStore(tx *txn.MemManager) *MemoryStore {
	s := &MemoryStore{
		tx:     tx,
		grants: make(map[types.ID]Grant),
		refs:   make(map[string]struct{}),
	}
	tx.Register(s)
	return s
}

func (s *MemoryStore) Snapshot() func() {
	grants := make(map[types.ID]Grant, len(s.grants))
	for k, v := range s.grants {
		grants[k] = v
	}
	refs := make(map[string]struct{}, len(s.refs))
	for k := range s.refs {
		refs[k] = struct{}{}
	}
	n := len(s.log)
	return func() {
		s.grants = grants
		s.refs = refs
		s.log = s.log[:n]
	}
}

func (s *MemoryStore) CreateGrant(ctx context.Context, g *Grant) error {
	defer s.tx.Lock(ctx)()
	s.grants[g.ID] = *g
	return nil
}

func (s *MemoryStore) GetGrant(ctx context.Context, id types.ID) (*Grant, error) {
	defer s.tx.Lock(ctx)()
	g, ok := s.grants[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &g, nil
}

func (s *MemoryStore) ListGrants(ctx context.Context, ownerID types.ID) ([]Grant, error) {
	defer s.tx.Lock(ctx)()
	var out []Grant
	for _, g := range s.grants {
		if g.OwnerID == ownerID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PurchasedAt.Equal(out[j].PurchasedAt) {
			return out[i].PurchasedAt.After(out[j].PurchasedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) UsableGrants(ctx context.Context, ownerID types.ID, now time.Time) ([]Grant, error) {
	defer s.tx.Lock(ctx)()
	var out []Grant
	for _, g := range s.grants {
		if g.OwnerID == ownerID && g.Usable(now) {
			out = append(out, g)
		}
	}
	sortForAllocation(out)
	return out, nil
}

func (s *MemoryStore) ConsumeGrant(ctx context.Context, id types.ID, now time.Time) (bool, error) {
	defer s.tx.Lock(ctx)()
	g, ok := s.grants[id]
	if !ok || !g.Usable(now) {
		return false, nil
	}
	g.TripsRemaining--
	g.UpdatedAt = now
	s.grants[id] = g
	return true, nil
}

func (s *MemoryStore) TopUpGrant(ctx context.Context, id types.ID, trips int, expiresAt, now time.Time) error {
	defer s.tx.Lock(ctx)()
	g, ok := s.grants[id]
	if !ok {
		return ErrNotFound
	}
	g.TripsRemaining += trips
	g.TripsTotal += trips
	if expiresAt.After(g.ExpiresAt) {
		g.ExpiresAt = expiresAt
	}
	g.UpdatedAt = now
	s.grants[id] = g
	return nil
}

func (s *MemoryStore) RestoreGrant(ctx context.Context, id types.ID, now time.Time) error {
	defer s.tx.Lock(ctx)()
	g, ok := s.grants[id]
	if !ok {
		return ErrNotFound
	}
	if g.TripsRemaining < g.TripsTotal {
		g.TripsRemaining++
	}
	g.UpdatedAt = now
	s.grants[id] = g
	return nil
}

func (s *MemoryStore) AppendTransaction(ctx context.Context, t *Transaction) error {
	defer s.tx.Lock(ctx)()
	key := string(t.Kind) + "|" + t.Reference
	if _, dup := s.refs[key]; dup {
		return ErrDuplicateReference
	}
	s.refs[key] = struct{}{}
	s.log = append(s.log, *t)
	return nil
}

func (s *MemoryStore) ListTransactions(ctx context.Context, actorID types.ID, limit int) ([]Transaction, error) {
	defer s.tx.Lock(ctx)()
	var out []Transaction
	for i := len(s.log) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s.log[i].ActorID == actorID {
			out = append(out, s.log[i])
		}
	}
	return out, nil
}

func (s *MemoryStore) SumByKind(ctx context.Context, actorID types.ID, kind Kind) (decimal.Decimal, error) {
	defer s.tx.Lock(ctx)()
	sum := decimal.Zero
	for _, t := range s.log {
		if t.ActorID == actorID && t.Kind == kind && t.Status == TxCompleted {
			sum = sum.Add(t.Amount)
		}
	}
	return sum, nil
}
