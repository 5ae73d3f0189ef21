// README: In-memory driver store for development mode and tests.
package driver

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"zemi/internal/txn"
	"zemi/internal/types"
)

type MemoryStore struct {
	tx       *txn.MemManager
	profiles map[types.ID]Profile
	subs     []Subscription
	refs     map[string]struct{}
}

func NewMemoryStore(tx *txn.MemManager) *MemoryStore {
	s := &MemoryStore{
		tx:       tx,
		profiles: make(map[types.ID]Profile),
		refs:     make(map[string]struct{}),
	}
	tx.Register(s)
	return s
}

func (s *MemoryStore) Snapshot() func() {
	profiles := make(map[types.ID]Profile, len(s.profiles))
	for k, v := range s.profiles {
		profiles[k] = v
	}
	refs := make(map[string]struct{}, len(s.refs))
	for k := range s.refs {
		refs[k] = struct{}{}
	}
	n := len(s.subs)
	return func() {
		s.profiles = profiles
		s.refs = refs
		s.subs = s.subs[:n]
	}
}

func (s *MemoryStore) EnsureProfile(ctx context.Context, driverID types.ID, trialTrips int, now time.Time) (*Profile, error) {
	defer s.tx.Lock(ctx)()
	p, ok := s.profiles[driverID]
	if !ok {
		p = Profile{
			ID:                  types.NewID(),
			DriverID:            driverID,
			Activation:          ActivationInactive,
			Approval:            ApprovalPending,
			WalletBalance:       decimal.Zero,
			TrialTripsRemaining: trialTrips,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		s.profiles[driverID] = p
	}
	return &p, nil
}

func (s *MemoryStore) GetProfile(ctx context.Context, driverID types.ID) (*Profile, error) {
	defer s.tx.Lock(ctx)()
	p, ok := s.profiles[driverID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

// GetProfileForUpdate needs no row lock: every transaction holds the manager lock.
func (s *MemoryStore) GetProfileForUpdate(ctx context.Context, driverID types.ID) (*Profile, error) {
	return s.GetProfile(ctx, driverID)
}

func (s *MemoryStore) SetApproval(ctx context.Context, driverID types.ID, approval Approval, now time.Time) error {
	return s.update(ctx, driverID, func(p *Profile) { p.Approval = approval; p.UpdatedAt = now })
}

func (s *MemoryStore) SetActivation(ctx context.Context, driverID types.ID, activation Activation, now time.Time) error {
	return s.update(ctx, driverID, func(p *Profile) { p.Activation = activation; p.UpdatedAt = now })
}

func (s *MemoryStore) CreditWallet(ctx context.Context, driverID types.ID, amount decimal.Decimal, now time.Time) error {
	return s.update(ctx, driverID, func(p *Profile) { p.WalletBalance = p.WalletBalance.Add(amount); p.UpdatedAt = now })
}

func (s *MemoryStore) ConsumeTrial(ctx context.Context, driverID types.ID, now time.Time) (bool, error) {
	consumed := false
	err := s.update(ctx, driverID, func(p *Profile) {
		if p.TrialTripsRemaining > 0 {
			p.TrialTripsRemaining--
			p.UpdatedAt = now
			consumed = true
		}
	})
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return consumed, err
}

func (s *MemoryStore) SweepWallet(ctx context.Context, driverID types.ID, now time.Time) (decimal.Decimal, error) {
	swept := decimal.Zero
	err := s.update(ctx, driverID, func(p *Profile) {
		if p.WalletBalance.IsPositive() {
			swept = p.WalletBalance
			p.WalletBalance = decimal.Zero
			p.UpdatedAt = now
		}
	})
	if errors.Is(err, ErrNotFound) {
		return decimal.Zero, nil
	}
	return swept, err
}

func (s *MemoryStore) ActiveSubscription(ctx context.Context, driverID types.ID, now time.Time) (*Subscription, error) {
	defer s.tx.Lock(ctx)()
	var best *Subscription
	for i := range s.subs {
		sub := s.subs[i]
		if sub.DriverID != driverID || !sub.ActiveAt(now) {
			continue
		}
		if best == nil || sub.EndsAt.After(best.EndsAt) {
			best = &sub
		}
	}
	return best, nil
}

func (s *MemoryStore) CreateSubscription(ctx context.Context, sub *Subscription) error {
	defer s.tx.Lock(ctx)()
	if _, dup := s.refs[sub.Reference]; dup {
		return ErrDuplicateSubscription
	}
	s.refs[sub.Reference] = struct{}{}
	s.subs = append(s.subs, *sub)
	return nil
}

func (s *MemoryStore) update(ctx context.Context, driverID types.ID, fn func(p *Profile)) error {
	defer s.tx.Lock(ctx)()
	p, ok := s.profiles[driverID]
	if !ok {
		return ErrNotFound
	}
	fn(&p)
	s.profiles[driverID] = p
	return nil
}
