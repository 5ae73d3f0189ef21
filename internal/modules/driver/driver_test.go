// README: Availability gate tests against the in-memory store.
package driver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"zemi/internal/txn"
	"zemi/internal/types"
)

type fakePresence struct {
	mu     sync.Mutex
	online map[types.ID]bool
}

func (f *fakePresence) SetOnline(_ context.Context, id types.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[id] = true
	return nil
}

func (f *fakePresence) SetOffline(_ context.Context, id types.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.online, id)
	return nil
}

func (f *fakePresence) isOnline(id types.ID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[id]
}

var admin = types.Actor{ID: "admin1", Role: types.RoleAdmin}

func newTestService(t *testing.T, trial int) (*Service, *MemoryStore, *fakePresence, *time.Time) {
	t.Helper()
	tx := txn.NewMemManager()
	store := NewMemoryStore(tx)
	presence := &fakePresence{online: make(map[types.ID]bool)}
	svc := NewService(store, tx, Options{TrialTrips: trial, Presence: presence})
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	return svc, store, presence, &now
}

func driverActor(id types.ID) types.Actor {
	return types.Actor{ID: id, Role: types.RoleDriver}
}

func TestPendingDriverCannotActivate(t *testing.T) {
	ctx := context.Background()
	svc, store, _, _ := newTestService(t, 3)

	if _, err := svc.Profile(ctx, "d1"); err != nil {
		t.Fatalf("profile: %v", err)
	}
	_, err := svc.SetActivation(ctx, driverActor("d1"), "d1", ActivationActive)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	p, _ := store.GetProfile(ctx, "d1")
	if p.Activation != ActivationInactive {
		t.Fatalf("activation changed to %s", p.Activation)
	}
}

func TestApprovedDriverWithTrialGoesOnline(t *testing.T) {
	ctx := context.Background()
	svc, _, presence, _ := newTestService(t, 3)

	if _, err := svc.SetApproval(ctx, admin, "d1", ApprovalApproved); err != nil {
		t.Fatalf("approve: %v", err)
	}
	ok, err := svc.CanGoOnline(ctx, "d1")
	if err != nil || !ok {
		t.Fatalf("can go online: ok=%v err=%v", ok, err)
	}
	p, err := svc.SetActivation(ctx, driverActor("d1"), "d1", ActivationActive)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if p.Activation != ActivationActive || !presence.isOnline("d1") {
		t.Fatalf("driver should be online: %+v", p)
	}
	if err := svc.CheckCanAccept(ctx, "d1"); err != nil {
		t.Fatalf("check can accept: %v", err)
	}

	if _, err := svc.SetActivation(ctx, driverActor("d1"), "d1", ActivationInactive); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if presence.isOnline("d1") {
		t.Fatalf("driver should be offline")
	}
}

func TestNoTrialNoSubscriptionRequiresSubscription(t *testing.T) {
	ctx := context.Background()
	svc, _, _, now := newTestService(t, 0)

	if _, err := svc.SetApproval(ctx, admin, "d1", ApprovalApproved); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := svc.SetActivation(ctx, driverActor("d1"), "d1", ActivationActive); !errors.Is(err, ErrSubscriptionRequired) {
		t.Fatalf("expected ErrSubscriptionRequired, got %v", err)
	}

	sub, err := svc.GrantSubscription(ctx, "d1", 30, "pi_sub")
	if err != nil {
		t.Fatalf("grant subscription: %v", err)
	}
	if !sub.StartsAt.Equal(*now) {
		t.Fatalf("subscription should start now, got %v", sub.StartsAt)
	}
	if _, err := svc.SetActivation(ctx, driverActor("d1"), "d1", ActivationActive); err != nil {
		t.Fatalf("activate with subscription: %v", err)
	}

	*now = now.AddDate(0, 0, 31)
	ok, err := svc.CanGoOnline(ctx, "d1")
	if err != nil || ok {
		t.Fatalf("lapsed subscription must not allow online: ok=%v err=%v", ok, err)
	}
	if err := svc.CheckCanAccept(ctx, "d1"); !errors.Is(err, ErrSubscriptionRequired) {
		t.Fatalf("expected ErrSubscriptionRequired on accept, got %v", err)
	}
}

func TestSubscriptionRenewalExtendsRunningPeriod(t *testing.T) {
	ctx := context.Background()
	svc, _, _, now := newTestService(t, 0)

	first, err := svc.GrantSubscription(ctx, "d1", 30, "a")
	if err != nil {
		t.Fatalf("first subscription: %v", err)
	}
	second, err := svc.GrantSubscription(ctx, "d1", 30, "b")
	if err != nil {
		t.Fatalf("second subscription: %v", err)
	}
	if !second.StartsAt.Equal(first.EndsAt) {
		t.Fatalf("renewal starts %v, want %v", second.StartsAt, first.EndsAt)
	}
	if _, err := svc.GrantSubscription(ctx, "d1", 30, "a"); !errors.Is(err, ErrDuplicateSubscription) {
		t.Fatalf("expected ErrDuplicateSubscription, got %v", err)
	}

	*now = now.AddDate(0, 0, 45)
	e, err := svc.Eligibility(ctx, "d1")
	if err != nil {
		t.Fatalf("eligibility: %v", err)
	}
	if !e.SubscriptionActive || e.SubscriptionEndsAt == nil || !e.SubscriptionEndsAt.Equal(second.EndsAt) {
		t.Fatalf("expected renewed period active: %+v", e)
	}
}

func TestSetActivationAuthorization(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t, 3)
	if _, err := svc.SetApproval(ctx, admin, "d1", ApprovalApproved); err != nil {
		t.Fatalf("approve: %v", err)
	}

	cases := []struct {
		name  string
		actor types.Actor
		want  error
	}{
		{"other driver", driverActor("d2"), ErrForbidden},
		{"client", types.Actor{ID: "d1", Role: types.RoleClient}, ErrForbidden},
		{"self", driverActor("d1"), nil},
		{"admin", admin, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.SetActivation(ctx, tc.actor, "d1", ActivationActive)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestRejectForcesOffline(t *testing.T) {
	ctx := context.Background()
	svc, _, presence, _ := newTestService(t, 3)

	if _, err := svc.SetApproval(ctx, admin, "d1", ApprovalApproved); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := svc.SetActivation(ctx, driverActor("d1"), "d1", ActivationActive); err != nil {
		t.Fatalf("activate: %v", err)
	}
	p, err := svc.SetApproval(ctx, admin, "d1", ApprovalRejected)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if p.Activation != ActivationInactive || presence.isOnline("d1") {
		t.Fatalf("rejected driver must be offline: %+v", p)
	}
	if err := svc.CheckCanAccept(ctx, "d1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.SetApproval(ctx, driverActor("d1"), "d1", ApprovalApproved); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-admin approval must be forbidden, got %v", err)
	}
}

func TestUnknownDriverGate(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t, 3)

	ok, err := svc.CanGoOnline(ctx, "ghost")
	if err != nil || ok {
		t.Fatalf("unknown driver: ok=%v err=%v", ok, err)
	}
	if err := svc.CheckCanAccept(ctx, "ghost"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.SetActivation(ctx, driverActor("ghost"), "ghost", ActivationActive); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSweepWalletIsConditional(t *testing.T) {
	ctx := context.Background()
	svc, store, _, now := newTestService(t, 3)
	if _, err := svc.Profile(ctx, "d1"); err != nil {
		t.Fatalf("profile: %v", err)
	}
	swept, err := store.SweepWallet(ctx, "d1", *now)
	if err != nil || !swept.IsZero() {
		t.Fatalf("empty sweep: %s %v", swept, err)
	}
}
