// README: Ledger PgStore tests against PostgreSQL; skipped without ZEMI_TEST_DSN.
package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"zemi/internal/testutil"
	"zemi/internal/txn"
	"zemi/internal/types"
)

func newPgService(t *testing.T) (*Service, *PgStore) {
	t.Helper()
	db := testutil.OpenDB(t)
	store := NewStore(db)
	return NewService(store, txn.NewPgManager(db, txn.DefaultRetry)), store
}

func TestPgConsumeGrantNeverGoesNegative(t *testing.T) {
	ctx := context.Background()
	_, store := newPgService(t)
	now := time.Now().UTC()
	g := &Grant{ID: types.NewID(), OwnerID: "c1", TripsRemaining: 3, TripsTotal: 3, ExpiresAt: now.Add(time.Hour), PurchasedAt: now, UpdatedAt: now}
	if err := store.CreateGrant(ctx, g); err != nil {
		t.Fatalf("create grant: %v", err)
	}

	const attempts = 12
	var consumed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.ConsumeGrant(ctx, g.ID, time.Now().UTC())
			if err != nil {
				t.Errorf("consume: %v", err)
				return
			}
			if ok {
				consumed.Add(1)
			}
		}()
	}
	wg.Wait()

	if consumed.Load() != 3 {
		t.Fatalf("consumed %d credits, want 3", consumed.Load())
	}
	got, err := store.GetGrant(ctx, g.ID)
	if err != nil {
		t.Fatalf("get grant: %v", err)
	}
	if got.TripsRemaining != 0 {
		t.Fatalf("trips remaining = %d, want 0", got.TripsRemaining)
	}
}

func TestPgRestoreGrantStopsAtTotal(t *testing.T) {
	ctx := context.Background()
	_, store := newPgService(t)
	now := time.Now().UTC()
	g := &Grant{ID: types.NewID(), OwnerID: "c1", TripsRemaining: 1, TripsTotal: 2, ExpiresAt: now.Add(time.Hour), PurchasedAt: now, UpdatedAt: now}
	if err := store.CreateGrant(ctx, g); err != nil {
		t.Fatalf("create grant: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := store.RestoreGrant(ctx, g.ID, now); err != nil {
			t.Fatalf("restore: %v", err)
		}
	}
	got, _ := store.GetGrant(ctx, g.ID)
	if got.TripsRemaining != 2 {
		t.Fatalf("trips remaining = %d, want 2", got.TripsRemaining)
	}
	if err := store.RestoreGrant(ctx, "missing", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPgRepeatPurchaseTopsUpAndDuplicateRollsBack(t *testing.T) {
	ctx := context.Background()
	svc, store := newPgService(t)

	first, err := svc.GrantCredit(ctx, GrantCommand{ClientID: "c1", Trips: 10, ValidityDays: 7, Reference: "pi_a", AmountPaid: decimal.NewFromInt(9000)})
	if err != nil {
		t.Fatalf("first purchase: %v", err)
	}
	second, err := svc.GrantCredit(ctx, GrantCommand{ClientID: "c1", Trips: 5, ValidityDays: 30, Reference: "pi_b", AmountPaid: decimal.NewFromInt(4500)})
	if err != nil {
		t.Fatalf("second purchase: %v", err)
	}
	if second.ID != first.ID || second.TripsRemaining != 15 || second.TripsTotal != 15 {
		t.Fatalf("expected top-up of %s to 15 trips, got %+v", first.ID, second)
	}
	if !second.ExpiresAt.After(first.ExpiresAt) {
		t.Fatalf("expiry did not move to the later date: %v <= %v", second.ExpiresAt, first.ExpiresAt)
	}

	if _, err := svc.GrantCredit(ctx, GrantCommand{ClientID: "c1", Trips: 5, ValidityDays: 30, Reference: "pi_b", AmountPaid: decimal.NewFromInt(4500)}); !errors.Is(err, ErrDuplicatePurchase) {
		t.Fatalf("expected ErrDuplicatePurchase, got %v", err)
	}
	got, _ := store.GetGrant(ctx, first.ID)
	if got.TripsRemaining != 15 {
		t.Fatalf("duplicate purchase changed the grant: %+v", got)
	}
	txs, err := svc.History(ctx, "c1", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("expected two purchase rows, got %d", len(txs))
	}
	paid := decimal.Zero
	for _, row := range txs {
		paid = paid.Add(row.Amount)
	}
	if !paid.Equal(decimal.NewFromInt(13500)) {
		t.Fatalf("paid %s, want 13500", paid)
	}
}
