// README: Ledger service tests against the in-memory store.
package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"zemi/internal/txn"
	"zemi/internal/types"
)

func newTestService(t *testing.T) (*Service, *MemoryStore, *time.Time) {
	t.Helper()
	tx := txn.NewMemManager()
	store := NewMemoryStore(tx)
	svc := NewService(store, tx)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	return svc, store, &now
}

func TestGrantCreditCreatesGrantAndPurchaseRow(t *testing.T) {
	ctx := context.Background()
	svc, store, now := newTestService(t)

	g, err := svc.GrantCredit(ctx, GrantCommand{
		ClientID: "c1", Trips: 10, ValidityDays: 30,
		Reference: "pi_1", AmountPaid: decimal.NewFromInt(5000),
	})
	if err != nil {
		t.Fatalf("grant credit: %v", err)
	}
	if g.TripsRemaining != 10 || g.TripsTotal != 10 {
		t.Fatalf("unexpected trips: %+v", g)
	}
	if want := now.AddDate(0, 0, 30); !g.ExpiresAt.Equal(want) {
		t.Fatalf("expires_at = %v, want %v", g.ExpiresAt, want)
	}

	txs, err := store.ListTransactions(ctx, "c1", 10)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txs) != 1 || txs[0].Kind != KindCreditPurchase || !txs[0].Amount.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("unexpected ledger rows: %+v", txs)
	}
}

func TestGrantCreditDuplicateReferenceGrantsNothing(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)

	cmd := GrantCommand{ClientID: "c1", Trips: 5, ValidityDays: 7, Reference: "pi_dup", AmountPaid: decimal.NewFromInt(2500)}
	if _, err := svc.GrantCredit(ctx, cmd); err != nil {
		t.Fatalf("first grant: %v", err)
	}
	if _, err := svc.GrantCredit(ctx, cmd); !errors.Is(err, ErrDuplicatePurchase) {
		t.Fatalf("expected ErrDuplicatePurchase, got %v", err)
	}

	grants, _ := store.ListGrants(ctx, "c1")
	if len(grants) != 1 || grants[0].TripsRemaining != 5 {
		t.Fatalf("duplicate purchase changed grants: %+v", grants)
	}
}

func TestGrantCreditTopsUpUsableGrant(t *testing.T) {
	ctx := context.Background()
	svc, store, now := newTestService(t)

	first, err := svc.GrantCredit(ctx, GrantCommand{ClientID: "c1", Trips: 3, ValidityDays: 7, Reference: "a", AmountPaid: decimal.NewFromInt(1)})
	if err != nil {
		t.Fatalf("first grant: %v", err)
	}
	*now = now.Add(24 * time.Hour)
	second, err := svc.GrantCredit(ctx, GrantCommand{ClientID: "c1", Trips: 2, ValidityDays: 30, Reference: "b", AmountPaid: decimal.NewFromInt(1)})
	if err != nil {
		t.Fatalf("second grant: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected top-up of %s, got new grant %s", first.ID, second.ID)
	}
	if second.TripsRemaining != 5 || second.TripsTotal != 5 {
		t.Fatalf("unexpected trips after top-up: %+v", second)
	}
	if want := now.AddDate(0, 0, 30); !second.ExpiresAt.Equal(want) {
		t.Fatalf("expires_at = %v, want %v", second.ExpiresAt, want)
	}
	grants, _ := store.ListGrants(ctx, "c1")
	if len(grants) != 1 {
		t.Fatalf("expected one grant, got %d", len(grants))
	}
}

func TestGrantCreditAfterExpiryOpensNewGrant(t *testing.T) {
	ctx := context.Background()
	svc, store, now := newTestService(t)

	if _, err := svc.GrantCredit(ctx, GrantCommand{ClientID: "c1", Trips: 1, ValidityDays: 1, Reference: "a"}); err != nil {
		t.Fatalf("first grant: %v", err)
	}
	*now = now.AddDate(0, 0, 2)
	if _, err := svc.GrantCredit(ctx, GrantCommand{ClientID: "c1", Trips: 1, ValidityDays: 1, Reference: "b"}); err != nil {
		t.Fatalf("second grant: %v", err)
	}
	grants, _ := store.ListGrants(ctx, "c1")
	if len(grants) != 2 {
		t.Fatalf("expected two grants, got %d", len(grants))
	}
}

func TestGrantCreditValidation(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	cases := []struct {
		name string
		cmd  GrantCommand
		want error
	}{
		{"missing client", GrantCommand{Trips: 1, ValidityDays: 1}, ErrBadRequest},
		{"zero trips", GrantCommand{ClientID: "c", ValidityDays: 1}, ErrBadRequest},
		{"zero validity", GrantCommand{ClientID: "c", Trips: 1}, ErrBadRequest},
		{"negative amount", GrantCommand{ClientID: "c", Trips: 1, ValidityDays: 1, AmountPaid: decimal.NewFromInt(-1)}, ErrInvalidAmount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.GrantCredit(ctx, tc.cmd); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestConsumeAndRestoreGrant(t *testing.T) {
	ctx := context.Background()
	svc, store, now := newTestService(t)

	g, err := svc.GrantCredit(ctx, GrantCommand{ClientID: "c1", Trips: 1, ValidityDays: 1})
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	ok, err := store.ConsumeGrant(ctx, g.ID, *now)
	if err != nil || !ok {
		t.Fatalf("first consume: ok=%v err=%v", ok, err)
	}
	ok, err = store.ConsumeGrant(ctx, g.ID, *now)
	if err != nil || ok {
		t.Fatalf("second consume should fail: ok=%v err=%v", ok, err)
	}

	if err := store.RestoreGrant(ctx, g.ID, *now); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if err := store.RestoreGrant(ctx, g.ID, *now); err != nil {
		t.Fatalf("restore: %v", err)
	}
	got, _ := store.GetGrant(ctx, g.ID)
	if got.TripsRemaining != 1 {
		t.Fatalf("restore must cap at trips_total, got %d", got.TripsRemaining)
	}

	ok, _ = store.ConsumeGrant(ctx, g.ID, now.AddDate(0, 0, 2))
	if ok {
		t.Fatalf("expired grant must not be consumable")
	}
}

func TestUsableGrantsAllocationOrder(t *testing.T) {
	ctx := context.Background()
	tx := txn.NewMemManager()
	store := NewMemoryStore(tx)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	grants := []Grant{
		{ID: "late", OwnerID: "c", TripsRemaining: 1, TripsTotal: 1, ExpiresAt: base.AddDate(0, 0, 20), PurchasedAt: base},
		{ID: "b", OwnerID: "c", TripsRemaining: 1, TripsTotal: 1, ExpiresAt: base.AddDate(0, 0, 10), PurchasedAt: base},
		{ID: "a", OwnerID: "c", TripsRemaining: 1, TripsTotal: 1, ExpiresAt: base.AddDate(0, 0, 10), PurchasedAt: base},
		{ID: "empty", OwnerID: "c", TripsRemaining: 0, TripsTotal: 1, ExpiresAt: base.AddDate(0, 0, 1), PurchasedAt: base},
		{ID: "gone", OwnerID: "c", TripsRemaining: 1, TripsTotal: 1, ExpiresAt: base, PurchasedAt: base},
	}
	for i := range grants {
		if err := store.CreateGrant(ctx, &grants[i]); err != nil {
			t.Fatalf("create grant: %v", err)
		}
	}

	usable, err := store.UsableGrants(ctx, "c", base.Add(time.Hour))
	if err != nil {
		t.Fatalf("usable grants: %v", err)
	}
	var ids []types.ID
	for _, g := range usable {
		ids = append(ids, g.ID)
	}
	want := []types.ID{"a", "b", "late"}
	if len(ids) != len(want) {
		t.Fatalf("got %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("got %v, want %v", ids, want)
		}
	}
}

func TestRecordRollsBackWithTransaction(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)
	boom := errors.New("boom")

	err := svc.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := svc.Record(ctx, Transaction{ActorID: "d1", Amount: decimal.NewFromInt(1000), Kind: KindTripEarning}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	txs, _ := store.ListTransactions(ctx, "d1", 0)
	if len(txs) != 0 {
		t.Fatalf("rolled back row survived: %+v", txs)
	}
}

func TestEarningsNetsWithdrawals(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	for _, tx := range []Transaction{
		{ActorID: "d1", Amount: decimal.NewFromInt(1000), Kind: KindTripEarning, Reference: "t1"},
		{ActorID: "d1", Amount: decimal.NewFromInt(500), Kind: KindTripEarning, Reference: "t2"},
		{ActorID: "d1", Amount: decimal.NewFromInt(1200), Kind: KindWithdrawal, Reference: "w1"},
	} {
		if _, err := svc.Record(ctx, tx); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	got, err := svc.Earnings(ctx, "d1")
	if err != nil {
		t.Fatalf("earnings: %v", err)
	}
	if !got.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("earnings = %s, want 300", got)
	}
	if _, err := svc.Record(ctx, Transaction{ActorID: "d1", Amount: decimal.Zero, Kind: KindWithdrawal}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}
