// README: Ledger service: credit purchase grants and transaction recording.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"zemi/internal/metrics"
	"zemi/internal/txn"
	"zemi/internal/types"
)

type Service struct {
	store Store
	tx    txn.Manager
	now   func() time.Time
}

func NewService(store Store, tx txn.Manager) *Service {
	return &Service{store: store, tx: tx, now: time.Now}
}

type GrantCommand struct {
	ClientID     types.ID
	Trips        int
	ValidityDays int
	// Reference identifies the confirmed payment; a repeated reference grants nothing.
	Reference  string
	AmountPaid decimal.Decimal
}

// GrantCredit credits a purchased forfait to a client. A repeat purchase made
// while the client still holds a usable grant tops that grant up instead of
// opening a new one: trips accumulate and the expiry moves to the later date.
func (s *Service) GrantCredit(ctx context.Context, cmd GrantCommand) (*Grant, error) {
	if cmd.ClientID == "" || cmd.Trips <= 0 || cmd.ValidityDays <= 0 {
		return nil, ErrBadRequest
	}
	if cmd.AmountPaid.IsNegative() {
		return nil, ErrInvalidAmount
	}
	if cmd.Reference == "" {
		cmd.Reference = string(types.NewID())
	}

	var granted *Grant
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		now := s.now().UTC()
		expiresAt := now.AddDate(0, 0, cmd.ValidityDays)

		if cmd.AmountPaid.IsPositive() {
			if err := s.store.AppendTransaction(ctx, &Transaction{
				ID:         types.NewID(),
				ActorID:    cmd.ClientID,
				Amount:     cmd.AmountPaid,
				Kind:       KindCreditPurchase,
				Status:     TxCompleted,
				Reference:  cmd.Reference,
				RecordedAt: now,
			}); err != nil {
				if errors.Is(err, ErrDuplicateReference) {
					return ErrDuplicatePurchase
				}
				return err
			}
		}

		usable, err := s.store.UsableGrants(ctx, cmd.ClientID, now)
		if err != nil {
			return err
		}
		if len(usable) > 0 {
			target := usable[len(usable)-1]
			if err := s.store.TopUpGrant(ctx, target.ID, cmd.Trips, expiresAt, now); err != nil {
				return fmt.Errorf("top up grant %s: %w", target.ID, err)
			}
			granted, err = s.store.GetGrant(ctx, target.ID)
			return err
		}

		g := &Grant{
			ID:             types.NewID(),
			OwnerID:        cmd.ClientID,
			TripsRemaining: cmd.Trips,
			TripsTotal:     cmd.Trips,
			ExpiresAt:      expiresAt,
			PurchasedAt:    now,
			UpdatedAt:      now,
		}
		if err := s.store.CreateGrant(ctx, g); err != nil {
			return err
		}
		granted = g
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.CreditsGranted.Add(float64(cmd.Trips))
	return granted, nil
}

// ListGrants returns every grant owned by the client, newest purchase first.
func (s *Service) ListGrants(ctx context.Context, ownerID types.ID) ([]Grant, error) {
	return s.store.ListGrants(ctx, ownerID)
}

// Record appends a ledger row, joining the caller's transaction if ctx carries one.
func (s *Service) Record(ctx context.Context, t Transaction) (*Transaction, error) {
	if !t.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if t.ID == "" {
		t.ID = types.NewID()
	}
	if t.Reference == "" {
		t.Reference = string(t.ID)
	}
	if t.Status == "" {
		t.Status = TxCompleted
	}
	if t.RecordedAt.IsZero() {
		t.RecordedAt = s.now().UTC()
	}
	if err := s.store.AppendTransaction(ctx, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Service) History(ctx context.Context, actorID types.ID, limit int) ([]Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListTransactions(ctx, actorID, limit)
}

// Earnings returns completed trip earnings minus completed withdrawals for a driver.
// It equals the wallet balance when the ledger and wallet are consistent.
func (s *Service) Earnings(ctx context.Context, driverID types.ID) (decimal.Decimal, error) {
	earned, err := s.store.SumByKind(ctx, driverID, KindTripEarning)
	if err != nil {
		return decimal.Zero, err
	}
	withdrawn, err := s.store.SumByKind(ctx, driverID, KindWithdrawal)
	if err != nil {
		return decimal.Zero, err
	}
	return earned.Sub(withdrawn), nil
}
