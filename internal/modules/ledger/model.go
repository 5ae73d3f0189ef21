// README: Credit grants (forfaits) and the append-only ledger transaction log.
package ledger

import (
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"zemi/internal/types"
)

type Kind string

const (
	KindCreditPurchase Kind = "credit_purchase"
	KindTripEarning    Kind = "trip_earning"
	KindWithdrawal     Kind = "withdrawal"
)

type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxCompleted TxStatus = "completed"
	TxFailed    TxStatus = "failed"
)

// Grant is a purchased bundle of trip credits. It is never deleted, only exhausted.
type Grant struct {
	ID             types.ID
	OwnerID        types.ID
	TripsRemaining int
	TripsTotal     int
	ExpiresAt      time.Time
	PurchasedAt    time.Time
	UpdatedAt      time.Time
}

// Usable reports whether the grant can pay for a trip requested at now.
func (g Grant) Usable(now time.Time) bool {
	return g.TripsRemaining > 0 && now.Before(g.ExpiresAt)
}

// Transaction is one ledger row. Amount is always positive; Kind gives the direction.
type Transaction struct {
	ID         types.ID
	ActorID    types.ID
	Amount     decimal.Decimal
	Kind       Kind
	Status     TxStatus
	Reference  string
	TripID     *types.ID
	RecordedAt time.Time
}

var (
	ErrNotFound           = errors.New("credit grant not found")
	ErrBadRequest         = errors.New("bad request")
	ErrInvalidAmount      = errors.New("ledger amount must be positive")
	ErrDuplicateReference = errors.New("ledger reference already recorded")
	ErrDuplicatePurchase  = errors.New("purchase already credited")
)

// sortForAllocation orders grants earliest-expiring first, then oldest
// purchase, then id, so the allocator's choice is deterministic.
func sortForAllocation(grants []Grant) {
	sort.SliceStable(grants, func(i, j int) bool {
		a, b := grants[i], grants[j]
		if !a.ExpiresAt.Equal(b.ExpiresAt) {
			return a.ExpiresAt.Before(b.ExpiresAt)
		}
		if !a.PurchasedAt.Equal(b.PurchasedAt) {
			return a.PurchasedAt.Before(b.PurchasedAt)
		}
		return a.ID < b.ID
	})
}
