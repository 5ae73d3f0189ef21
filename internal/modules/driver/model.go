// README: Driver profile, paid subscriptions and the go-online eligibility rule.
package driver

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"zemi/internal/types"
)

type Activation string

const (
	ActivationActive   Activation = "active"
	ActivationInactive Activation = "inactive"
)

type Approval string

const (
	ApprovalPending  Approval = "pending"
	ApprovalApproved Approval = "approved"
	ApprovalRejected Approval = "rejected"
)

func (a Approval) Valid() bool {
	switch a {
	case ApprovalPending, ApprovalApproved, ApprovalRejected:
		return true
	}
	return false
}

func (a Activation) Valid() bool {
	return a == ActivationActive || a == ActivationInactive
}

// Profile is the driver's operating record. WalletBalance is mutated only
// by settlement and withdrawal.
type Profile struct {
	ID                  types.ID
	DriverID            types.ID
	Activation          Activation
	Approval            Approval
	WalletBalance       decimal.Decimal
	TrialTripsRemaining int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

type Subscription struct {
	ID        types.ID
	DriverID  types.ID
	StartsAt  time.Time
	EndsAt    time.Time
	Reference string
	CreatedAt time.Time
}

// ActiveAt reports startsAt <= now < endsAt.
func (s Subscription) ActiveAt(now time.Time) bool {
	return !now.Before(s.StartsAt) && now.Before(s.EndsAt)
}

// Eligibility explains CanGoOnline.
type Eligibility struct {
	DriverID            types.ID   `json:"driver_id"`
	Approved            bool       `json:"approved"`
	SubscriptionActive  bool       `json:"subscription_active"`
	SubscriptionEndsAt  *time.Time `json:"subscription_ends_at,omitempty"`
	TrialTripsRemaining int        `json:"trial_trips_remaining"`
	CanGoOnline         bool       `json:"can_go_online"`
}

// Eligible is the single go-online rule: approved, and either a paid
// subscription is running or trial trips remain.
func Eligible(p *Profile, subscribed bool) bool {
	return p.Approval == ApprovalApproved && (subscribed || p.TrialTripsRemaining > 0)
}

var (
	ErrNotFound              = errors.New("driver profile not found")
	ErrForbidden             = errors.New("forbidden")
	ErrSubscriptionRequired  = errors.New("subscription required")
	ErrBadRequest            = errors.New("bad request")
	ErrDuplicateSubscription = errors.New("subscription reference already used")
)
