// README: JSON views of core records.
package handlers

import (
	"time"

	"github.com/shopspring/decimal"

	"zemi/internal/modules/driver"
	"zemi/internal/modules/ledger"
	"zemi/internal/modules/trip"
	"zemi/internal/types"
)

type tripView struct {
	ID           types.ID        `json:"trip_id"`
	ClientID     types.ID        `json:"client_id"`
	DriverID     *types.ID       `json:"driver_id,omitempty"`
	Origin       types.Point     `json:"origin"`
	Destination  *types.Point    `json:"destination,omitempty"`
	Status       trip.Status     `json:"status"`
	Fare         decimal.Decimal `json:"fare"`
	RequestedAt  time.Time       `json:"requested_at"`
	AcceptedAt   *time.Time      `json:"accepted_at,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	CancelledAt  *time.Time      `json:"cancelled_at,omitempty"`
	ExpiredAt    *time.Time      `json:"expired_at,omitempty"`
	CancelledBy  *types.ID       `json:"cancelled_by,omitempty"`
	CancelReason *string         `json:"cancel_reason,omitempty"`
}

func viewTrip(t *trip.Trip) tripView {
	return tripView{
		ID:           t.ID,
		ClientID:     t.ClientID,
		DriverID:     t.DriverID,
		Origin:       t.Origin,
		Destination:  t.Destination,
		Status:       t.Status,
		Fare:         t.Fare,
		RequestedAt:  t.RequestedAt,
		AcceptedAt:   t.AcceptedAt,
		StartedAt:    t.StartedAt,
		CompletedAt:  t.CompletedAt,
		CancelledAt:  t.CancelledAt,
		ExpiredAt:    t.ExpiredAt,
		CancelledBy:  t.CancelledBy,
		CancelReason: t.CancelReason,
	}
}

type eventView struct {
	From      trip.Status `json:"from"`
	To        trip.Status `json:"to"`
	ActorRole types.Role  `json:"actor_role"`
	ActorID   *types.ID   `json:"actor_id,omitempty"`
	At        time.Time   `json:"at"`
}

type grantView struct {
	ID             types.ID  `json:"grant_id"`
	TripsRemaining int       `json:"trips_remaining"`
	TripsTotal     int       `json:"trips_total"`
	ExpiresAt      time.Time `json:"expires_at"`
	PurchasedAt    time.Time `json:"purchased_at"`
	Usable         bool      `json:"usable"`
}

func viewGrant(g *ledger.Grant, now time.Time) grantView {
	return grantView{
		ID:             g.ID,
		TripsRemaining: g.TripsRemaining,
		TripsTotal:     g.TripsTotal,
		ExpiresAt:      g.ExpiresAt,
		PurchasedAt:    g.PurchasedAt,
		Usable:         g.Usable(now),
	}
}

type transactionView struct {
	ID         types.ID        `json:"transaction_id"`
	Amount     decimal.Decimal `json:"amount"`
	Kind       ledger.Kind     `json:"kind"`
	Status     ledger.TxStatus `json:"status"`
	Reference  string          `json:"reference"`
	TripID     *types.ID       `json:"trip_id,omitempty"`
	RecordedAt time.Time       `json:"recorded_at"`
}

func viewTransaction(t *ledger.Transaction) transactionView {
	return transactionView{
		ID:         t.ID,
		Amount:     t.Amount,
		Kind:       t.Kind,
		Status:     t.Status,
		Reference:  t.Reference,
		TripID:     t.TripID,
		RecordedAt: t.RecordedAt,
	}
}

type profileView struct {
	DriverID            types.ID          `json:"driver_id"`
	Activation          driver.Activation `json:"activation"`
	Approval            driver.Approval   `json:"approval"`
	WalletBalance       decimal.Decimal   `json:"wallet_balance"`
	TrialTripsRemaining int               `json:"trial_trips_remaining"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

func viewProfile(p *driver.Profile) profileView {
	return profileView{
		DriverID:            p.DriverID,
		Activation:          p.Activation,
		Approval:            p.Approval,
		WalletBalance:       p.WalletBalance,
		TrialTripsRemaining: p.TrialTripsRemaining,
		UpdatedAt:           p.UpdatedAt,
	}
}

type subscriptionView struct {
	ID       types.ID  `json:"subscription_id"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}
