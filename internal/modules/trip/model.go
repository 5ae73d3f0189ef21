// README: Trip aggregate, lifecycle states and the transition table.
package trip

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"zemi/internal/types"
)

type Status string

const (
	StatusNone       Status = "none"
	StatusRequested  Status = "requested"
	StatusAccepted   Status = "accepted"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusExpired    Status = "expired"
)

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusExpired
}

type EventName string

const (
	EventAccept   EventName = "accept"
	EventStart    EventName = "start"
	EventComplete EventName = "complete"
	EventCancel   EventName = "cancel"
	EventExpire   EventName = "expire"
)

type Trip struct {
	ID            types.ID
	ClientID      types.ID
	DriverID      *types.ID
	Origin        types.Point
	Destination   *types.Point
	Status        Status
	StatusVersion int
	Fare          decimal.Decimal
	CreditGrantID types.ID
	RequestedAt   time.Time
	AcceptedAt    *time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	CancelledAt   *time.Time
	ExpiredAt     *time.Time
	CancelledBy   *types.ID
	CancelReason  *string
}

// AssignedTo reports whether driverID is the trip's assigned driver.
func (t *Trip) AssignedTo(driverID types.ID) bool {
	return t.DriverID != nil && *t.DriverID == driverID
}

// Party reports whether the actor is the trip's client or assigned driver.
func (t *Trip) Party(id types.ID) bool {
	return t.ClientID == id || t.AssignedTo(id)
}

// StateEvent is one row of the append-only transition log.
type StateEvent struct {
	ID         int64
	TripID     types.ID
	FromStatus Status
	ToStatus   Status
	ActorRole  types.Role
	ActorID    *types.ID
	CreatedAt  time.Time
}

// transitions is the trip state flow as code. A (status, event) pair that is
// absent here is illegal whoever asks.
var transitions = map[Status]map[EventName]Status{
	StatusRequested: {
		EventAccept: StatusAccepted,
		EventExpire: StatusExpired,
	},
	StatusAccepted: {
		EventStart:  StatusInProgress,
		EventCancel: StatusCancelled,
	},
	StatusInProgress: {
		EventComplete: StatusCompleted,
		EventCancel:   StatusCancelled,
	},
}

// targets names the status each event leads to, for error reporting.
var targets = map[EventName]Status{
	EventAccept:   StatusAccepted,
	EventStart:    StatusInProgress,
	EventComplete: StatusCompleted,
	EventCancel:   StatusCancelled,
	EventExpire:   StatusExpired,
}

// Next returns the status reached by ev from the given status.
func Next(from Status, ev EventName) (Status, bool) {
	to, ok := transitions[from][ev]
	return to, ok
}

func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Authorized applies the actor column of the transition table to a legal pair.
// Accept additionally requires the availability gate, checked by the service.
func Authorized(t *Trip, ev EventName, a types.Actor) bool {
	switch ev {
	case EventAccept:
		return a.Is(types.RoleDriver)
	case EventStart, EventComplete:
		return a.Is(types.RoleDriver) && t.AssignedTo(a.ID)
	case EventCancel:
		if a.Is(types.RoleDriver) && t.AssignedTo(a.ID) {
			return true
		}
		return t.Status == StatusAccepted && a.Is(types.RoleClient) && t.ClientID == a.ID
	case EventExpire:
		return a.Is(types.RoleSystem)
	}
	return false
}

var (
	ErrNotFound          = errors.New("trip not found")
	ErrBadRequest        = errors.New("bad request")
	ErrForbidden         = errors.New("forbidden")
	ErrIllegalTransition = errors.New("illegal trip transition")
	ErrNoLongerAvailable = errors.New("trip no longer available")
	ErrDriverBusy        = errors.New("driver already has an active trip")
	ErrConflict          = errors.New("trip state conflict")
)

// IllegalTransitionError carries the rejected pair and matches ErrIllegalTransition.
type IllegalTransitionError struct {
	From Status
	To   Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal trip transition %s -> %s", e.From, e.To)
}

func (e *IllegalTransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

// rejection is the error for ev attempted from a status that has no such
// edge. An accept on a trip another driver already holds is reported as
// ErrNoLongerAvailable, the same outcome as losing the accept race.
func rejection(from Status, ev EventName) error {
	if ev == EventAccept && (from == StatusAccepted || from == StatusInProgress) {
		return ErrNoLongerAvailable
	}
	return &IllegalTransitionError{From: from, To: targets[ev]}
}
