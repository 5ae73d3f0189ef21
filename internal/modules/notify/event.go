// README: Trip lifecycle events and the Notifier contract for delivery backends.
package notify

import (
	"context"
	"time"

	"zemi/internal/types"
)

type EventType string

const (
	TripRequested EventType = "trip.requested"
	TripAccepted  EventType = "trip.accepted"
	TripStarted   EventType = "trip.started"
	TripCompleted EventType = "trip.completed"
	TripCancelled EventType = "trip.cancelled"
	TripExpired   EventType = "trip.expired"
)

// Event is published after the transaction that caused it has committed.
type Event struct {
	Type       EventType  `json:"type"`
	TripID     types.ID   `json:"trip_id"`
	ClientID   types.ID   `json:"client_id"`
	DriverID   *types.ID  `json:"driver_id,omitempty"`
	Status     string     `json:"status"`
	Recipients []types.ID `json:"recipients,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// Notifier delivers one event to one backend.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, e Event) error
}

// Publisher is what the core depends on. Publish never blocks and never fails.
type Publisher interface {
	Publish(e Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(Event) {}
