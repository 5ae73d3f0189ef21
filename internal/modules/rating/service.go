// README: Rating service validates the rater against the completed trip.
package rating

import (
	"context"
	"strings"
	"time"

	"zemi/internal/modules/trip"
	"zemi/internal/types"
)

// Trips reads the trip being rated.
type Trips interface {
	Get(ctx context.Context, id types.ID) (*trip.Trip, error)
}

type Service struct {
	store Store
	trips Trips
	now   func() time.Time
}

func NewService(store Store, trips Trips) *Service {
	return &Service{store: store, trips: trips, now: time.Now}
}

type RateCommand struct {
	TripID  types.ID
	Score   int
	Comment string
}

// Rate records the rater's score for the other party of a completed trip.
// The direction follows from which side of the trip the rater is on.
func (s *Service) Rate(ctx context.Context, actor types.Actor, cmd RateCommand) (*Rating, error) {
	if cmd.Score < 1 || cmd.Score > 5 {
		return nil, ErrInvalidScore
	}
	comment := strings.TrimSpace(cmd.Comment)
	if len(comment) > maxCommentLen {
		return nil, ErrBadRequest
	}
	t, err := s.trips.Get(ctx, cmd.TripID)
	if err != nil {
		return nil, err
	}
	if t.Status != trip.StatusCompleted {
		return nil, ErrTripNotCompleted
	}

	r := &Rating{
		ID:        types.NewID(),
		TripID:    t.ID,
		RaterID:   actor.ID,
		Score:     cmd.Score,
		Comment:   comment,
		CreatedAt: s.now().UTC(),
	}
	switch {
	case actor.Is(types.RoleClient) && actor.ID == t.ClientID:
		r.Direction, r.RatedID = ClientToDriver, *t.DriverID
	case actor.Is(types.RoleDriver) && t.AssignedTo(actor.ID):
		r.Direction, r.RatedID = DriverToClient, t.ClientID
	default:
		return nil, ErrNotAParty
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Service) ForTrip(ctx context.Context, tripID types.ID) ([]Rating, error) {
	return s.store.ListByTrip(ctx, tripID)
}

func (s *Service) Summary(ctx context.Context, userID types.ID) (*Summary, error) {
	return s.store.Summary(ctx, userID)
}
