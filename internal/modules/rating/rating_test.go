// README: Rating rules: completion, party membership, score range and uniqueness.
package rating

import (
	"context"
	"errors"
	"sync"
	"testing"

	"zemi/internal/modules/trip"
	"zemi/internal/types"
)

type stubTrips map[types.ID]*trip.Trip

func (s stubTrips) Get(_ context.Context, id types.ID) (*trip.Trip, error) {
	t, ok := s[id]
	if !ok {
		return nil, trip.ErrNotFound
	}
	return t, nil
}

var (
	client = types.Actor{ID: "c1", Role: types.RoleClient}
	drv    = types.Actor{ID: "d1", Role: types.RoleDriver}
)

func newTestService() (*Service, *MemoryStore) {
	d := types.ID("d1")
	trips := stubTrips{
		"done":    {ID: "done", ClientID: "c1", DriverID: &d, Status: trip.StatusCompleted},
		"running": {ID: "running", ClientID: "c1", DriverID: &d, Status: trip.StatusInProgress},
	}
	store := NewMemoryStore()
	return NewService(store, trips), store
}

func TestRateBothDirections(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	r, err := svc.Rate(ctx, client, RateCommand{TripID: "done", Score: 5, Comment: " great ride "})
	if err != nil {
		t.Fatalf("client rate: %v", err)
	}
	if r.Direction != ClientToDriver || r.RatedID != "d1" || r.Comment != "great ride" {
		t.Fatalf("unexpected rating: %+v", r)
	}
	r, err = svc.Rate(ctx, drv, RateCommand{TripID: "done", Score: 4})
	if err != nil {
		t.Fatalf("driver rate: %v", err)
	}
	if r.Direction != DriverToClient || r.RatedID != "c1" {
		t.Fatalf("unexpected rating: %+v", r)
	}

	sum, err := svc.Summary(ctx, "d1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Count != 1 || sum.Average != 5 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}

func TestRateRejections(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	cases := []struct {
		name  string
		actor types.Actor
		cmd   RateCommand
		want  error
	}{
		{"not completed", client, RateCommand{TripID: "running", Score: 3}, ErrTripNotCompleted},
		{"stranger", types.Actor{ID: "c9", Role: types.RoleClient}, RateCommand{TripID: "done", Score: 3}, ErrNotAParty},
		{"other driver", types.Actor{ID: "d9", Role: types.RoleDriver}, RateCommand{TripID: "done", Score: 3}, ErrNotAParty},
		{"score too low", client, RateCommand{TripID: "done", Score: 0}, ErrInvalidScore},
		{"score too high", client, RateCommand{TripID: "done", Score: 6}, ErrInvalidScore},
		{"missing trip", client, RateCommand{TripID: "nope", Score: 3}, trip.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Rate(ctx, tc.actor, tc.cmd); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestSecondRatingLeavesFirstUntouched(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService()

	const attempts = 8
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(score int) {
			defer wg.Done()
			_, err := svc.Rate(ctx, client, RateCommand{TripID: "done", Score: score})
			errs <- err
		}(i%5 + 1)
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrAlreadyRated) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 rating, got %d", success)
	}
	ratings, _ := store.ListByTrip(ctx, "done")
	if len(ratings) != 1 {
		t.Fatalf("expected one stored rating, got %d", len(ratings))
	}
	first := ratings[0]
	if _, err := svc.Rate(ctx, client, RateCommand{TripID: "done", Score: 1, Comment: "changed my mind"}); !errors.Is(err, ErrAlreadyRated) {
		t.Fatalf("expected ErrAlreadyRated, got %v", err)
	}
	ratings, _ = store.ListByTrip(ctx, "done")
	if ratings[0] != first {
		t.Fatalf("first rating altered: %+v -> %+v", first, ratings[0])
	}
}
