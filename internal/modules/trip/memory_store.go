// README: In-memory trip store for development mode and tests.
package trip

import (
	"context"
	"sort"
	"time"

	"zemi/internal/txn"
	"zemi/internal/types"
)

type MemoryStore struct {
	tx     *txn.MemManager
	trips  map[types.ID]Trip
	events []StateEvent
}

func NewMemoryStore(tx *txn.MemManager) *MemoryStore {
	s := &MemoryStore{tx: tx, trips: make(map[types.ID]Trip)}
	tx.Register(s)
	return s
}

// Snapshot copies the trip map. Stored trips are replaced whole, never
// mutated through their pointer fields, so a shallow copy is enough.
func (s *MemoryStore) Snapshot() func() {
	trips := make(map[types.ID]Trip, len(s.trips))
	for k, v := range s.trips {
		trips[k] = v
	}
	n := len(s.events)
	return func() {
		s.trips = trips
		s.events = s.events[:n]
	}
}

func (s *MemoryStore) Create(ctx context.Context, t *Trip) error {
	defer s.tx.Lock(ctx)()
	s.trips[t.ID] = *t
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id types.ID) (*Trip, error) {
	defer s.tx.Lock(ctx)()
	t, ok := s.trips[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (s *MemoryStore) Assign(ctx context.Context, id, driverID types.ID, version int, at time.Time) (bool, error) {
	defer s.tx.Lock(ctx)()
	t, ok := s.trips[id]
	if !ok || t.Status != StatusRequested || t.DriverID != nil || t.StatusVersion != version {
		return false, nil
	}
	for _, other := range s.trips {
		if other.AssignedTo(driverID) && (other.Status == StatusAccepted || other.Status == StatusInProgress) {
			return false, ErrDriverBusy
		}
	}
	d := driverID
	t.DriverID = &d
	t.Status = StatusAccepted
	t.StatusVersion++
	t.AcceptedAt = &at
	s.trips[id] = t
	return true, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, u StatusUpdate) (bool, error) {
	defer s.tx.Lock(ctx)()
	t, ok := s.trips[u.ID]
	if !ok || t.Status != u.From || t.StatusVersion != u.Version {
		return false, nil
	}
	at := u.At
	t.Status = u.To
	t.StatusVersion++
	switch u.To {
	case StatusInProgress:
		t.StartedAt = &at
	case StatusCompleted:
		t.CompletedAt = &at
	case StatusCancelled:
		t.CancelledAt = &at
	case StatusExpired:
		t.ExpiredAt = &at
	}
	if u.CancelledBy != nil {
		t.CancelledBy = u.CancelledBy
	}
	if u.CancelReason != nil {
		t.CancelReason = u.CancelReason
	}
	s.trips[u.ID] = t
	return true, nil
}

func (s *MemoryStore) AppendEvent(ctx context.Context, e *StateEvent) error {
	defer s.tx.Lock(ctx)()
	e.ID = int64(len(s.events) + 1)
	s.events = append(s.events, *e)
	return nil
}

func (s *MemoryStore) Events(ctx context.Context, tripID types.ID) ([]StateEvent, error) {
	defer s.tx.Lock(ctx)()
	var out []StateEvent
	for _, e := range s.events {
		if e.TripID == tripID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListRequested(ctx context.Context, limit int) ([]Trip, error) {
	defer s.tx.Lock(ctx)()
	out := s.filter(func(t Trip) bool { return t.Status == StatusRequested })
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	return truncate(out, limit), nil
}

func (s *MemoryStore) ListStaleRequested(ctx context.Context, cutoff time.Time, limit int) ([]Trip, error) {
	defer s.tx.Lock(ctx)()
	out := s.filter(func(t Trip) bool { return t.Status == StatusRequested && t.RequestedAt.Before(cutoff) })
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return truncate(out, limit), nil
}

func (s *MemoryStore) HasActiveByDriver(ctx context.Context, driverID types.ID) (bool, error) {
	defer s.tx.Lock(ctx)()
	for _, t := range s.trips {
		if t.AssignedTo(driverID) && (t.Status == StatusAccepted || t.Status == StatusInProgress) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) filter(keep func(Trip) bool) []Trip {
	var out []Trip
	for _, t := range s.trips {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

func truncate(trips []Trip, limit int) []Trip {
	if limit > 0 && len(trips) > limit {
		return trips[:limit]
	}
	return trips
}
