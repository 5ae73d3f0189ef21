// README: In-memory rating store for development mode and tests.
package rating

import (
	"context"
	"sync"

	"zemi/internal/types"
)

type MemoryStore struct {
	mu      sync.RWMutex
	ratings []Rating
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Create(_ context.Context, r *Rating) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.ratings {
		if existing.TripID == r.TripID && existing.Direction == r.Direction {
			return ErrAlreadyRated
		}
	}
	s.ratings = append(s.ratings, *r)
	return nil
}

func (s *MemoryStore) ListByTrip(_ context.Context, tripID types.ID) ([]Rating, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Rating
	for _, r := range s.ratings {
		if r.TripID == tripID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) Summary(_ context.Context, ratedID types.ID) (*Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := &Summary{UserID: ratedID}
	total := 0
	for _, r := range s.ratings {
		if r.RatedID == ratedID {
			sum.Count++
			total += r.Score
		}
	}
	if sum.Count > 0 {
		sum.Average = float64(total) / float64(sum.Count)
	}
	return sum, nil
}
