// README: Presence service picks which online drivers hear about a new request.
package presence

import (
	"context"
	"math/rand"

	"zemi/internal/types"
)

// DefaultFanout is how many online drivers are notified of each new request.
const DefaultFanout = 10

type Service struct {
	store  Store
	fanout int
}

func NewService(store Store, fanout int) *Service {
	if fanout <= 0 {
		fanout = DefaultFanout
	}
	return &Service{store: store, fanout: fanout}
}

func (s *Service) SetOnline(ctx context.Context, driverID types.ID) error {
	return s.store.SetOnline(ctx, driverID)
}

func (s *Service) SetOffline(ctx context.Context, driverID types.ID) error {
	return s.store.SetOffline(ctx, driverID)
}

func (s *Service) IsOnline(ctx context.Context, driverID types.ID) (bool, error) {
	return s.store.IsOnline(ctx, driverID)
}

// Targets returns up to the configured fan-out of online drivers, sampled at random.
func (s *Service) Targets(ctx context.Context) ([]types.ID, error) {
	online, err := s.store.Online(ctx)
	if err != nil {
		return nil, err
	}
	return PickRandomDrivers(online, s.fanout), nil
}

// PickRandomDrivers returns min(n, len(pool)) distinct drivers from pool
// without modifying it.
func PickRandomDrivers(pool []types.ID, n int) []types.ID {
	if n <= 0 || len(pool) == 0 {
		return nil
	}
	if n > len(pool) {
		n = len(pool)
	}
	shuffled := make([]types.ID, len(pool))
	copy(shuffled, pool)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	return shuffled[:n]
}
