// README: Online driver registry backed by a Redis set, with an in-memory fallback.
package presence

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"zemi/internal/types"
)

const onlineDriversKey = "presence:drivers:online"

type Store interface {
	SetOnline(ctx context.Context, driverID types.ID) error
	SetOffline(ctx context.Context, driverID types.ID) error
	IsOnline(ctx context.Context, driverID types.ID) (bool, error)
	Online(ctx context.Context) ([]types.ID, error)
}

type RedisStore struct {
	redis *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{redis: client}
}

func (s *RedisStore) SetOnline(ctx context.Context, driverID types.ID) error {
	return s.redis.SAdd(ctx, onlineDriversKey, string(driverID)).Err()
}

func (s *RedisStore) SetOffline(ctx context.Context, driverID types.ID) error {
	return s.redis.SRem(ctx, onlineDriversKey, string(driverID)).Err()
}

func (s *RedisStore) IsOnline(ctx context.Context, driverID types.ID) (bool, error) {
	return s.redis.SIsMember(ctx, onlineDriversKey, string(driverID)).Result()
}

func (s *RedisStore) Online(ctx context.Context) ([]types.ID, error) {
	members, err := s.redis.SMembers(ctx, onlineDriversKey).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(members))
	for i, m := range members {
		ids[i] = types.ID(m)
	}
	return ids, nil
}

type MemoryStore struct {
	mu     sync.RWMutex
	online map[types.ID]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{online: make(map[types.ID]struct{})}
}

func (s *MemoryStore) SetOnline(_ context.Context, driverID types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online[driverID] = struct{}{}
	return nil
}

func (s *MemoryStore) SetOffline(_ context.Context, driverID types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.online, driverID)
	return nil
}

func (s *MemoryStore) IsOnline(_ context.Context, driverID types.ID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.online[driverID]
	return ok, nil
}

func (s *MemoryStore) Online(_ context.Context) ([]types.ID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]types.ID, 0, len(s.online))
	for id := range s.online {
		ids = append(ids, id)
	}
	return ids, nil
}
