package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"usagerelay/internal/constants"
)

// TokenStore holds the cached bearer token shared by every delivery channel.
type TokenStore interface {
	Get(ctx context.Context) (string, bool, error)
	Set(ctx context.Context, token string) error
	Invalidate(ctx context.Context) error
}

type MemoryTokenStore struct {
	mu      sync.RWMutex
	token   string
	expires time.Time
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryTokenStore keeps the token in process. A zero ttl never expires it.
func NewMemoryTokenStore(ttl time.Duration) *MemoryTokenStore {
	return &MemoryTokenStore{ttl: ttl, now: time.Now}
}

func (s *MemoryTokenStore) Get(_ context.Context) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.token == "" {
		return "", false, nil
	}
	if !s.expires.IsZero() && s.now().After(s.expires) {
		return "", false, nil
	}
	return s.token, true, nil
}

func (s *MemoryTokenStore) Set(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = token
	s.expires = time.Time{}
	if s.ttl > 0 {
		s.expires = s.now().Add(s.ttl)
	}
	return nil
}

func (s *MemoryTokenStore) Invalidate(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = ""
	s.expires = time.Time{}
	return nil
}

// RedisTokenStore shares one token between relay processes.
type RedisTokenStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewRedisTokenStore(client *redis.Client, user string, ttl time.Duration) *RedisTokenStore {
	return &RedisTokenStore{
		client: client,
		key:    constants.CacheKeyPrefixAuthToken + user,
		ttl:    ttl,
	}
}

func (s *RedisTokenStore) Get(ctx context.Context) (string, bool, error) {
	token, err := s.client.Get(ctx, s.key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read token: %w", err)
	}
	return token, token != "", nil
}

func (s *RedisTokenStore) Set(ctx context.Context, token string) error {
	if err := s.client.Set(ctx, s.key, token, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	return nil
}

func (s *RedisTokenStore) Invalidate(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to invalidate token: %w", err)
	}
	return nil
}
