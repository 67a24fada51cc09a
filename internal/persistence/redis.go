package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"usagerelay/internal/constants"
)

// RedisStore keeps each event as a msgpack value.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Name() string { return constants.DriverRedis }

// Key is the redis key of one event.
func Key(eventType, messageID string) string {
	return constants.CacheKeyPrefixEvent + eventType + ":" + messageID
}

func (s *RedisStore) Create(ctx context.Context, ev *Event) (err error) {
	start := time.Now()
	defer func() { observe(constants.DriverRedis, "set", start, err) }()

	data, err := msgpack.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err = s.client.Set(ctx, Key(ev.EventType, ev.MessageID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store event: %w", err)
	}
	return nil
}

// Get reads an event back. A missing key returns nil without error.
func (s *RedisStore) Get(ctx context.Context, eventType, messageID string) (*Event, error) {
	data, err := s.client.Get(ctx, Key(eventType, messageID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	var ev Event
	if err := msgpack.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}
	return &ev, nil
}

// Close leaves the shared client open.
func (s *RedisStore) Close(context.Context) error { return nil }
