package deduplication

import (
	"context"
	"fmt"
	"time"

	"usagerelay/internal/config"
	"usagerelay/pkg/circuitbreaker"
)

const breakerName = "redis-redelivery"

type CircuitBreakerRepository struct {
	repo Repository
	cb   *circuitbreaker.Wrapper
}

func NewCircuitBreakerRepository(repo Repository, cfg config.CircuitBreakerConfig) *CircuitBreakerRepository {
	if !cfg.Enabled {
		return &CircuitBreakerRepository{repo: repo}
	}
	return &CircuitBreakerRepository{
		repo: repo,
		cb:   circuitbreaker.NewWrapper(circuitbreaker.FromConfig(breakerName, cfg)),
	}
}

func (r *CircuitBreakerRepository) Exists(ctx context.Context, key string) (bool, error) {
	if r.cb == nil {
		return r.repo.Exists(ctx, key)
	}
	var found bool
	err := r.cb.Do(ctx, func() error {
		var err error
		found, err = r.repo.Exists(ctx, key)
		return err
	})
	return found, r.wrap(err)
}

func (r *CircuitBreakerRepository) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	if r.cb == nil {
		return r.repo.SetNX(ctx, key, value, ttl)
	}
	var set bool
	err := r.cb.Do(ctx, func() error {
		var err error
		set, err = r.repo.SetNX(ctx, key, value, ttl)
		return err
	})
	return set, r.wrap(err)
}

func (r *CircuitBreakerRepository) GetCacheSize(ctx context.Context, prefix string) (int, error) {
	if r.cb == nil {
		return r.repo.GetCacheSize(ctx, prefix)
	}
	var size int
	err := r.cb.Do(ctx, func() error {
		var err error
		size, err = r.repo.GetCacheSize(ctx, prefix)
		return err
	})
	return size, r.wrap(err)
}

func (r *CircuitBreakerRepository) wrap(err error) error {
	if err != nil && r.cb.IsOpen() {
		return fmt.Errorf("circuit breaker is open for %s: %w", breakerName, err)
	}
	return err
}

func (r *CircuitBreakerRepository) State() string {
	if r.cb == nil {
		return "disabled"
	}
	return r.cb.State().String()
}

func (r *CircuitBreakerRepository) IsOpen() bool {
	if r.cb == nil {
		return false
	}
	return r.cb.IsOpen()
}
