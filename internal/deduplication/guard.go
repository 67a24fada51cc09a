// Package deduplication skips broker redeliveries of messages that a pipeline
// already processed.
package deduplication

import (
	"context"
	"fmt"
	"time"

	"usagerelay/internal/config"
	"usagerelay/internal/constants"
	"usagerelay/internal/logger"
	"usagerelay/pkg/metrics"
	"usagerelay/pkg/models"
	"usagerelay/pkg/tracing"
)

// Guard records processed message ids per queue in Redis.
type Guard struct {
	repo   Repository
	hasher *Hasher
	cfg    config.DeduplicationConfig
	ttl    time.Duration
	logger logger.Logger
}

func NewGuard(repo Repository, cfg config.DeduplicationConfig, log logger.Logger) *Guard {
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Guard{
		repo:   repo,
		hasher: NewHasher("sha256"),
		cfg:    cfg,
		ttl:    ttl,
		logger: log,
	}
}

// Key is the Redis key of a message on a queue.
func (g *Guard) Key(queue string, n models.Notification) (string, error) {
	id := n.MessageID()
	if id == "" {
		hash, err := g.hasher.ComputeHash(n, identityFields)
		if err != nil {
			return "", err
		}
		id = "sha256:" + hash
	}
	return constants.CacheKeyPrefixRedelivery + queue + ":" + id, nil
}

// Filter acks and drops messages already processed on queue. With
// on_redis_error=deny a lookup failure aborts the batch.
func (g *Guard) Filter(ctx context.Context, queue string, batch []*models.Message) ([]*models.Message, error) {
	ctx, span := tracing.StartSpan(ctx, "usagerelay-dedup", "redelivery.filter", "queue", queue)
	defer span.End()

	fresh := make([]*models.Message, 0, len(batch))
	for _, msg := range batch {
		seen, err := g.seen(ctx, queue, msg)
		if err != nil {
			tracing.RecordError(span, err)
			return nil, err
		}
		if seen {
			metrics.RedeliveriesSkippedTotal.WithLabelValues(queue).Inc()
			g.logger.InfowCtx(ctx, "Skipping redelivered message",
				"queue", queue,
				"message_id", msg.MessageID(),
				"event_type", msg.EventType(),
			)
			msg.Ack()
			continue
		}
		fresh = append(fresh, msg)
	}
	return fresh, nil
}

func (g *Guard) seen(ctx context.Context, queue string, msg *models.Message) (bool, error) {
	key, err := g.Key(queue, msg.Body)
	if err != nil {
		return false, err
	}
	start := time.Now()
	found, err := g.repo.Exists(ctx, key)
	if err != nil {
		metrics.ObserveRedeliveryCheck("error", time.Since(start))
		return false, g.onRedisError(ctx, err, msg.MessageID())
	}
	status := "fresh"
	if found {
		status = "seen"
	}
	metrics.ObserveRedeliveryCheck(status, time.Since(start))
	return found, nil
}

func (g *Guard) onRedisError(ctx context.Context, err error, msgID string) error {
	if g.cfg.OnRedisError == constants.FallbackDeny {
		metrics.FallbackUsageTotal.WithLabelValues("redelivery", "deny_on_error", "redis").Inc()
		return fmt.Errorf("redis error during redelivery check for message %s: %w", msgID, err)
	}
	metrics.FallbackUsageTotal.WithLabelValues("redelivery", "allow_on_error", "redis").Inc()
	g.logger.WarnwCtx(ctx, "Redis error during redelivery check, processing message (fallback: allow)",
		"message_id", msgID,
		"error", err,
	)
	return nil
}

// MarkProcessed records every message of a processed batch. Failures are
// only logged.
func (g *Guard) MarkProcessed(ctx context.Context, queue string, batch []*models.Message) {
	now := time.Now().Unix()
	for _, msg := range batch {
		key, err := g.Key(queue, msg.Body)
		if err != nil {
			g.logger.WarnwCtx(ctx, "Cannot key processed message", "message_id", msg.MessageID(), "error", err)
			continue
		}
		if _, err := g.repo.SetNX(ctx, key, now, g.ttl); err != nil {
			g.logger.WarnwCtx(ctx, "Failed to mark message processed",
				"queue", queue,
				"message_id", msg.MessageID(),
				"error", err,
			)
		}
	}
}

// CacheSize counts the tracked ids.
func (g *Guard) CacheSize(ctx context.Context) (int, error) {
	return g.repo.GetCacheSize(ctx, constants.CacheKeyPrefixRedelivery)
}
