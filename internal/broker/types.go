// Package broker turns a message broker into a stream of notification batches.
package broker

import (
	"context"
	"time"

	"usagerelay/internal/config"
	"usagerelay/pkg/models"
)

// Source yields batches from one queue.
//
// Fetch blocks until at least one message arrives, then keeps collecting until
// the batch is full or the batch wait elapses. Commit makes the consumed
// position of the last batch durable on brokers that track offsets.
type Source interface {
	Queue() string
	Fetch(ctx context.Context) ([]*models.Message, error)
	Commit(ctx context.Context) error
	Close() error
}

// BatchOptions bounds a single Fetch.
type BatchOptions struct {
	MaxMessages int
	Wait        time.Duration
}

func BatchOptionsFrom(c config.ConsumerConfig) BatchOptions {
	opts := BatchOptions{MaxMessages: c.MaxMessages, Wait: c.BatchWait}
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = config.DefaultMaxMessages
	}
	if opts.Wait <= 0 {
		opts.Wait = config.DefaultBatchWait
	}
	return opts
}
