package broker

import (
	"context"
	"sync"
	"time"

	"usagerelay/internal/deduplication"
	"usagerelay/internal/logger"
	"usagerelay/internal/pipeline"
	"usagerelay/pkg/errors"
	"usagerelay/pkg/metrics"
	"usagerelay/pkg/models"
	"usagerelay/pkg/retry"
	"usagerelay/pkg/tracing"
)

const tracerName = "usagerelay-consumer"

// Batch outcomes recorded on relay_batches_total.
const (
	BatchSuccess       = "success"
	BatchInterrupted   = "interrupted"
	BatchGuardFailed   = "redelivery_check_failed"
	BatchCommitFailed  = "commit_failed"
	BatchPipelinePanic = "panic"
)

// Consumer feeds the batches of one Source through one Pipeline.
type Consumer struct {
	source     Source
	pipeline   *pipeline.Pipeline
	guard      *deduplication.Guard
	guardRetry retry.Policy
	fetchPause time.Duration
	logger     logger.Logger

	mu    sync.RWMutex
	stats Stats
}

// Stats is a snapshot of what a consumer has done since start.
type Stats struct {
	Queue       string                          `json:"queue"`
	Handlers    []string                        `json:"handlers"`
	Batches     int64                           `json:"batches"`
	Messages    int64                           `json:"messages"`
	Skipped     int64                           `json:"skipped"`
	LastStatus  string                          `json:"last_status,omitempty"`
	LastBatchAt time.Time                       `json:"last_batch_at,omitempty"`
	LastResults map[string]pipeline.SlotSummary `json:"last_results,omitempty"`
}

// NewConsumer wires a source to a pipeline. guard may be nil.
func NewConsumer(source Source, p *pipeline.Pipeline, guard *deduplication.Guard, log logger.Logger) *Consumer {
	return &Consumer{
		source:   source,
		pipeline: p,
		guard:    guard,
		guardRetry: retry.Policy{
			MaxAttempts:     3,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			Multiplier:      2.0,
		},
		fetchPause: time.Second,
		logger:     log.With("queue", source.Queue()),
		stats: Stats{
			Queue:    source.Queue(),
			Handlers: p.HandlerNames(),
		},
	}
}

func (c *Consumer) Queue() string { return c.source.Queue() }

func (c *Consumer) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.stats
	s.Handlers = append([]string(nil), c.stats.Handlers...)
	if c.stats.LastResults != nil {
		s.LastResults = make(map[string]pipeline.SlotSummary, len(c.stats.LastResults))
		for k, v := range c.stats.LastResults {
			s.LastResults[k] = v
		}
	}
	return s
}

// Run fetches and processes batches until ctx is cancelled. Fetch errors are
// logged and retried after a pause; nothing a batch does stops the loop.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.InfowCtx(ctx, "Started consuming", "handlers", c.pipeline.HandlerNames())
	for {
		batch, err := c.source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.InfowCtx(ctx, "Stopped consuming", "reason", "context canceled")
				return nil
			}
			c.logger.ErrorwCtx(ctx, "Error fetching batch", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.fetchPause):
			}
			continue
		}
		c.ProcessBatch(ctx, batch)
	}
}

// ProcessBatch runs one batch and settles every message in it.
func (c *Consumer) ProcessBatch(ctx context.Context, batch []*models.Message) {
	queue := c.source.Queue()
	if len(batch) == 0 {
		if err := c.source.Commit(ctx); err != nil {
			c.logger.ErrorwCtx(ctx, "Failed to commit empty batch", "error", err)
		}
		return
	}

	start := time.Now()
	ctx = tracing.ExtractFromAttributes(ctx, batch[0].Headers)
	ctx, span := tracing.StartSpan(ctx, tracerName, "consumer.batch", "queue", queue)
	defer span.End()

	fresh := batch
	if c.guard != nil {
		var err error
		fresh, err = c.filter(ctx, batch)
		if err != nil {
			tracing.RecordError(span, err)
			c.logger.ErrorwCtx(ctx, "Redelivery check failed, returning batch to the broker",
				"messages", len(batch),
				"error", err,
			)
			for _, msg := range batch {
				msg.Nack()
			}
			c.finish(queue, len(batch), 0, start, BatchGuardFailed, nil)
			return
		}
	}

	status := BatchSuccess
	var env *pipeline.Env
	if len(fresh) > 0 {
		env = c.invoke(ctx, fresh)
		if env == nil {
			status = BatchPipelinePanic
		}
	}
	if ctx.Err() != nil {
		c.logger.WarnwCtx(ctx, "Batch interrupted, leaving unsettled messages to the broker",
			"messages", len(batch),
		)
		c.finish(queue, len(batch), len(batch)-len(fresh), start, BatchInterrupted, env)
		return
	}

	for _, msg := range batch {
		if !msg.Settled() {
			msg.Ack()
		}
	}
	if c.guard != nil {
		c.guard.MarkProcessed(ctx, queue, fresh)
	}
	if err := c.source.Commit(ctx); err != nil {
		tracing.RecordError(span, err)
		c.logger.ErrorwCtx(ctx, "Failed to commit batch", "messages", len(batch), "error", err)
		status = BatchCommitFailed
	}
	c.finish(queue, len(batch), len(batch)-len(fresh), start, status, env)
}

func (c *Consumer) filter(ctx context.Context, batch []*models.Message) ([]*models.Message, error) {
	var fresh []*models.Message
	err := retry.RetryWithCallback(ctx, c.guardRetry, func() error {
		var err error
		fresh, err = c.guard.Filter(ctx, c.source.Queue(), batch)
		return err
	}, func(attempt int, err error, nextDelay time.Duration) {
		c.logger.WarnwCtx(ctx, "Retrying redelivery check",
			"attempt", attempt,
			"next_delay", nextDelay,
			"error", err,
		)
	})
	return fresh, err
}

func (c *Consumer) invoke(ctx context.Context, batch []*models.Message) (env *pipeline.Env) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.ErrorwCtx(ctx, "Pipeline panicked", "error", errors.RecoverPanic(r))
			env = nil
		}
	}()
	return c.pipeline.Invoke(ctx, batch)
}

func (c *Consumer) finish(queue string, messages, skipped int, start time.Time, status string, env *pipeline.Env) {
	elapsed := time.Since(start)
	metrics.ObserveBatch(queue, messages, elapsed, status)

	c.mu.Lock()
	c.stats.Batches++
	c.stats.Messages += int64(messages)
	c.stats.Skipped += int64(skipped)
	c.stats.LastStatus = status
	c.stats.LastBatchAt = time.Now()
	if env != nil {
		c.stats.LastResults = env.Summary()
	}
	c.mu.Unlock()

	c.logger.Infow("Batch processed",
		"messages", messages,
		"skipped", skipped,
		"status", status,
		"elapsed", elapsed,
	)
}

// Close stops the source and releases handler resources.
func (c *Consumer) Close(ctx context.Context) error {
	srcErr := c.source.Close()
	if err := c.pipeline.Close(ctx); err != nil {
		return err
	}
	return srcErr
}
