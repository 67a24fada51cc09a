package pipeline

import (
	"context"
	"fmt"
	"time"

	"usagerelay/internal/filtering"
	"usagerelay/internal/logger"
	"usagerelay/pkg/errors"
	"usagerelay/pkg/metrics"
	"usagerelay/pkg/models"
	"usagerelay/pkg/tracing"
)

const tracerName = "usagerelay-pipeline"

// Pipeline runs a fixed, ordered list of handlers over each batch.
// Invoke must not be called concurrently on the same Pipeline.
type Pipeline struct {
	queue    string
	handlers []Handler
	filters  []filtering.PayloadFilter
	logger   logger.Logger
}

func New(queue string, handlers []Handler, filters []filtering.PayloadFilter, log logger.Logger) *Pipeline {
	return &Pipeline{
		queue:    queue,
		handlers: handlers,
		filters:  filters,
		logger:   log,
	}
}

func (p *Pipeline) Queue() string { return p.queue }

func (p *Pipeline) HandlerNames() []string {
	names := make([]string, 0, len(p.handlers))
	for _, h := range p.handlers {
		names = append(names, h.Name())
	}
	return names
}

// Close releases the resources of every handler that holds any.
func (p *Pipeline) Close(ctx context.Context) error {
	var errs []error
	for _, h := range p.handlers {
		if c, ok := h.(Closer); ok {
			if err := c.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", h.Name(), err))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("handler close errors: %v", errs)
	}
	return nil
}

// Invoke threads one fresh Env through every handler in configured order and returns it.
func (p *Pipeline) Invoke(ctx context.Context, batch []*models.Message) *Env {
	ctx, span := tracing.StartSpan(ctx, tracerName, "pipeline.invoke", "queue", p.queue)
	defer span.End()

	env := NewEnv(p.queue, p.filters)
	for _, h := range p.handlers {
		if ctx.Err() != nil {
			p.logger.WarnwCtx(ctx, "Pipeline interrupted", "queue", p.queue, "next_handler", h.Name())
			break
		}
		p.runStage(ctx, h, batch, env)
	}
	return env
}

func (p *Pipeline) runStage(ctx context.Context, h Handler, batch []*models.Message, env *Env) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "handler."+h.Name(), "handler", h.Name())
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.ObserveHandlerDuration(h.Name(), time.Since(start))
	}()

	defer func() {
		if r := recover(); r != nil {
			err := errors.RecoverPanic(r)
			metrics.HandlerPanicsTotal.WithLabelValues(h.Name()).Inc()
			tracing.RecordError(span, err)
			p.logger.ErrorwCtx(ctx, "Handler panicked",
				"queue", p.queue,
				"handler", h.Name(),
				"error", err,
			)
		}
	}()

	selected := batch
	if f, ok := h.(Filtered); ok {
		selected = f.Spec().Select(batch)
	}
	if rp, ok := h.(ResultProducer); ok {
		env.Register(rp.ResultSlot())
	}

	h.Handle(ctx, selected, env)
}
