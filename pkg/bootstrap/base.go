package bootstrap

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"usagerelay/internal/broker"
	"usagerelay/internal/config"
	"usagerelay/internal/deduplication"
	"usagerelay/internal/logger"
	"usagerelay/internal/pipeline"
)

// PipelineBuilder assembles the handler chain of one configured consumer.
type PipelineBuilder func(c config.ConsumerConfig) (*pipeline.Pipeline, error)

type Base struct {
	Config    *config.Config
	Logger    logger.Logger
	Consumers []*broker.Consumer
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

// InitConsumers opens one broker source and one pipeline per configured
// consumer. On error every consumer opened so far is closed again.
func (b *Base) InitConsumers(ctx context.Context, serviceName string, build PipelineBuilder, guard *deduplication.Guard) error {
	for _, cc := range b.Config.Consumers {
		p, err := build(cc)
		if err != nil {
			b.ShutdownConsumers(ctx)
			return fmt.Errorf("failed to build pipeline for %s: %w", cc.Queue, err)
		}
		src, err := broker.NewSource(ctx, b.Config.Broker, cc, serviceName, b.Logger)
		if err != nil {
			_ = p.Close(ctx)
			b.ShutdownConsumers(ctx)
			return fmt.Errorf("failed to open queue %s: %w", cc.Queue, err)
		}
		b.Consumers = append(b.Consumers, broker.NewConsumer(src, p, guard, b.Logger))
		b.Logger.InfowCtx(ctx, "Consumer ready",
			"queue", cc.Queue,
			"handlers", p.HandlerNames(),
			"broker", b.Config.Broker.Type,
		)
	}
	return nil
}

// RunConsumers blocks until ctx is cancelled or a consumer fails.
func (b *Base) RunConsumers(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)
	for _, c := range b.Consumers {
		g.Go(func() error {
			return c.Run(gCtx)
		})
	}
	return g.Wait()
}

func (b *Base) ShutdownConsumers(ctx context.Context) []error {
	var errs []error
	for _, c := range b.Consumers {
		if err := c.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("consumer %s close error: %w", c.Queue(), err))
		}
	}
	b.Consumers = nil
	return errs
}

func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.Info("Shutting down application...")

	var errs []error

	errs = append(errs, b.ShutdownConsumers(ctx)...)

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	b.Logger.Info("Application exited successfully")
	return nil
}
