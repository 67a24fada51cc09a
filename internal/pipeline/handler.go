package pipeline

import (
	"context"

	"usagerelay/internal/filtering"
	"usagerelay/internal/logger"
	"usagerelay/pkg/logging"
	"usagerelay/pkg/metrics"
	"usagerelay/pkg/models"
)

// Handler is one pipeline stage.
type Handler interface {
	Name() string
	Handle(ctx context.Context, msgs []*models.Message, env *Env)
}

// ResultProducer is implemented by handlers that publish results for later stages.
type ResultProducer interface {
	ResultSlot() string
}

// Closer is implemented by handlers holding files or connections.
type Closer interface {
	Close(ctx context.Context) error
}

// Filtered is implemented by handlers that carry include and exclude lists.
type Filtered interface {
	Spec() filtering.Spec
}

// Base carries the name, filter lists and acknowledgement policy shared by handlers.
type Base struct {
	name    string
	spec    filtering.Spec
	autoAck bool
	log     logger.Logger
}

func NewBase(name string, spec filtering.Spec, autoAck bool, log logger.Logger) Base {
	return Base{name: name, spec: spec, autoAck: autoAck, log: log}
}

func (b Base) Name() string { return b.name }

func (b Base) Spec() filtering.Spec { return b.spec }

func (b Base) AutoAck() bool { return b.autoAck }

func (b Base) Logger() logger.Logger { return b.log }

// Each calls fn with a filtered copy of every message body that is not discarded.
// Payload filters run on the copy so every handler starts from the broker's body.
// With auto-ack the message is acknowledged after fn returns.
func (b Base) Each(ctx context.Context, msgs []*models.Message, env *Env, fn func(ctx context.Context, msg *models.Message, body models.Notification)) {
	for _, msg := range msgs {
		if ctx.Err() != nil {
			return
		}
		if b.spec.Discarded(msg.EventType()) {
			metrics.IncHandlerMessages(b.name, "discarded")
			continue
		}

		mctx := logging.WithHandler(ctx, b.name)
		mctx = logging.WithMessageID(mctx, msg.MessageID())
		mctx = logging.WithEventType(mctx, msg.EventType())

		body := msg.Body.Clone()
		if env != nil && len(env.PayloadFilters) > 0 {
			if err := filtering.ApplyAll(mctx, env.PayloadFilters, body); err != nil {
				b.log.WarnwCtx(mctx, "Payload filter failed", "error", err)
			}
		}

		fn(mctx, msg, body)
		metrics.IncHandlerMessages(b.name, "handled")

		if b.autoAck {
			msg.Ack()
		}
	}
}
