package handlers

import (
	"context"

	"usagerelay/internal/persistence"
	"usagerelay/internal/pipeline"
	"usagerelay/pkg/errors"
	"usagerelay/pkg/models"
)

// Persister stores every notification through the configured driver.
type Persister struct {
	pipeline.Base
	store persistence.Store
	deps  Deps
}

func NewPersister(deps Deps) (*Persister, error) {
	if deps.Store == nil {
		return nil, errors.ErrConfig.WithMessage("persistence handler has no store configured")
	}
	return &Persister{Base: deps.base(NamePersistence, false), store: deps.Store, deps: deps}, nil
}

func (h *Persister) Handle(ctx context.Context, msgs []*models.Message, env *pipeline.Env) {
	h.Each(ctx, msgs, env, func(ctx context.Context, _ *models.Message, body models.Notification) {
		for _, key := range body.MissingKeys(models.EventKeys...) {
			h.Logger().ErrorwCtx(ctx, "Invalid message format", "missing_key", key)
		}
		if err := h.store.Create(ctx, persistence.EventFrom(body, h.deps.now())); err != nil {
			h.Logger().ErrorwCtx(ctx, "Failed to persist notification", "driver", h.store.Name(), "error", err)
			return
		}
		h.Logger().DebugwCtx(ctx, "Notification persisted", "driver", h.store.Name())
	})
}
