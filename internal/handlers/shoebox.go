package handlers

import (
	"context"
	"encoding/json"

	"usagerelay/internal/archive"
	"usagerelay/internal/pipeline"
	"usagerelay/pkg/models"
)

// Shoebox archives raw notifications into rolling files.
type Shoebox struct {
	pipeline.Base
	roll *archive.RollManager
}

func NewShoebox(deps Deps) (*Shoebox, error) {
	cb := deps.Archive
	if cb == nil {
		cb = archive.NoopCallback{}
	}
	roll, err := archive.NewRollManager(deps.Config.Shoebox, cb, deps.Logger)
	if err != nil {
		return nil, err
	}
	return &Shoebox{Base: deps.base(NameShoebox, false), roll: roll}, nil
}

func (h *Shoebox) Handle(ctx context.Context, msgs []*models.Message, env *pipeline.Env) {
	h.Each(ctx, msgs, env, func(ctx context.Context, _ *models.Message, body models.Notification) {
		data, err := json.Marshal(body)
		if err != nil {
			h.Logger().ErrorwCtx(ctx, "Cannot encode notification for archive", "error", err)
			return
		}
		if err := h.roll.Write(ctx, data); err != nil {
			h.Logger().ErrorwCtx(ctx, "Archive write failed", "file", h.roll.ActiveFile(), "error", err)
		}
	})
}

// Close rolls the active file.
func (h *Shoebox) Close(ctx context.Context) error {
	return h.roll.Close(ctx)
}
