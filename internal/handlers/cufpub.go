package handlers

import (
	"context"
	"fmt"

	"usagerelay/internal/delivery"
	"usagerelay/internal/notification"
	"usagerelay/internal/pipeline"
	"usagerelay/internal/serializer"
	"usagerelay/pkg/models"
)

// CufPub publishes verified usage records in CUF format.
type CufPub struct {
	pipeline.Base
	url         string
	deployment  notification.Deployment
	transformer *notification.Transformer
	engine      *delivery.Engine
}

// NewCufPub fails when event_feed.atom_categories does not name the data
// center and region.
func NewCufPub(deps Deps) (*CufPub, error) {
	cfg := deps.Config.CufPub
	deployment, err := notification.ParseDeployment(deps.Config.EventFeed.AtomCategories)
	if err != nil {
		return nil, err
	}
	return &CufPub{
		Base:        deps.base(NameCufPub, true),
		url:         cfg.URL,
		deployment:  deployment,
		transformer: notification.NewTransformer(cfg.NovaFlavorFieldName, deps.Logger),
		engine:      delivery.NewEngine(NameCufPub, cfg.DeliveryConfig, deps.strategy(), deps.Logger, deps.EngineOptions...),
	}, nil
}

func (h *CufPub) ResultSlot() string { return pipeline.CufPubResults }

func (h *CufPub) Handle(ctx context.Context, msgs []*models.Message, env *pipeline.Env) {
	h.Each(ctx, msgs, env, func(ctx context.Context, msg *models.Message, body models.Notification) {
		service, _ := notification.ServiceFor(body.EventType())
		entry, err := h.render(ctx, body)
		if err != nil {
			h.Logger().ErrorwCtx(ctx, "Malformed notification", "error", err)
			env.Record(pipeline.CufPubResults, msg.MessageID(), pipeline.DeliveryResult{
				Error:   true,
				Message: fmt.Sprintf(malformedResultFmt, err),
				Service: string(service),
			})
			return
		}

		res := h.engine.Deliver(ctx, expandEventType(h.url, body.EventType()), entry)
		if res.Kind == delivery.KindInvalidContent {
			h.Logger().ErrorwCtx(ctx, "Rejected CUF entry", "entry", string(entry))
		}
		env.Record(pipeline.CufPubResults, msg.MessageID(), res.ToDeliveryResult(string(service)))
	})
}

func (h *CufPub) render(ctx context.Context, body models.Notification) ([]byte, error) {
	envelope, err := h.transformer.Transform(ctx, body, h.deployment)
	if err != nil {
		return nil, err
	}
	return serializer.MarshalCUFEntry(envelope)
}
