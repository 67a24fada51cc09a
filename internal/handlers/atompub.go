package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"usagerelay/internal/config"
	"usagerelay/internal/delivery"
	"usagerelay/internal/notification"
	"usagerelay/internal/pipeline"
	"usagerelay/internal/serializer"
	"usagerelay/pkg/models"
)

const (
	novaExistsEvent    = "compute.instance.exists"
	novaVerifiedEvent  = "compute.instance.exists.verified"
	malformedResultFmt = "Malformed Notification: %v"
)

// AtomPub publishes raw notifications as Atom entries.
type AtomPub struct {
	pipeline.Base
	cfg    config.AtomPubConfig
	feed   serializer.Feed
	engine *delivery.Engine
	deps   Deps
	newID  func() string
}

func NewAtomPub(deps Deps) (*AtomPub, error) {
	cfg := deps.Config.AtomPub
	return &AtomPub{
		Base:   deps.base(NameAtomPub, true),
		cfg:    cfg,
		feed:   serializer.FeedFrom(deps.Config.EventFeed, cfg.GenerateEntityLinks),
		engine: delivery.NewEngine(NameAtomPub, cfg.DeliveryConfig, deps.strategy(), deps.Logger, deps.EngineOptions...),
		deps:   deps,
		newID:  uuid.NewString,
	}, nil
}

func (h *AtomPub) ResultSlot() string { return pipeline.AtomPubResults }

// Endpoint expands the event type placeholders of the configured url.
func (h *AtomPub) Endpoint(eventType string) string {
	return expandEventType(h.cfg.URL, eventType)
}

func expandEventType(url, eventType string) string {
	return strings.NewReplacer("%(event_type)s", eventType, "{event_type}", eventType).Replace(url)
}

func (h *AtomPub) Handle(ctx context.Context, msgs []*models.Message, env *pipeline.Env) {
	h.Each(ctx, msgs, env, func(ctx context.Context, msg *models.Message, body models.Notification) {
		entries, err := h.entries(body)
		if err != nil {
			h.Logger().ErrorwCtx(ctx, "Malformed notification", "error", err)
			env.Record(pipeline.AtomPubResults, msg.MessageID(), pipeline.DeliveryResult{
				Error:   true,
				Message: fmt.Sprintf(malformedResultFmt, err),
				Service: string(notification.ServiceNova),
			})
			return
		}
		// The first entry that was not delivered decides the result of the message.
		var result pipeline.DeliveryResult
		failed := false
		for _, e := range entries {
			res := h.engine.Deliver(ctx, h.Endpoint(e.eventType), e.body)
			if !failed {
				result = res.ToDeliveryResult(string(notification.ServiceNova))
				failed = !res.Delivered()
			}
			if res.Kind == delivery.KindCancelled {
				break
			}
		}
		env.Record(pipeline.AtomPubResults, msg.MessageID(), result)
	})
}

type atomEntry struct {
	eventType string
	body      []byte
}

// entries renders the notification, preceded by a generated verified copy
// when stacktach is down.
func (h *AtomPub) entries(body models.Notification) ([]atomEntry, error) {
	if err := models.ValidateNotification(body); err != nil {
		return nil, err
	}
	now := h.deps.now()

	var out []atomEntry
	if h.generateVerified(body.EventType()) {
		verified := body.Clone()
		verified["event_type"] = novaVerifiedEvent
		data, err := serializer.MarshalEntry(h.feed, serializer.Entity{
			ID:        h.newID(),
			EventType: novaVerifiedEvent,
			Content:   verified,
			Updated:   now,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, atomEntry{eventType: novaVerifiedEvent, body: data})
	}

	data, err := serializer.MarshalEntry(h.feed, serializer.Entity{
		ID:        body.MessageID(),
		EventType: body.EventType(),
		Content:   body,
		Updated:   now,
	})
	if err != nil {
		return nil, err
	}
	return append(out, atomEntry{eventType: body.EventType(), body: data}), nil
}

func (h *AtomPub) generateVerified(eventType string) bool {
	return h.cfg.StackTachDown &&
		eventType == novaExistsEvent &&
		!h.Spec().Excludes(novaVerifiedEvent)
}
