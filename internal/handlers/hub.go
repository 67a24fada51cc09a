package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"usagerelay/internal/pipeline"
	"usagerelay/pkg/models"
)

// Hub announces updated feed topics to a PubSubHubbub hub.
type Hub struct {
	pipeline.Base
	hubURL    string
	topicBase string
	side      *sideChannel
}

func NewHub(deps Deps) (*Hub, error) {
	cfg := deps.Config.Hub
	feed := deps.Config.EventFeed

	port := cfg.Port
	if port == "" {
		port = "80"
	}
	feedHost := feed.FeedHost
	if feedHost == "" {
		feedHost = "127.0.0.1"
	}
	feedPort := feed.Port
	if feedPort == "" {
		feedPort = "80"
	}

	return &Hub{
		Base:      deps.base(NameHub, true),
		hubURL:    fmt.Sprintf("%s://%s:%s", scheme(cfg.UseHTTPS), cfg.Host, port),
		topicBase: fmt.Sprintf("%s://%s:%s/", scheme(feed.UseHTTPS), feedHost, feedPort),
		side:      newSideChannel(NameHub, cfg.Timeout, deps.Config.CircuitBreaker),
	}, nil
}

func scheme(https bool) string {
	if https {
		return "https"
	}
	return "http"
}

// TopicURL is the feed url of one event type.
func (h *Hub) TopicURL(eventType string) string {
	return h.topicBase + eventType
}

func (h *Hub) Handle(ctx context.Context, msgs []*models.Message, env *pipeline.Env) {
	var topics []string
	seen := make(map[string]struct{})
	h.Each(ctx, msgs, env, func(ctx context.Context, _ *models.Message, body models.Notification) {
		eventType := body.EventType()
		if eventType == "" {
			h.Logger().ErrorwCtx(ctx, "Malformed notification, no event type")
			return
		}
		if _, ok := seen[eventType]; ok {
			return
		}
		seen[eventType] = struct{}{}
		topics = append(topics, h.TopicURL(eventType))
	})

	for _, topic := range topics {
		h.publish(ctx, topic)
	}
}

func (h *Hub) publish(ctx context.Context, topic string) {
	h.Logger().InfowCtx(ctx, "Publishing topic", "topic", topic, "hub", h.hubURL)
	form := url.Values{"hub.mode": {"publish"}, "hub.url": {topic}}
	resp, err := h.side.send(ctx, http.MethodPost, h.hubURL, "application/x-www-form-urlencoded", []byte(form.Encode()))
	if err != nil {
		h.Logger().ErrorwCtx(ctx, "Publish failed", "topic", topic, "error", err)
		return
	}
	if resp.Status != http.StatusNoContent {
		h.Logger().ErrorwCtx(ctx, "Publish failed",
			"topic", topic,
			"status", resp.Status,
			"response", resp.Body,
		)
	}
}
