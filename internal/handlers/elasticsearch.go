package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"usagerelay/internal/notification"
	"usagerelay/internal/pipeline"
	"usagerelay/pkg/errors"
	"usagerelay/pkg/models"
)

const (
	esTimestampKey     = "@timestamp"
	instanceExistsKind = "instance.exists"
	successMessage     = "Success"
)

// esDateFields are payload dates indexed as epoch milliseconds.
var esDateFields = []string{
	"audit_period_beginning",
	"audit_period_ending",
	"launched_at",
	"deleted_at",
	"created_at",
	"terminated_at",
}

// Elasticsearch indexes instance.exists events and the CUF events that were
// accepted for them.
type Elasticsearch struct {
	pipeline.Base
	host   string
	region string
	side   *sideChannel
	now    func() time.Time
}

func NewElasticsearch(deps Deps) (*Elasticsearch, error) {
	cfg := deps.Config.Elasticsearch
	if cfg.Host == "" {
		return nil, errors.ErrConfig.WithMessage("elasticsearch.elasticsearch_host is required")
	}
	return &Elasticsearch{
		Base:   deps.base(NameElasticsearch, true),
		host:   cfg.Host,
		region: cfg.Region,
		side:   newSideChannel(NameElasticsearch, cfg.Timeout, deps.Config.CircuitBreaker),
		now:    deps.now,
	}, nil
}

func (h *Elasticsearch) Handle(ctx context.Context, msgs []*models.Message, env *pipeline.Env) {
	var verified []string
	h.Each(ctx, msgs, env, func(ctx context.Context, msg *models.Message, body models.Notification) {
		eventType := body.EventType()
		if !strings.Contains(eventType, instanceExistsKind) {
			return
		}
		event, err := h.event(ctx, body)
		if err != nil {
			h.Logger().ErrorwCtx(ctx, "Malformed notification", "error", err)
			return
		}
		h.send(ctx, event)
		if eventType == novaVerifiedEvent {
			verified = append(verified, msg.MessageID())
		}
	})

	cuf, _ := env.Lookup(pipeline.CufPubResults)
	for _, msgID := range verified {
		r, ok := cuf[msgID]
		if !ok || r.Error || r.Message != successMessage {
			continue
		}
		h.Logger().DebugwCtx(ctx, "Synthesizing CUF event", "ah_event_id", r.AHEventID)
		h.send(ctx, map[string]interface{}{
			"error":               r.Error,
			"code":                r.Code,
			"message":             r.Message,
			"service":             r.Service,
			"ah_event_id":         r.AHEventID,
			"when":                h.now().UTC(),
			"original_message_id": msgID,
			"event_type":          notification.NovaVerifiedEvent,
			"message_id":          r.AHEventID,
		})
	}
}

// event flattens a notification into an index document. The timestamp is
// required, as is audit_period_ending for compute.instance.exists.
func (h *Elasticsearch) event(ctx context.Context, body models.Notification) (map[string]interface{}, error) {
	when, ok, err := notification.ParseTime("timestamp", body.String("timestamp"))
	if err != nil || !ok {
		return nil, errors.ErrMalformedNotification.WithMessage("missing or invalid timestamp")
	}

	event := map[string]interface{}{
		"event_type": body.EventType(),
		"message_id": body.MessageID(),
		"when":       when,
	}
	if v, ok := body["request_id"]; ok {
		event["request_id"] = v
	}
	for k, v := range body.Payload() {
		switch v.(type) {
		case map[string]interface{}, []interface{}:
			continue
		}
		event[k] = v
	}
	for _, key := range esDateFields {
		s, ok := event[key].(string)
		if !ok {
			continue
		}
		if t, ok, err := notification.ParseTime(key, s); err == nil && ok {
			event[key] = t
		} else {
			h.Logger().DebugwCtx(ctx, "Leaving unparsable date as text", "field", key)
		}
	}

	if body.EventType() == novaExistsEvent {
		if _, ok := event["audit_period_ending"].(time.Time); !ok {
			return nil, errors.ErrMalformedNotification.WithMessage("missing required field audit_period_ending")
		}
	}
	return event, nil
}

func (h *Elasticsearch) send(ctx context.Context, event map[string]interface{}) {
	if event["event_type"] == novaExistsEvent {
		event[esTimestampKey] = event["audit_period_ending"]
	} else {
		event[esTimestampKey] = event["when"]
	}
	event["region"] = h.region

	data, err := json.Marshal(EpochMillis(event))
	if err != nil {
		h.Logger().ErrorwCtx(ctx, "Cannot encode Elasticsearch event", "error", err)
		return
	}
	h.Logger().DebugwCtx(ctx, "Sending to Elasticsearch", "event", string(data))
	if _, err := h.side.send(ctx, http.MethodPost, h.host, "application/json", data); err != nil {
		h.Logger().ErrorwCtx(ctx, "Error sending event to Elasticsearch", "error", err)
	}
}

// EpochMillis replaces every time.Time value with milliseconds since the epoch.
func EpochMillis(event map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(event))
	for k, v := range event {
		if t, ok := v.(time.Time); ok {
			out[k] = t.UnixMilli()
			continue
		}
		out[k] = v
	}
	return out
}
