package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"usagerelay/internal/config"
	"usagerelay/internal/notification"
	"usagerelay/internal/pipeline"
	"usagerelay/pkg/models"
)

const matchAllEvents = "*"

// StackTach reports delivery results for verified events back to StackTach.
type StackTach struct {
	pipeline.Base
	url         string
	events      []string
	resultsFrom []string
	side        *sideChannel
}

func NewStackTach(deps Deps) (*StackTach, error) {
	cfg := deps.Config.StackTach
	return &StackTach{
		Base:        deps.base(NameStackTach, false),
		url:         cfg.URL,
		events:      config.SplitList(cfg.PingEvents),
		resultsFrom: config.SplitList(cfg.ResultsFrom),
		side:        newSideChannel(NameStackTach, cfg.Timeout, deps.Config.CircuitBreaker),
	}, nil
}

type pingStatus struct {
	Status  int    `json:"status"`
	EventID string `json:"event_id,omitempty"`
}

// servicePings maps service to ping message id to status.
type servicePings map[string]map[string]pingStatus

func (p servicePings) add(service, msgID string, st pingStatus) {
	if p[service] == nil {
		p[service] = make(map[string]pingStatus)
	}
	p[service][msgID] = st
}

type pingRequest struct {
	Messages servicePings `json:"messages"`
	Version  int          `json:"version"`
}

func (h *StackTach) matches(eventType string) bool {
	for _, e := range h.events {
		if e == matchAllEvents || e == eventType {
			return true
		}
	}
	return false
}

func (h *StackTach) Handle(ctx context.Context, msgs []*models.Message, env *pipeline.Env) {
	results := make(map[string]pipeline.Results, len(h.resultsFrom))
	for _, slot := range h.resultsFrom {
		r, ok := env.Lookup(slot)
		if !ok {
			h.Logger().ErrorwCtx(ctx, "StackTach ping cannot find results", "slot", slot)
			continue
		}
		results[slot] = r
	}
	if len(results) == 0 {
		h.Logger().ErrorwCtx(ctx, "StackTach ping cannot find any results")
		return
	}

	pings := make(map[string]servicePings, len(results))
	h.Each(ctx, msgs, env, func(_ context.Context, msg *models.Message, body models.Notification) {
		if !h.matches(body.EventType()) {
			return
		}
		msgID := msg.MessageID()
		pingID := msgID
		if orig := body.OriginalMessageID(); orig != "" {
			pingID = orig
		}
		for slot, r := range results {
			st, ok := r[msgID]
			if !ok {
				continue
			}
			service := st.Service
			if service == "" {
				service = string(notification.ServiceNova)
			}
			if pings[slot] == nil {
				pings[slot] = servicePings{}
			}
			pings[slot].add(service, pingID, pingStatus{Status: st.Code, EventID: st.AHEventID})
		}
	})

	for _, slot := range h.resultsFrom {
		if len(pings[slot]) == 0 {
			continue
		}
		h.ping(ctx, slot, pings[slot])
	}
}

func (h *StackTach) ping(ctx context.Context, slot string, ping servicePings) {
	data, err := json.Marshal(pingRequest{Messages: ping, Version: 2})
	if err != nil {
		h.Logger().ErrorwCtx(ctx, "Cannot encode StackTach ping", "slot", slot, "error", err)
		return
	}
	resp, err := h.side.send(ctx, http.MethodPut, h.url, "application/json", data)
	if err != nil && resp.Status == 0 {
		h.Logger().ErrorwCtx(ctx, "StackTach ping failed", "slot", slot, "url", h.url, "error", err)
		return
	}
	if resp.Status != http.StatusOK {
		h.Logger().ErrorwCtx(ctx, "Error posting to StackTach",
			"slot", slot,
			"status", resp.Status,
			"response", resp.Body,
		)
	}
}
