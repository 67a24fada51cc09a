package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usagerelay/internal/persistence"
	"usagerelay/pkg/models"
)

type memStore struct {
	events []*persistence.Event
	err    error
}

func (s *memStore) Name() string { return "memory" }

func (s *memStore) Create(_ context.Context, ev *persistence.Event) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *memStore) Close(context.Context) error { return nil }

func TestPersisterStoresEvents(t *testing.T) {
	store := &memStore{}
	deps := testDeps(testConfig())
	deps.Store = store

	h, err := NewPersister(deps)
	require.NoError(t, err)

	incomplete := models.NewMessageBuilder().WithMessageID("m-2").WithEventType("x").Build()
	run(h, message("m-1", "compute.instance.exists", map[string]interface{}{"tenant_id": "t1"}), incomplete)

	require.Len(t, store.events, 2)
	ev := store.events[0]
	assert.Equal(t, "m-1", ev.MessageID)
	assert.Equal(t, "compute.host1", ev.PublisherID)
	assert.Equal(t, "INFO", ev.Priority)
	assert.Equal(t, "t1", ev.Payload["tenant_id"])
	assert.Equal(t, fixedNow, ev.StoredAt)
	assert.Equal(t, "m-2", store.events[1].MessageID)
}

func TestPersisterContinuesAfterStoreError(t *testing.T) {
	store := &memStore{err: errors.New("connection refused")}
	deps := testDeps(testConfig())
	deps.Store = store

	h, err := NewPersister(deps)
	require.NoError(t, err)

	msg := message("m-1", "compute.instance.exists", nil)
	assert.NotPanics(t, func() { run(h, msg, message("m-2", "x", nil)) })
	assert.False(t, msg.Acknowledged())
}
