package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"usagerelay/internal/config"
	"usagerelay/internal/logger"
	pkgerrors "usagerelay/pkg/errors"
	"usagerelay/pkg/models"
)

func TestEventFrom(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.FixedZone("x", 3600))
	n := models.Notification{
		"message_id":   "m-1",
		"publisher_id": "compute.host1",
		"event_type":   "compute.instance.exists",
		"priority":     "INFO",
		"timestamp":    "2024-03-01 09:59:00.123",
		"payload":      map[string]interface{}{"tenant_id": "t1"},
	}

	ev := EventFrom(n, now)
	assert.Equal(t, "m-1", ev.MessageID)
	assert.Equal(t, "compute.host1", ev.PublisherID)
	assert.Equal(t, "compute.instance.exists", ev.EventType)
	assert.Equal(t, "INFO", ev.Priority)
	assert.Equal(t, "2024-03-01 09:59:00.123", ev.Timestamp)
	assert.Equal(t, "t1", ev.Payload["tenant_id"])
	assert.Equal(t, time.UTC, ev.StoredAt.Location())
}

func TestEventFromMissingKeys(t *testing.T) {
	ev := EventFrom(models.Notification{"event_type": "x", "priority": 3}, time.Now())
	assert.Empty(t, ev.MessageID)
	assert.Empty(t, ev.PublisherID)
	assert.Equal(t, "3", ev.Priority)
	assert.NotNil(t, ev.Payload)
}

func TestEventMsgpackKeys(t *testing.T) {
	ev := EventFrom(models.Notification{"message_id": "m-1", "event_type": "x"}, time.Now())
	data, err := msgpack.Marshal(ev)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, msgpack.Unmarshal(data, &raw))
	assert.Equal(t, "m-1", raw["message_id"])
	assert.Contains(t, raw, "stored_at")
}

func TestKey(t *testing.T) {
	assert.Equal(t, "usagerelay:event:compute.instance.exists:m-1", Key("compute.instance.exists", "m-1"))
}

func TestNewRequiresClient(t *testing.T) {
	tests := []struct {
		driver string
		want   string
	}{
		{driver: "redis", want: "redis connection"},
		{driver: "mongodb", want: "database.mongodb.uri"},
		{driver: "postgres", want: "database.postgres.host"},
		{driver: "cassandra", want: "unknown persistence driver"},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			_, err := New(context.Background(), config.PersistenceConfig{Driver: tt.driver}, Clients{}, logger.NopLogger())
			require.Error(t, err)
			assert.True(t, errors.Is(err, pkgerrors.ErrConfig))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
