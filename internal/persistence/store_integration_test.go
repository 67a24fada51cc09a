//go:build integration

package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usagerelay/internal/testinfra"
	"usagerelay/pkg/migrations"
	"usagerelay/pkg/models"
)

func sampleEvent() *Event {
	return EventFrom(models.Notification{
		"message_id":   "m-42",
		"publisher_id": "compute.host1",
		"event_type":   "compute.instance.exists",
		"priority":     "INFO",
		"timestamp":    "2024-03-01 09:59:00.123",
		"payload":      map[string]interface{}{"tenant_id": "t1", "memory_mb": float64(512)},
	}, time.Now())
}

func TestRedisStoreIntegration(t *testing.T) {
	client := testinfra.SetupRedis(t)
	ctx := context.Background()

	store := NewRedisStore(client, time.Hour)
	ev := sampleEvent()
	require.NoError(t, store.Create(ctx, ev))

	got, err := store.Get(ctx, ev.EventType, ev.MessageID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "t1", got.Payload["tenant_id"])
	assert.Equal(t, "INFO", got.Priority)

	ttl, err := client.TTL(ctx, Key(ev.EventType, ev.MessageID)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	missing, err := store.Get(ctx, ev.EventType, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMongoStoreIntegration(t *testing.T) {
	_, db := testinfra.SetupMongo(t)
	ctx := context.Background()

	store, err := NewMongoStore(ctx, db, "events", time.Hour)
	require.NoError(t, err)

	ev := sampleEvent()
	require.NoError(t, store.Create(ctx, ev))
	require.NoError(t, store.Create(ctx, ev))

	count, err := db.Collection("events").CountDocuments(ctx, map[string]interface{}{"message_id": ev.MessageID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	got, err := store.Get(ctx, ev.MessageID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "compute.host1", got.PublisherID)
}

func TestPostgresStoreIntegration(t *testing.T) {
	pg := testinfra.SetupPostgres(t)
	ctx := context.Background()

	require.NoError(t, migrations.MigratePostgres(pg.DB))
	require.NoError(t, migrations.MigratePostgres(pg.DB))

	store := NewPostgresStore(pg.DB)
	ev := sampleEvent()
	require.NoError(t, store.Create(ctx, ev))
	require.NoError(t, store.Create(ctx, ev))

	var count int
	require.NoError(t, pg.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&count))
	assert.Equal(t, 1, count)

	got, err := store.Get(ctx, ev.MessageID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, float64(512), got.Payload["memory_mb"])
}
