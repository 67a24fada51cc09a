// Package persistence stores raw notifications in Redis, MongoDB or PostgreSQL.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"usagerelay/internal/config"
	"usagerelay/internal/constants"
	"usagerelay/internal/logger"
	"usagerelay/pkg/errors"
	"usagerelay/pkg/metrics"
	"usagerelay/pkg/models"
)

const metricsService = "persistence"

// Event is the stored form of a notification.
type Event struct {
	MessageID   string                 `json:"message_id" bson:"message_id" msgpack:"message_id"`
	PublisherID string                 `json:"publisher_id" bson:"publisher_id" msgpack:"publisher_id"`
	EventType   string                 `json:"event_type" bson:"event_type" msgpack:"event_type"`
	Priority    string                 `json:"priority" bson:"priority" msgpack:"priority"`
	Timestamp   string                 `json:"timestamp" bson:"timestamp" msgpack:"timestamp"`
	Payload     map[string]interface{} `json:"payload" bson:"payload" msgpack:"payload"`
	StoredAt    time.Time              `json:"stored_at" bson:"stored_at" msgpack:"stored_at"`
}

// EventFrom copies the stored keys out of n. Absent keys become empty values.
func EventFrom(n models.Notification, now time.Time) *Event {
	payload := n.Payload()
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return &Event{
		MessageID:   n.MessageID(),
		PublisherID: scalar(n["publisher_id"]),
		EventType:   n.EventType(),
		Priority:    scalar(n["priority"]),
		Timestamp:   scalar(n["timestamp"]),
		Payload:     payload,
		StoredAt:    now.UTC(),
	}
}

func scalar(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// Store writes events. Writing an already stored message id is not an error.
type Store interface {
	Name() string
	Create(ctx context.Context, ev *Event) error
	Close(ctx context.Context) error
}

// Clients are the connections a store may be built on. Unused ones may be nil.
type Clients struct {
	Redis    *redis.Client
	Mongo    *mongo.Database
	Postgres *sql.DB
}

// New builds the store selected by cfg.Driver.
func New(ctx context.Context, cfg config.PersistenceConfig, clients Clients, log logger.Logger) (Store, error) {
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	collection := cfg.Collection
	if collection == "" {
		collection = constants.DefaultEventsCollection
	}

	switch cfg.Driver {
	case constants.DriverRedis, "":
		if clients.Redis == nil {
			return nil, errors.ErrConfig.WithMessage("persistence driver redis requires a redis connection")
		}
		return NewRedisStore(clients.Redis, ttl), nil
	case constants.DriverMongoDB:
		if clients.Mongo == nil {
			return nil, errors.ErrConfig.WithMessage("persistence driver mongodb requires database.mongodb.uri")
		}
		return NewMongoStore(ctx, clients.Mongo, collection, ttl)
	case constants.DriverPostgres:
		if clients.Postgres == nil {
			return nil, errors.ErrConfig.WithMessage("persistence driver postgres requires database.postgres.host")
		}
		return NewPostgresStore(clients.Postgres), nil
	default:
		return nil, errors.ErrConfig.WithMessage("unknown persistence driver %q", cfg.Driver)
	}
}

func observe(driver, operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.IncDatabaseQuery(metricsService, driver, operation, status)
	metrics.ObserveDatabaseQueryDuration(metricsService, driver, operation, time.Since(start))
	metrics.PersistenceWritesTotal.WithLabelValues(driver, status).Inc()
}
