package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureMongoEvents creates the indexes of the persisted events collection.
func EnsureMongoEvents(ctx context.Context, db *mongo.Database, collection string) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "message_id", Value: 1}},
			Options: options.Index().SetName("idx_events_message_id").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "event_type", Value: 1}, {Key: "stored_at", Value: -1}},
			Options: options.Index().SetName("idx_events_event_type_stored_at"),
		},
	}

	_, err := db.Collection(collection).Indexes().CreateMany(ctx, indexes)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// EnsureMongoTTL expires stored events after ttlSeconds. Zero disables expiry.
func EnsureMongoTTL(ctx context.Context, db *mongo.Database, collection string, ttlSeconds int32) error {
	if ttlSeconds <= 0 {
		return nil
	}
	model := mongo.IndexModel{
		Keys:    bson.D{{Key: "stored_at", Value: 1}},
		Options: options.Index().SetName("idx_events_ttl").SetExpireAfterSeconds(ttlSeconds),
	}
	if _, err := db.Collection(collection).Indexes().CreateOne(ctx, model); err != nil &&
		!strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create ttl index: %w", err)
	}
	return nil
}
