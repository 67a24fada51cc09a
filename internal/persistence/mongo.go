package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"usagerelay/internal/constants"
	"usagerelay/pkg/migrations"
)

type MongoStore struct {
	collection *mongo.Collection
}

// NewMongoStore ensures the collection indexes, including expiry when ttl is set.
func NewMongoStore(ctx context.Context, db *mongo.Database, collection string, ttl time.Duration) (*MongoStore, error) {
	if err := migrations.EnsureMongoEvents(ctx, db, collection); err != nil {
		return nil, err
	}
	if err := migrations.EnsureMongoTTL(ctx, db, collection, int32(ttl/time.Second)); err != nil {
		return nil, err
	}
	return &MongoStore{collection: db.Collection(collection)}, nil
}

func (s *MongoStore) Name() string { return constants.DriverMongoDB }

func (s *MongoStore) Create(ctx context.Context, ev *Event) (err error) {
	start := time.Now()
	defer func() { observe(constants.DriverMongoDB, "upsert", start, err) }()

	filter := bson.M{"message_id": ev.MessageID}
	_, err = s.collection.ReplaceOne(ctx, filter, ev, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to store event: %w", err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, messageID string) (*Event, error) {
	var ev Event
	err := s.collection.FindOne(ctx, bson.M{"message_id": messageID}).Decode(&ev)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return &ev, nil
}

func (s *MongoStore) Close(context.Context) error { return nil }
