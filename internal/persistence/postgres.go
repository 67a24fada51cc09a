package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"usagerelay/internal/constants"
)

// PostgresStore writes into the events table created by migrations.MigratePostgres.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Name() string { return constants.DriverPostgres }

func (s *PostgresStore) Create(ctx context.Context, ev *Event) (err error) {
	start := time.Now()
	defer func() { observe(constants.DriverPostgres, "insert", start, err) }()

	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	query := `
		INSERT INTO events (message_id, publisher_id, event_type, priority, timestamp, payload, stored_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (message_id) DO NOTHING
	`
	_, err = s.db.ExecContext(ctx, query,
		ev.MessageID, ev.PublisherID, ev.EventType,
		ev.Priority, ev.Timestamp, payload, ev.StoredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store event: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, messageID string) (*Event, error) {
	query := `
		SELECT message_id, publisher_id, event_type, priority, timestamp, payload, stored_at
		FROM events
		WHERE message_id = $1
	`
	var (
		ev      Event
		payload []byte
	)
	err := s.db.QueryRowContext(ctx, query, messageID).Scan(
		&ev.MessageID, &ev.PublisherID, &ev.EventType,
		&ev.Priority, &ev.Timestamp, &payload, &ev.StoredAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	if err := json.Unmarshal(payload, &ev.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return &ev, nil
}

func (s *PostgresStore) Close(context.Context) error { return nil }
