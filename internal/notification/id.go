package notification

import (
	"context"

	"github.com/google/uuid"

	"usagerelay/internal/logger"
	"usagerelay/pkg/metrics"
	"usagerelay/pkg/models"
)

// DeterministicID returns a version 5 UUID in the namespace of key over name.
// A key that is not itself a UUID is first hashed into the URL namespace.
func DeterministicID(key, name string) (string, bool) {
	if key == "" {
		return "", false
	}
	ns, err := uuid.Parse(key)
	if err != nil {
		ns = uuid.NewSHA1(uuid.NameSpaceURL, []byte(key))
	}
	return uuid.NewSHA1(ns, []byte(name)).String(), true
}

// CorrelationKey is the original message id, or the synthesized unique id when
// the notification has none.
func CorrelationKey(n models.Notification) string {
	if id := n.OriginalMessageID(); id != "" {
		return id
	}
	return n.UniqueID()
}

// RecordName joins the event type of the usage record (not of the source
// notification) and an optional disambiguator. Every notification describing
// the same audit period of a resource therefore maps to one record id, and the
// usage endpoint answers repeats with 409.
func RecordName(recordEventType, disambiguator string) string {
	if disambiguator == "" {
		return recordEventType
	}
	return recordEventType + ":" + disambiguator
}

type idGenerator struct {
	random func() string
	logger logger.Logger
}

func (g idGenerator) recordID(ctx context.Context, n models.Notification, eventType, disambiguator string) string {
	if id, ok := DeterministicID(CorrelationKey(n), RecordName(eventType, disambiguator)); ok {
		return id
	}
	metrics.RandomIDFallbackTotal.WithLabelValues(eventType).Inc()
	g.logger.WarnwCtx(ctx, "No correlation key, usage record gets a random id",
		"message_id", n.MessageID(),
		"event_type", eventType,
	)
	return g.random()
}
