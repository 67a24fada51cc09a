package broker

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"usagerelay/internal/config"
	"usagerelay/internal/constants"
	"usagerelay/internal/logger"
)

// NewSource opens the queue of one consumer on the configured broker.
func NewSource(ctx context.Context, cfg config.BrokerConfig, consumer config.ConsumerConfig, serviceName string, log logger.Logger, opts ...option.ClientOption) (Source, error) {
	switch cfg.Type {
	case constants.BrokerKafka:
		return NewKafkaSource(cfg.Kafka, consumer, serviceName, log), nil
	case constants.BrokerPubSub:
		if cfg.PubSub.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.PubSub.CredentialsFile))
		}
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create pubsub client: %w", err)
		}
		exists, err := client.Subscription(consumer.Queue).Exists(ctx)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to check subscription %s: %w", consumer.Queue, err)
		}
		if !exists {
			_ = client.Close()
			return nil, fmt.Errorf("subscription %s does not exist in project %s", consumer.Queue, cfg.PubSub.ProjectID)
		}
		return NewPubSubSource(client, cfg.PubSub, consumer, log), nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}
