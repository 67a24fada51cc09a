//go:build integration

package broker

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usagerelay/internal/config"
	"usagerelay/internal/logger"
	"usagerelay/internal/testinfra"
)

func TestKafkaSourceCommitsBatch(t *testing.T) {
	brokers := testinfra.SetupKafka(t)
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	const topic = "monitor.info"
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}
	defer w.Close()

	require.Eventually(t, func() bool {
		return w.WriteMessages(ctx,
			kafka.Message{Value: []byte(`{"message_id":"a","event_type":"compute.instance.exists"}`)},
			kafka.Message{Value: []byte(`{"message_id":"b","event_type":"compute.instance.exists"}`)},
		) == nil
	}, 30*time.Second, time.Second)

	cfg := config.KafkaConfig{Brokers: brokers, GroupID: "relay-it"}
	consumer := config.ConsumerConfig{Queue: topic, MaxMessages: 2, BatchWait: 5 * time.Second}

	src := NewKafkaSource(cfg, consumer, "relay-test", logger.NopLogger())
	batch, err := src.Fetch(ctx)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "a", batch[0].MessageID())
	require.NoError(t, src.Commit(ctx))
	require.NoError(t, src.Close())

	require.NoError(t, w.WriteMessages(ctx,
		kafka.Message{Value: []byte(`{"message_id":"c","event_type":"compute.instance.exists"}`)},
	))

	again := NewKafkaSource(cfg, consumer, "relay-test", logger.NopLogger())
	defer again.Close()
	batch, err = again.Fetch(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, batch)
	assert.Equal(t, "c", batch[0].MessageID())
}
