package broker

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"usagerelay/internal/config"
	"usagerelay/internal/constants"
	"usagerelay/internal/logger"
)

const (
	testProject = "relay-project"
	testTopic   = "monitor-info"
	testSub     = "monitor-info-relay"
)

func setupPubSub(t *testing.T, ctx context.Context) (*pstest.Server, *pubsub.Topic, []option.ClientOption) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	opts := []option.ClientOption{option.WithGRPCConn(conn)}

	admin, err := pubsub.NewClient(ctx, testProject, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = admin.Close() })

	topic, err := admin.CreateTopic(ctx, testTopic)
	require.NoError(t, err)
	_, err = admin.CreateSubscription(ctx, testSub, pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)
	t.Cleanup(topic.Stop)
	return srv, topic, opts
}

func publish(t *testing.T, ctx context.Context, topic *pubsub.Topic, data string, attrs map[string]string) {
	t.Helper()
	_, err := topic.Publish(ctx, &pubsub.Message{Data: []byte(data), Attributes: attrs}).Get(ctx)
	require.NoError(t, err)
}

func TestPubSubSourceBatchesAndAcks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv, topic, opts := setupPubSub(t, ctx)

	publish(t, ctx, topic, `{"message_id":"a","event_type":"compute.instance.exists"}`, map[string]string{"traceparent": "x"})
	publish(t, ctx, topic, `garbage`, nil)
	publish(t, ctx, topic, `{"message_id":"b","event_type":"compute.instance.exists"}`, nil)

	src, err := NewSource(ctx,
		config.BrokerConfig{Type: constants.BrokerPubSub, PubSub: config.PubSubConfig{ProjectID: testProject}},
		config.ConsumerConfig{Queue: testSub, MaxMessages: 2, BatchWait: 500 * time.Millisecond},
		"relay-test", logger.NopLogger(), opts...)
	require.NoError(t, err)
	defer src.Close()

	batch, err := src.Fetch(ctx)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	ids := []string{batch[0].MessageID(), batch[1].MessageID()}
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
	assert.Equal(t, testSub, batch[0].Queue)

	for _, m := range batch {
		m.Ack()
	}
	require.NoError(t, src.Commit(ctx))

	assert.Eventually(t, func() bool {
		acked := 0
		for _, m := range srv.Messages() {
			if m.Acks > 0 {
				acked++
			}
		}
		return acked == 3
	}, 5*time.Second, 20*time.Millisecond)
}

func TestPubSubSourceReturnsPartialBatch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, topic, opts := setupPubSub(t, ctx)

	publish(t, ctx, topic, `{"message_id":"a"}`, nil)

	src, err := NewSource(ctx,
		config.BrokerConfig{Type: constants.BrokerPubSub, PubSub: config.PubSubConfig{ProjectID: testProject}},
		config.ConsumerConfig{Queue: testSub, MaxMessages: 10, BatchWait: 100 * time.Millisecond},
		"relay-test", logger.NopLogger(), opts...)
	require.NoError(t, err)
	defer src.Close()

	batch, err := src.Fetch(ctx)
	require.NoError(t, err)
	assert.Len(t, batch, 1)
}

func TestNewSourceRejectsMissingSubscription(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, _, opts := setupPubSub(t, ctx)

	_, err := NewSource(ctx,
		config.BrokerConfig{Type: constants.BrokerPubSub, PubSub: config.PubSubConfig{ProjectID: testProject}},
		config.ConsumerConfig{Queue: "nope"},
		"relay-test", logger.NopLogger(), opts...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestNewSourceRejectsUnknownBroker(t *testing.T) {
	_, err := NewSource(context.Background(), config.BrokerConfig{Type: "amqp"},
		config.ConsumerConfig{Queue: "monitor.info"}, "relay-test", logger.NopLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown broker type")
}
