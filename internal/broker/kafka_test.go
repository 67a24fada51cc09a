package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usagerelay/internal/config"
	"usagerelay/internal/logger"
)

type fakeReader struct {
	mu         sync.Mutex
	queue      []kafka.Message
	committed  []kafka.Message
	commitErrs []error
	closed     bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.commitErrs) > 0 {
		err := r.commitErrs[0]
		r.commitErrs = r.commitErrs[1:]
		return err
	}
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

type fakeWriter struct {
	written []kafka.Message
	err     error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.written = append(w.written, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func kafkaMsg(offset int64, value string) kafka.Message {
	return kafka.Message{
		Topic:   "monitor.info",
		Offset:  offset,
		Value:   []byte(value),
		Headers: []kafka.Header{{Key: "traceparent", Value: []byte("00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01")}},
	}
}

func newTestKafkaSource(reader *fakeReader, dlq kafkaWriter, max int) *KafkaSource {
	cfg := config.KafkaConfig{DLQTopic: "relay.dlq", Retry: config.RetryConfig{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		Multiplier:      1,
	}}
	return newKafkaSource(cfg, "monitor.info", BatchOptions{MaxMessages: max, Wait: 20 * time.Millisecond},
		reader, dlq, "relay-test", logger.NopLogger())
}

func TestKafkaFetchStopsAtMaxMessages(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		kafkaMsg(1, `{"message_id":"a","event_type":"compute.instance.exists"}`),
		kafkaMsg(2, `{"message_id":"b","event_type":"compute.instance.exists"}`),
		kafkaMsg(3, `{"message_id":"c","event_type":"compute.instance.exists"}`),
	}}
	src := newTestKafkaSource(reader, nil, 2)

	batch, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "a", batch[0].MessageID())
	assert.Equal(t, "monitor.info", batch[0].Queue)
	assert.Contains(t, batch[0].Headers, "traceparent")

	require.NoError(t, src.Commit(context.Background()))
	assert.Len(t, reader.committed, 2)
}

func TestKafkaFetchReturnsPartialBatchAfterWait(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		kafkaMsg(1, `{"message_id":"a","event_type":"compute.instance.exists"}`),
	}}
	src := newTestKafkaSource(reader, nil, 10)

	start := time.Now()
	batch, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, batch, 1)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestKafkaFetchHonorsCancellation(t *testing.T) {
	src := newTestKafkaSource(&fakeReader{}, nil, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	batch, err := src.Fetch(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, batch)
}

func TestKafkaUndecodableGoesToDLQAndIsCommitted(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		kafkaMsg(7, `not json`),
		kafkaMsg(8, `{"message_id":"b","event_type":"compute.instance.exists"}`),
	}}
	dlq := &fakeWriter{}
	src := newTestKafkaSource(reader, dlq, 2)

	batch, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "b", batch[0].MessageID())

	require.Len(t, dlq.written, 1)
	assert.Equal(t, "relay.dlq", dlq.written[0].Topic)
	assert.Equal(t, []byte("not json"), dlq.written[0].Value)
	headers := headerMap(dlq.written[0].Headers)
	assert.Equal(t, "monitor.info", headers["dlq_source_topic"])
	assert.Equal(t, "7", headers["dlq_source_offset"])
	assert.NotEmpty(t, headers["dlq_reason"])

	require.NoError(t, src.Commit(context.Background()))
	assert.Len(t, reader.committed, 2)
}

func TestKafkaCommitRetries(t *testing.T) {
	reader := &fakeReader{
		queue:      []kafka.Message{kafkaMsg(1, `{"message_id":"a"}`)},
		commitErrs: []error{errors.New("coordinator moved"), errors.New("coordinator moved")},
	}
	src := newTestKafkaSource(reader, nil, 1)

	_, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.NoError(t, src.Commit(context.Background()))
	assert.Len(t, reader.committed, 1)
	assert.Empty(t, src.pending)
}

func TestKafkaCommitGivesUp(t *testing.T) {
	boom := errors.New("coordinator moved")
	reader := &fakeReader{
		queue:      []kafka.Message{kafkaMsg(1, `{"message_id":"a"}`)},
		commitErrs: []error{boom, boom, boom},
	}
	src := newTestKafkaSource(reader, nil, 1)

	_, err := src.Fetch(context.Background())
	require.NoError(t, err)
	err = src.Commit(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, reader.committed)
}

func TestKafkaCloseClosesReader(t *testing.T) {
	reader := &fakeReader{}
	src := newTestKafkaSource(reader, &fakeWriter{}, 1)
	require.NoError(t, src.Close())
	assert.True(t, reader.closed)
}
