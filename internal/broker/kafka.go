package broker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"usagerelay/internal/config"
	"usagerelay/internal/constants"
	"usagerelay/internal/logger"
	"usagerelay/pkg/metrics"
	"usagerelay/pkg/models"
	"usagerelay/pkg/retry"
	"usagerelay/pkg/tracing"
)

type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSource reads a topic through a consumer group. Offsets of a batch are
// committed only by Commit, after the pipeline has seen every message.
type KafkaSource struct {
	cfg         config.KafkaConfig
	topic       string
	batch       BatchOptions
	reader      kafkaReader
	dlq         kafkaWriter
	pending     []kafka.Message
	serviceName string
	logger      logger.Logger
}

func NewKafkaSource(cfg config.KafkaConfig, consumer config.ConsumerConfig, serviceName string, log logger.Logger) *KafkaSource {
	batch := BatchOptionsFrom(consumer)
	minBytes, maxBytes := cfg.MinBytes, cfg.MaxBytes
	if minBytes <= 0 {
		minBytes = 1
	}
	if maxBytes <= 0 {
		maxBytes = 10e6
	}

	log.Infow("Creating Kafka reader",
		"topic", consumer.Queue,
		"brokers", cfg.Brokers,
		"group_id", cfg.GroupID,
		"service_name", serviceName,
	)
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    consumer.Queue,
		MinBytes: minBytes,
		MaxBytes: maxBytes,
		MaxWait:  batch.Wait,
	})

	var dlq kafkaWriter
	if cfg.DLQTopic != "" {
		dlq = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: constants.KafkaBatchTimeout,
			WriteTimeout: constants.KafkaWriteTimeout,
			Async:        false,
		}
	}
	return newKafkaSource(cfg, consumer.Queue, batch, reader, dlq, serviceName, log)
}

func newKafkaSource(cfg config.KafkaConfig, topic string, batch BatchOptions, reader kafkaReader, dlq kafkaWriter, serviceName string, log logger.Logger) *KafkaSource {
	return &KafkaSource{
		cfg:         cfg,
		topic:       topic,
		batch:       batch,
		reader:      reader,
		dlq:         dlq,
		serviceName: serviceName,
		logger:      log.With("topic", topic),
	}
}

func (s *KafkaSource) Queue() string { return s.topic }

func (s *KafkaSource) Fetch(ctx context.Context) ([]*models.Message, error) {
	s.pending = s.pending[:0]
	out := make([]*models.Message, 0, s.batch.MaxMessages)

	fetchCtx := ctx
	cancel := context.CancelFunc(func() {})
	defer func() { cancel() }()

	for len(s.pending) < s.batch.MaxMessages {
		start := time.Now()
		m, err := s.reader.FetchMessage(fetchCtx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if fetchCtx.Err() != nil {
				break
			}
			return nil, fmt.Errorf("failed to fetch kafka message: %w", err)
		}
		metrics.ObserveKafkaReadDuration(s.serviceName, s.topic, time.Since(start))
		metrics.IncKafkaMessagesRead(s.serviceName, s.topic)
		metrics.ObserveKafkaMessageSize(s.serviceName, s.topic, "read", len(m.Value))
		if m.HighWaterMark > 0 {
			metrics.SetKafkaConsumerLag(s.serviceName, s.topic, m.Partition, m.HighWaterMark-m.Offset-1)
		}

		s.pending = append(s.pending, m)
		if len(s.pending) == 1 {
			fetchCtx, cancel = context.WithTimeout(ctx, s.batch.Wait)
		}

		body, err := Decode(m.Value)
		if err != nil {
			s.deadLetter(ctx, m, err)
			continue
		}
		msg := models.NewMessage(body, nil)
		msg.Queue = s.topic
		msg.Headers = headerMap(m.Headers)
		if !m.Time.IsZero() {
			msg.ReceivedAt = m.Time
		}
		out = append(out, msg)
	}
	return out, nil
}

// Commit commits every offset read by the last Fetch, dead-lettered ones included.
func (s *KafkaSource) Commit(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	policy := s.commitPolicy()
	err := retry.RetryWithCallback(ctx, policy, func() error {
		return s.reader.CommitMessages(ctx, s.pending...)
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues(s.serviceName, s.topic).Inc()
		s.logger.WarnwCtx(ctx, "Retrying offset commit",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"next_delay", nextDelay,
			"error", err,
		)
	})
	if err != nil {
		return fmt.Errorf("failed to commit %d kafka messages: %w", len(s.pending), err)
	}
	s.pending = s.pending[:0]
	return nil
}

func (s *KafkaSource) commitPolicy() retry.Policy {
	policy := retry.Policy{
		MaxAttempts:     constants.KafkaCommitTries,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
	}
	if s.cfg.Retry.MaxAttempts > 0 {
		policy.MaxAttempts = s.cfg.Retry.MaxAttempts
	}
	if s.cfg.Retry.InitialInterval > 0 {
		policy.InitialInterval = s.cfg.Retry.InitialInterval
	}
	if s.cfg.Retry.MaxInterval > 0 {
		policy.MaxInterval = s.cfg.Retry.MaxInterval
	}
	if s.cfg.Retry.Multiplier > 0 {
		policy.Multiplier = s.cfg.Retry.Multiplier
	}
	return policy
}

func (s *KafkaSource) deadLetter(ctx context.Context, m kafka.Message, cause error) {
	ctx, span := tracing.StartSpanFromKafkaMessage(ctx, "kafka.dead_letter", m.Headers)
	defer span.End()
	tracing.RecordError(span, cause)

	if s.dlq == nil {
		s.logger.WarnwCtx(ctx, "No DLQ configured, dropping undecodable message",
			"partition", m.Partition,
			"offset", m.Offset,
			"error", cause,
		)
		return
	}
	headers := append([]kafka.Header{}, m.Headers...)
	headers = append(headers,
		kafka.Header{Key: "dlq_reason", Value: []byte(cause.Error())},
		kafka.Header{Key: "dlq_source_topic", Value: []byte(s.topic)},
		kafka.Header{Key: "dlq_source_offset", Value: []byte(strconv.FormatInt(m.Offset, 10))},
		kafka.Header{Key: "dlq_timestamp", Value: []byte(time.Now().UTC().Format(time.RFC3339Nano))},
	)
	headers = tracing.InjectTraceContext(ctx, headers)
	err := s.dlq.WriteMessages(ctx, kafka.Message{
		Topic:   s.cfg.DLQTopic,
		Key:     m.Key,
		Value:   m.Value,
		Headers: headers,
		Time:    time.Now(),
	})
	if err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to send message to DLQ",
			"dlq_topic", s.cfg.DLQTopic,
			"offset", m.Offset,
			"error", err,
		)
		return
	}
	metrics.DLQMessagesTotal.WithLabelValues(s.serviceName, s.topic, "undecodable").Inc()
	metrics.IncKafkaMessagesWritten(s.serviceName, s.cfg.DLQTopic)
	metrics.ObserveKafkaMessageSize(s.serviceName, s.cfg.DLQTopic, "write", len(m.Value))
	s.logger.InfowCtx(ctx, "Message sent to DLQ",
		"dlq_topic", s.cfg.DLQTopic,
		"offset", m.Offset,
		"reason", cause.Error(),
	)
}

func (s *KafkaSource) Close() error {
	err := s.reader.Close()
	if s.dlq != nil {
		if closeErr := s.dlq.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}

func headerMap(headers []kafka.Header) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for _, h := range headers {
		out[h.Key] = string(h.Value)
	}
	return out
}
