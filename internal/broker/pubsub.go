package broker

import (
	"context"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"

	"usagerelay/internal/config"
	"usagerelay/internal/logger"
	"usagerelay/pkg/metrics"
	"usagerelay/pkg/models"
)

// PubSubSource reads a Pub/Sub subscription. Every message carries its own
// Ack and Nack so Commit has nothing to do.
type PubSubSource struct {
	client *pubsub.Client
	sub    *pubsub.Subscription
	queue  string
	batch  BatchOptions
	logger logger.Logger

	msgs      chan *models.Message
	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
	mu        sync.Mutex
	recvErr   error
}

// NewPubSubSource consumes consumer.Queue as a subscription id. The source
// owns client and closes it.
func NewPubSubSource(client *pubsub.Client, cfg config.PubSubConfig, consumer config.ConsumerConfig, log logger.Logger) *PubSubSource {
	batch := BatchOptionsFrom(consumer)
	sub := client.Subscription(consumer.Queue)
	sub.ReceiveSettings.MaxOutstandingMessages = batch.MaxMessages
	if cfg.MaxOutstandingMessages > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstandingMessages
	}
	if cfg.NumGoroutines > 0 {
		sub.ReceiveSettings.NumGoroutines = cfg.NumGoroutines
	}
	return &PubSubSource{
		client: client,
		sub:    sub,
		queue:  consumer.Queue,
		batch:  batch,
		logger: log.With("subscription", consumer.Queue),
		msgs:   make(chan *models.Message, batch.MaxMessages),
		done:   make(chan struct{}),
	}
}

func (s *PubSubSource) Queue() string { return s.queue }

func (s *PubSubSource) start(ctx context.Context) {
	recvCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.logger.Infow("Starting Pub/Sub receiver")
	go func() {
		defer close(s.done)
		err := s.sub.Receive(recvCtx, func(ctx context.Context, m *pubsub.Message) {
			body, err := Decode(m.Data)
			if err != nil {
				metrics.PubSubMessagesTotal.WithLabelValues(s.queue, "undecodable").Inc()
				s.logger.ErrorwCtx(ctx, "Dropping undecodable message",
					"pubsub_id", m.ID,
					"error", err,
				)
				m.Ack()
				return
			}
			msg := models.NewMessage(body, func() {
				metrics.PubSubMessagesTotal.WithLabelValues(s.queue, "acked").Inc()
				m.Ack()
			})
			msg.SetNack(func() {
				metrics.PubSubMessagesTotal.WithLabelValues(s.queue, "nacked").Inc()
				m.Nack()
			})
			msg.Queue = s.queue
			msg.Headers = m.Attributes
			if !m.PublishTime.IsZero() {
				msg.ReceivedAt = m.PublishTime
			}
			metrics.PubSubMessagesTotal.WithLabelValues(s.queue, "received").Inc()

			select {
			case s.msgs <- msg:
			case <-ctx.Done():
				m.Nack()
			}
		})
		if err != nil && recvCtx.Err() == nil {
			s.mu.Lock()
			s.recvErr = err
			s.mu.Unlock()
			s.logger.Errorw("Pub/Sub receiver stopped", "error", err)
		}
	}()
}

func (s *PubSubSource) Fetch(ctx context.Context) ([]*models.Message, error) {
	s.startOnce.Do(func() { s.start(ctx) })

	var out []*models.Message
	select {
	case msg := <-s.msgs:
		out = append(out, msg)
	case <-s.done:
		return nil, s.err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	timer := time.NewTimer(s.batch.Wait)
	defer timer.Stop()
	for len(out) < s.batch.MaxMessages {
		select {
		case msg := <-s.msgs:
			out = append(out, msg)
		case <-timer.C:
			return out, nil
		case <-ctx.Done():
			for _, msg := range out {
				msg.Nack()
			}
			return nil, ctx.Err()
		}
	}
	return out, nil
}

func (s *PubSubSource) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recvErr != nil {
		return s.recvErr
	}
	return context.Canceled
}

func (s *PubSubSource) Commit(context.Context) error { return nil }

func (s *PubSubSource) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return s.client.Close()
}
