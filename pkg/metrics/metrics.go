package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	BatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_batches_total",
			Help: "Total number of batches handed to a pipeline (count)",
		},
		[]string{"queue", "status"},
	)

	BatchMessages = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_batch_messages",
			Help:    "Number of messages per fetched batch (count)",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"queue"},
	)

	BatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_batch_duration_ms",
			Help:    "Time spent running one batch through a pipeline in milliseconds",
			Buckets: []float64{1, 10, 50, 100, 500, 1000, 5000, 30000, 120000, 600000},
		},
		[]string{"queue"},
	)

	HandlerMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_handler_messages_total",
			Help: "Total number of messages seen by a handler (count)",
		},
		[]string{"handler", "status"},
	)

	HandlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_handler_duration_ms",
			Help:    "Time spent in one handler per batch in milliseconds",
			Buckets: []float64{1, 10, 50, 100, 500, 1000, 5000, 30000, 120000},
		},
		[]string{"handler"},
	)

	HandlerPanicsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_handler_panics_total",
			Help: "Total number of panics recovered from handlers (count)",
		},
		[]string{"handler"},
	)

	DeliveryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_delivery_attempts_total",
			Help: "Total number of HTTP delivery attempts by classified outcome (count)",
		},
		[]string{"handler", "outcome"},
	)

	DeliveryResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_delivery_results_total",
			Help: "Total number of terminal delivery results (count)",
		},
		[]string{"handler", "result"},
	)

	DeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_delivery_duration_ms",
			Help:    "Duration of single HTTP delivery attempts in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 5000, 30000},
		},
		[]string{"handler"},
	)

	ReauthTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_reauth_total",
			Help: "Total number of forced delivery channel rebuilds (count)",
		},
		[]string{"handler", "reason"},
	)

	AuthTokenRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_auth_token_requests_total",
			Help: "Total number of token requests sent to the auth server (count)",
		},
		[]string{"method", "status"},
	)

	RandomIDFallbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_random_id_fallback_total",
			Help: "Usage records that got a random id because no correlation key was present (count)",
		},
		[]string{"event_type"},
	)

	NotificationParseErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_notification_parse_errors_total",
			Help: "Unparsable notification fields treated as absent (count)",
		},
		[]string{"field"},
	)

	PayloadFilterErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_payload_filter_errors_total",
			Help: "Payload filter evaluation failures (count)",
		},
		[]string{"filter"},
	)

	SideChannelRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_side_channel_requests_total",
			Help: "Requests to confirmation, search and hub endpoints (count)",
		},
		[]string{"handler", "status"},
	)

	ArchiveRollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_archive_rolls_total",
			Help: "Archive files closed and handed to a roll callback (count)",
		},
		[]string{"callback", "status"},
	)

	PersistenceWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_persistence_writes_total",
			Help: "Events written by the persistence handler (count)",
		},
		[]string{"driver", "status"},
	)

	RedeliveriesSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_redeliveries_skipped_total",
			Help: "Messages acknowledged without processing because they were already handled (count)",
		},
		[]string{"queue"},
	)

	RedeliveryChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_redelivery_checks_total",
			Help: "Redelivery guard lookups by outcome (count)",
		},
		[]string{"status"},
	)

	RedeliveryCheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_redelivery_check_duration_ms",
			Help:    "Redelivery guard lookup latency (milliseconds)",
			Buckets: []float64{0.5, 1, 2, 5, 10, 25, 50, 100},
		},
		[]string{"status"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "topic"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of messages sent to DLQ (count)",
		},
		[]string{"service", "topic", "reason"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	FallbackUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallback_usage_total",
			Help: "Total number of times fallback strategies were used (count)",
		},
		[]string{"service", "strategy", "reason"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessageSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_message_size_bytes",
			Help:    "Size of Kafka messages in bytes",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000},
		},
		[]string{"service", "topic", "direction"},
	)

	KafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag (difference between latest offset and committed offset) (count)",
		},
		[]string{"service", "topic", "partition"},
	)

	KafkaReadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_read_duration_ms",
			Help:    "Duration of reading messages from Kafka in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "topic"},
	)

	PubSubMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pubsub_messages_total",
			Help: "Total number of Pub/Sub messages received by outcome (count)",
		},
		[]string{"subscription", "status"},
	)

	DatabaseQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_queries_total",
			Help: "Total number of database queries (count)",
		},
		[]string{"service", "database", "operation", "status"},
	)

	DatabaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_ms",
			Help:    "Duration of database queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"service", "database", "operation"},
	)
)

var registerOnce sync.Once

// RegisterRelayMetrics registers every collector with the default registry once.
func RegisterRelayMetrics() {
	registerOnce.Do(func() {
		RegisterPipelineMetrics()
		RegisterDeliveryMetrics()
		RegisterBrokerMetrics()
		RegisterCircuitBreakerMetrics()
		RegisterOpsMetrics()
	})
}

func RegisterPipelineMetrics() {
	prometheus.MustRegister(BatchesTotal)
	prometheus.MustRegister(BatchMessages)
	prometheus.MustRegister(BatchDuration)
	prometheus.MustRegister(HandlerMessagesTotal)
	prometheus.MustRegister(HandlerDuration)
	prometheus.MustRegister(HandlerPanicsTotal)
	prometheus.MustRegister(PayloadFilterErrorsTotal)
	prometheus.MustRegister(NotificationParseErrorsTotal)
	prometheus.MustRegister(RandomIDFallbackTotal)
	prometheus.MustRegister(ArchiveRollsTotal)
	prometheus.MustRegister(PersistenceWritesTotal)
	prometheus.MustRegister(RedeliveriesSkippedTotal)
	prometheus.MustRegister(RedeliveryChecksTotal)
	prometheus.MustRegister(RedeliveryCheckDuration)
	prometheus.MustRegister(FallbackUsageTotal)
}

func RegisterDeliveryMetrics() {
	prometheus.MustRegister(DeliveryAttemptsTotal)
	prometheus.MustRegister(DeliveryResultsTotal)
	prometheus.MustRegister(DeliveryDuration)
	prometheus.MustRegister(ReauthTotal)
	prometheus.MustRegister(AuthTokenRequestsTotal)
	prometheus.MustRegister(SideChannelRequestsTotal)
}

func RegisterBrokerMetrics() {
	prometheus.MustRegister(RetryAttemptsTotal)
	prometheus.MustRegister(DLQMessagesTotal)
	prometheus.MustRegister(KafkaMessagesReadTotal)
	prometheus.MustRegister(KafkaMessagesWrittenTotal)
	prometheus.MustRegister(KafkaMessageSizeBytes)
	prometheus.MustRegister(KafkaConsumerLag)
	prometheus.MustRegister(KafkaReadDuration)
	prometheus.MustRegister(PubSubMessagesTotal)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func RegisterOpsMetrics() {
	prometheus.MustRegister(RateLimitRequestsTotal)
	prometheus.MustRegister(DatabaseQueriesTotal)
	prometheus.MustRegister(DatabaseQueryDuration)
}

func ObserveBatch(queue string, messages int, duration time.Duration, status string) {
	BatchesTotal.WithLabelValues(queue, status).Inc()
	BatchMessages.WithLabelValues(queue).Observe(float64(messages))
	BatchDuration.WithLabelValues(queue).Observe(float64(duration.Milliseconds()))
}

func ObserveHandlerDuration(handler string, duration time.Duration) {
	HandlerDuration.WithLabelValues(handler).Observe(float64(duration.Milliseconds()))
}

func IncHandlerMessages(handler, status string) {
	HandlerMessagesTotal.WithLabelValues(handler, status).Inc()
}

func IncDeliveryAttempt(handler, outcome string) {
	DeliveryAttemptsTotal.WithLabelValues(handler, outcome).Inc()
}

func IncDeliveryResult(handler, result string) {
	DeliveryResultsTotal.WithLabelValues(handler, result).Inc()
}

func ObserveDeliveryDuration(handler string, duration time.Duration) {
	DeliveryDuration.WithLabelValues(handler).Observe(float64(duration.Milliseconds()))
}

func IncSideChannelRequest(handler string, status int) {
	SideChannelRequestsTotal.WithLabelValues(handler, fmt.Sprintf("%d", status)).Inc()
}

func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}

func ObserveKafkaMessageSize(service, topic, direction string, sizeBytes int) {
	KafkaMessageSizeBytes.WithLabelValues(service, topic, direction).Observe(float64(sizeBytes))
}

func SetKafkaConsumerLag(service, topic string, partition int, lag int64) {
	KafkaConsumerLag.WithLabelValues(service, topic, fmt.Sprintf("%d", partition)).Set(float64(lag))
}

func ObserveKafkaReadDuration(service, topic string, duration time.Duration) {
	KafkaReadDuration.WithLabelValues(service, topic).Observe(float64(duration.Milliseconds()))
}

func IncDatabaseQuery(service, database, operation, status string) {
	DatabaseQueriesTotal.WithLabelValues(service, database, operation, status).Inc()
}

func ObserveDatabaseQueryDuration(service, database, operation string, duration time.Duration) {
	DatabaseQueryDuration.WithLabelValues(service, database, operation).Observe(float64(duration.Milliseconds()))
}

func ObserveRedeliveryCheck(status string, duration time.Duration) {
	RedeliveryChecksTotal.WithLabelValues(status).Inc()
	RedeliveryCheckDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}
