package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
	KafkaCommitTries  = 5
)

const (
	DefaultHTTPTimeout        = 120 * time.Second
	DefaultSideChannelTimeout = 30 * time.Second
)

const (
	CacheKeyPrefixRedelivery = "usagerelay:redelivery:"
	CacheKeyPrefixAuthToken  = "usagerelay:auth:token:"
	CacheKeyPrefixEvent      = "usagerelay:event:"
)

const (
	DefaultMongoDBName      = "usagerelay"
	DefaultEventsCollection = "events"
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	FallbackAllow = "allow"
	FallbackDeny  = "deny"
)

const (
	DriverRedis    = "redis"
	DriverMongoDB  = "mongodb"
	DriverPostgres = "postgres"
)

const (
	BrokerKafka  = "kafka"
	BrokerPubSub = "pubsub"
)
