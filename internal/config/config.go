package config

import (
	"strings"
	"time"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Broker         BrokerConfig
	Consumers      []ConsumerConfig               `mapstructure:"consumers"`
	PayloadFilters map[string]PayloadFilterConfig `mapstructure:"payload_filters"`
	HandlerAuth    HandlerAuthConfig              `mapstructure:"handler_auth"`
	EventFeed      EventFeedConfig                `mapstructure:"event_feed"`
	Filters        map[string]string              `mapstructure:"filters"`
	ExcludeFilters map[string]string              `mapstructure:"exclude_filters"`
	DiscardFilters map[string]string              `mapstructure:"discard_filters"`
	AtomPub        AtomPubConfig                  `mapstructure:"atompub"`
	CufPub         CufPubConfig                   `mapstructure:"cufpub"`
	StackTach      StackTachConfig                `mapstructure:"stacktach"`
	Elasticsearch  ElasticsearchConfig            `mapstructure:"elasticsearch"`
	Shoebox        ShoeboxConfig                  `mapstructure:"shoebox"`
	Persistence    PersistenceConfig              `mapstructure:"persistence"`
	Hub            HubConfig                      `mapstructure:"hub"`
	Deduplication  DeduplicationConfig            `mapstructure:"deduplication"`
	Logging        LoggingConfig
	OpsAPI         OpsAPIConfig         `mapstructure:"ops_api"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Tracing        TracingConfig
}

type ServerConfig struct {
	Port                int `mapstructure:"port"`
	ReadTimeoutSeconds  int `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds int `mapstructure:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig
	Redis         RedisConfig
	MongoDB       MongoDBConfig
	RunMigrations bool `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type BrokerConfig struct {
	Type   string       `mapstructure:"type"`
	Kafka  KafkaConfig  `mapstructure:"kafka"`
	PubSub PubSubConfig `mapstructure:"pubsub"`
}

type KafkaConfig struct {
	Brokers  []string    `mapstructure:"brokers"`
	GroupID  string      `mapstructure:"group_id"`
	DLQTopic string      `mapstructure:"dlq_topic"`
	MinBytes int         `mapstructure:"min_bytes"`
	MaxBytes int         `mapstructure:"max_bytes"`
	Retry    RetryConfig `mapstructure:"retry"`
}

type PubSubConfig struct {
	ProjectID              string `mapstructure:"project_id"`
	CredentialsFile        string `mapstructure:"credentials_file"`
	MaxOutstandingMessages int    `mapstructure:"max_outstanding_messages"`
	NumGoroutines          int    `mapstructure:"num_goroutines"`
}

// RetryConfig drives broker-level retries (offset commits), not deliveries.
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
}

// ConsumerConfig describes one queue and the handler chain fed by it.
type ConsumerConfig struct {
	Queue          string        `mapstructure:"queue"`
	Apps           []string      `mapstructure:"apps"`
	MaxMessages    int           `mapstructure:"max_messages"`
	BatchWait      time.Duration `mapstructure:"batch_wait"`
	PayloadFilters []string      `mapstructure:"payload_filters"`

	// HandlerOverrides replaces options of a handler section for this queue
	// only, e.g. {atompub: {url: ..., retries: 3}}.
	HandlerOverrides map[string]map[string]interface{} `mapstructure:"handler_overrides"`
}

type PayloadFilterConfig struct {
	Method     string `mapstructure:"method"`
	Field      string `mapstructure:"field"`
	Expression string `mapstructure:"expression"`
	When       string `mapstructure:"when"`
	MapFile    string `mapstructure:"map_file"`
}

type HandlerAuthConfig struct {
	Method          string `mapstructure:"method"`
	User            string `mapstructure:"user"`
	Key             string `mapstructure:"key"`
	AuthServer      string `mapstructure:"auth_server"`
	ValidateSSL     bool   `mapstructure:"validate_ssl"`
	Timeout         int    `mapstructure:"timeout"`
	TokenStore      string `mapstructure:"token_store"`
	TokenTTLSeconds int    `mapstructure:"token_ttl_seconds"`
}

type EventFeedConfig struct {
	FeedTitle      string `mapstructure:"feed_title"`
	FeedHost       string `mapstructure:"feed_host"`
	UseHTTPS       bool   `mapstructure:"use_https"`
	Port           string `mapstructure:"port"`
	AtomCategories string `mapstructure:"atom_categories"`
}

// Categories splits atom_categories on commas.
func (c EventFeedConfig) Categories() []string {
	return SplitList(c.AtomCategories)
}

// DeliveryConfig is shared by every handler section that posts through the retry engine.
type DeliveryConfig struct {
	URL                  string  `mapstructure:"url"`
	Retries              int     `mapstructure:"retries"`
	Interval             int     `mapstructure:"interval"`
	MaxWait              int     `mapstructure:"max_wait"`
	FailuresBeforeReauth int     `mapstructure:"failures_before_reauth"`
	ValidateSSL          bool    `mapstructure:"validate_ssl"`
	Timeout              int     `mapstructure:"timeout"`
	MaxResponseBytes     int64   `mapstructure:"max_response_bytes"`
	RateLimitRPS         float64 `mapstructure:"rate_limit_rps"`
}

func (c DeliveryConfig) IntervalDuration() time.Duration {
	return time.Duration(c.Interval) * time.Second
}

func (c DeliveryConfig) MaxWaitDuration() time.Duration {
	return time.Duration(c.MaxWait) * time.Second
}

func (c DeliveryConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

type AtomPubConfig struct {
	DeliveryConfig      `mapstructure:",squash"`
	GenerateEntityLinks bool `mapstructure:"generate_entity_links"`
	StackTachDown       bool `mapstructure:"stacktach_down"`
}

type CufPubConfig struct {
	DeliveryConfig      `mapstructure:",squash"`
	NovaFlavorFieldName string `mapstructure:"nova_flavor_field_name"`
}

type StackTachConfig struct {
	URL         string `mapstructure:"url"`
	Timeout     int    `mapstructure:"timeout"`
	PingEvents  string `mapstructure:"ping_events"`
	ResultsFrom string `mapstructure:"results_from"`
}

type ElasticsearchConfig struct {
	Host    string `mapstructure:"elasticsearch_host"`
	Region  string `mapstructure:"region"`
	Timeout int    `mapstructure:"timeout"`
}

type ShoeboxConfig struct {
	WorkingDirectory  string    `mapstructure:"working_directory"`
	DestinationFolder string    `mapstructure:"destination_folder"`
	FilenameTemplate  string    `mapstructure:"filename_template"`
	RollSizeMB        int       `mapstructure:"roll_size_mb"`
	RollMinutes       int       `mapstructure:"roll_minutes"`
	Callback          string    `mapstructure:"callback"`
	GCS               GCSConfig `mapstructure:"gcs"`
}

type GCSConfig struct {
	Bucket          string `mapstructure:"bucket"`
	ObjectPrefix    string `mapstructure:"object_prefix"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

type PersistenceConfig struct {
	Driver     string `mapstructure:"driver"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
	Collection string `mapstructure:"collection"`
}

type HubConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	UseHTTPS bool   `mapstructure:"use_https"`
	Timeout  int    `mapstructure:"timeout"`
}

type DeduplicationConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	TTLSeconds   int    `mapstructure:"ttl_seconds"`
	OnRedisError string `mapstructure:"on_redis_error"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type OpsAPIConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Swagger   bool            `mapstructure:"swagger"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}

// SplitList splits a comma separated list, trimming blanks and dropping empties.
func SplitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
