package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	applyConsumerDefaults(&cfg)

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

const (
	DefaultMaxMessages = 100
	DefaultBatchWait   = 2 * time.Second
)

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout_seconds", 15)
	viper.SetDefault("server.write_timeout_seconds", 15)
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("broker.type", "kafka")
	viper.SetDefault("broker.kafka.min_bytes", 1)
	viper.SetDefault("broker.kafka.max_bytes", 10e6)
	viper.SetDefault("broker.kafka.retry.max_attempts", 5)
	viper.SetDefault("broker.kafka.retry.initial_interval", "200ms")
	viper.SetDefault("broker.kafka.retry.max_interval", "5s")
	viper.SetDefault("broker.kafka.retry.multiplier", 2.0)
	viper.SetDefault("broker.pubsub.max_outstanding_messages", 1000)
	viper.SetDefault("broker.pubsub.num_goroutines", 1)

	viper.SetDefault("handler_auth.method", "no_auth")
	viper.SetDefault("handler_auth.timeout", 120)
	viper.SetDefault("handler_auth.token_store", "memory")
	viper.SetDefault("handler_auth.token_ttl_seconds", 3600)

	viper.SetDefault("event_feed.feed_title", "Usage Relay Feed")
	viper.SetDefault("event_feed.feed_host", "127.0.0.1")
	viper.SetDefault("event_feed.port", "80")

	setDeliveryDefaults("atompub", "http://127.0.0.1/nova")
	setDeliveryDefaults("cufpub", "http://127.0.0.1/nova")
	viper.SetDefault("cufpub.nova_flavor_field_name", "instance_type_id")

	viper.SetDefault("stacktach.url", "http://127.0.0.1/db/confirm/usage/exists/batch")
	viper.SetDefault("stacktach.timeout", 120)
	viper.SetDefault("stacktach.ping_events", "compute.instance.exists.verified.old")
	viper.SetDefault("stacktach.results_from", "atompub.results")

	viper.SetDefault("elasticsearch.timeout", 30)

	viper.SetDefault("shoebox.working_directory", "data/")
	viper.SetDefault("shoebox.destination_folder", "archive/")
	viper.SetDefault("shoebox.filename_template", "events_%Y_%m_%d_%X_%f.dat")
	viper.SetDefault("shoebox.roll_size_mb", 1000)
	viper.SetDefault("shoebox.callback", "move")

	viper.SetDefault("persistence.driver", "redis")
	viper.SetDefault("persistence.collection", "events")

	viper.SetDefault("hub.host", "127.0.0.1")
	viper.SetDefault("hub.port", "8000")
	viper.SetDefault("hub.timeout", 30)

	viper.SetDefault("deduplication.ttl_seconds", 86400)
	viper.SetDefault("deduplication.on_redis_error", "allow")

	viper.SetDefault("circuit_breaker.max_requests", 3)
	viper.SetDefault("circuit_breaker.interval", "60s")
	viper.SetDefault("circuit_breaker.timeout", "30s")
	viper.SetDefault("circuit_breaker.failure_ratio", 0.5)
	viper.SetDefault("circuit_breaker.min_requests", 5)

	viper.SetDefault("ops_api.rate_limit.rps", 20.0)
	viper.SetDefault("ops_api.rate_limit.burst", 40)
	viper.SetDefault("ops_api.rate_limit.cleanup_interval", 60)
	viper.SetDefault("ops_api.rate_limit.max_age", 300)

	viper.SetDefault("tracing.service_name", "usagerelay")
	viper.SetDefault("tracing.sampler.type", "always_on")
	viper.SetDefault("tracing.sampler.param", 1.0)
}

func setDeliveryDefaults(section, url string) {
	viper.SetDefault(section+".url", url)
	viper.SetDefault(section+".retries", -1)
	viper.SetDefault(section+".interval", 30)
	viper.SetDefault(section+".max_wait", 600)
	viper.SetDefault(section+".failures_before_reauth", 5)
	viper.SetDefault(section+".validate_ssl", false)
	viper.SetDefault(section+".timeout", 120)
	viper.SetDefault(section+".max_response_bytes", 1<<20)
}

func applyConsumerDefaults(cfg *Config) {
	for i := range cfg.Consumers {
		if cfg.Consumers[i].MaxMessages <= 0 {
			cfg.Consumers[i].MaxMessages = DefaultMaxMessages
		}
		if cfg.Consumers[i].BatchWait <= 0 {
			cfg.Consumers[i].BatchWait = DefaultBatchWait
		}
	}
}

func bindEnvVariables() {
	viper.BindEnv("broker.type", "BROKER_TYPE")
	viper.BindEnv("broker.kafka.brokers", "BROKER_KAFKA_BROKERS")
	viper.BindEnv("broker.kafka.group_id", "BROKER_KAFKA_GROUP_ID")
	viper.BindEnv("broker.kafka.dlq_topic", "BROKER_KAFKA_DLQ_TOPIC")
	viper.BindEnv("broker.pubsub.project_id", "BROKER_PUBSUB_PROJECT_ID")
	viper.BindEnv("broker.pubsub.credentials_file", "BROKER_PUBSUB_CREDENTIALS_FILE")

	viper.BindEnv("database.postgres.host", "DATABASE_POSTGRES_HOST")
	viper.BindEnv("database.postgres.port", "DATABASE_POSTGRES_PORT")
	viper.BindEnv("database.postgres.user", "DATABASE_POSTGRES_USER")
	viper.BindEnv("database.postgres.password", "DATABASE_POSTGRES_PASSWORD")
	viper.BindEnv("database.postgres.dbname", "DATABASE_POSTGRES_DBNAME")
	viper.BindEnv("database.postgres.sslmode", "DATABASE_POSTGRES_SSLMODE")

	viper.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	viper.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	viper.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")
	viper.BindEnv("database.redis.db", "DATABASE_REDIS_DB")

	viper.BindEnv("database.mongodb.uri", "DATABASE_MONGODB_URI")
	viper.BindEnv("database.mongodb.database", "DATABASE_MONGODB_DATABASE")

	viper.BindEnv("handler_auth.user", "HANDLER_AUTH_USER")
	viper.BindEnv("handler_auth.key", "HANDLER_AUTH_KEY")
	viper.BindEnv("handler_auth.auth_server", "HANDLER_AUTH_AUTH_SERVER")

	viper.BindEnv("server.port", "SERVER_PORT")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")

	viper.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	viper.BindEnv("tracing.otlp.insecure", "TRACING_OTLP_INSECURE")
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.service_name", "TRACING_SERVICE_NAME")
}

func applyEnvOverrides(cfg *Config) error {
	if brokersEnv := viper.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		if brokers := SplitList(brokersEnv); len(brokers) > 0 {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}

	if otlpEndpoint := viper.GetString("TRACING_OTLP_ENDPOINT"); otlpEndpoint != "" {
		cfg.Tracing.OTLP.Endpoint = otlpEndpoint
	}

	return nil
}
