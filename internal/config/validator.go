package config

import (
	"fmt"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

var (
	validAuthMethods   = map[string]bool{"no_auth": true, "http_basic_auth": true, "rax_auth": true, "rax_auth_v2": true}
	tokenAuthMethods   = map[string]bool{"rax_auth": true, "rax_auth_v2": true}
	validTokenStores   = map[string]bool{"memory": true, "redis": true}
	validFilterMethods = map[string]bool{"cel": true, "map": true}
	validCallbacks     = map[string]bool{"move": true, "gcs": true, "none": true}
	validDrivers       = map[string]bool{"redis": true, "mongodb": true, "postgres": true}
)

func ValidateStatic(cfg *Config) error {
	var errors []error

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validateBroker(cfg.Broker); err != nil {
		errors = append(errors, err)
	}

	if err := validateConsumers(cfg.Consumers, cfg.PayloadFilters); err != nil {
		errors = append(errors, err)
	}

	if err := validatePayloadFilters(cfg.PayloadFilters); err != nil {
		errors = append(errors, err)
	}

	if err := validateHandlerAuth(cfg.HandlerAuth); err != nil {
		errors = append(errors, err)
	}

	if err := validateDelivery("atompub", cfg.AtomPub.DeliveryConfig); err != nil {
		errors = append(errors, err)
	}

	if err := validateDelivery("cufpub", cfg.CufPub.DeliveryConfig); err != nil {
		errors = append(errors, err)
	}

	if err := validateHandlerOverrides(cfg); err != nil {
		errors = append(errors, err)
	}

	if err := validateShoebox(cfg.Shoebox); err != nil {
		errors = append(errors, err)
	}

	if err := validatePersistence(cfg.Persistence); err != nil {
		errors = append(errors, err)
	}

	if err := validateDatabase(cfg.Database); err != nil {
		errors = append(errors, err)
	}

	if err := validateDeduplication(cfg.Deduplication); err != nil {
		errors = append(errors, err)
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout_seconds",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	if cfg.Type == "" {
		return &ValidationError{
			Field:   "broker.type",
			Message: "broker type is required",
		}
	}

	switch cfg.Type {
	case "kafka":
		return validateKafka(cfg.Kafka)
	case "pubsub":
		return validatePubSub(cfg.PubSub)
	default:
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %s (supported: kafka, pubsub)", cfg.Type),
		}
	}
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.GroupID == "" {
		return &ValidationError{
			Field:   "broker.kafka.group_id",
			Message: "Kafka consumer group ID is required",
		}
	}

	if cfg.Retry.MaxAttempts < 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_attempts",
			Message: "max_attempts must be non-negative",
		}
	}

	if cfg.Retry.MaxInterval > 0 && cfg.Retry.InitialInterval > 0 && cfg.Retry.MaxInterval < cfg.Retry.InitialInterval {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	if cfg.Retry.Multiplier <= 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.multiplier",
			Message: "multiplier must be positive",
		}
	}

	return nil
}

func validatePubSub(cfg PubSubConfig) error {
	if cfg.ProjectID == "" {
		return &ValidationError{
			Field:   "broker.pubsub.project_id",
			Message: "Pub/Sub project ID is required",
		}
	}

	if cfg.MaxOutstandingMessages < 0 {
		return &ValidationError{
			Field:   "broker.pubsub.max_outstanding_messages",
			Message: "max_outstanding_messages must be non-negative",
		}
	}

	return nil
}

func validateConsumers(consumers []ConsumerConfig, filters map[string]PayloadFilterConfig) error {
	if len(consumers) == 0 {
		return &ValidationError{
			Field:   "consumers",
			Message: "at least one consumer is required",
		}
	}

	seen := make(map[string]bool, len(consumers))
	for i, c := range consumers {
		if c.Queue == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("consumers[%d].queue", i),
				Message: "queue is required",
			}
		}
		if seen[c.Queue] {
			return &ValidationError{
				Field:   fmt.Sprintf("consumers[%d].queue", i),
				Message: fmt.Sprintf("duplicate queue: %s", c.Queue),
			}
		}
		seen[c.Queue] = true

		if len(c.Apps) == 0 {
			return &ValidationError{
				Field:   fmt.Sprintf("consumers[%d].apps", i),
				Message: "at least one handler is required",
			}
		}

		for _, name := range c.PayloadFilters {
			if _, ok := filters[strings.ToLower(name)]; !ok {
				return &ValidationError{
					Field:   fmt.Sprintf("consumers[%d].payload_filters", i),
					Message: fmt.Sprintf("payload filter %q is not defined", name),
				}
			}
		}
	}

	return nil
}

func validatePayloadFilters(filters map[string]PayloadFilterConfig) error {
	for name, f := range filters {
		field := "payload_filters." + name
		if !validFilterMethods[f.Method] {
			return &ValidationError{
				Field:   field + ".method",
				Message: fmt.Sprintf("invalid method: %s (valid: cel, map)", f.Method),
			}
		}
		if f.Field == "" {
			return &ValidationError{
				Field:   field + ".field",
				Message: "target field is required",
			}
		}
		if f.Method == "cel" && f.Expression == "" {
			return &ValidationError{
				Field:   field + ".expression",
				Message: "cel filters require an expression",
			}
		}
		if f.Method == "map" && f.MapFile == "" {
			return &ValidationError{
				Field:   field + ".map_file",
				Message: "map filters require a map_file",
			}
		}
	}

	return nil
}

func validateHandlerAuth(cfg HandlerAuthConfig) error {
	if !validAuthMethods[cfg.Method] {
		return &ValidationError{
			Field:   "handler_auth.method",
			Message: fmt.Sprintf("unknown auth method: %s (valid: no_auth, http_basic_auth, rax_auth, rax_auth_v2)", cfg.Method),
		}
	}

	if tokenAuthMethods[cfg.Method] && cfg.AuthServer == "" {
		return &ValidationError{
			Field:   "handler_auth.auth_server",
			Message: fmt.Sprintf("%s requires auth_server", cfg.Method),
		}
	}

	if cfg.Method != "no_auth" && cfg.User == "" {
		return &ValidationError{
			Field:   "handler_auth.user",
			Message: fmt.Sprintf("%s requires user", cfg.Method),
		}
	}

	if cfg.TokenStore != "" && !validTokenStores[cfg.TokenStore] {
		return &ValidationError{
			Field:   "handler_auth.token_store",
			Message: fmt.Sprintf("invalid token store: %s (valid: memory, redis)", cfg.TokenStore),
		}
	}

	return nil
}

func validateDelivery(section string, cfg DeliveryConfig) error {
	if cfg.URL == "" {
		return &ValidationError{
			Field:   section + ".url",
			Message: "url is required",
		}
	}

	if cfg.Interval < 0 {
		return &ValidationError{
			Field:   section + ".interval",
			Message: "interval must be non-negative",
		}
	}

	if cfg.MaxWait < 0 {
		return &ValidationError{
			Field:   section + ".max_wait",
			Message: "max_wait must be non-negative",
		}
	}

	if cfg.FailuresBeforeReauth < 1 {
		return &ValidationError{
			Field:   section + ".failures_before_reauth",
			Message: "failures_before_reauth must be at least 1",
		}
	}

	if cfg.Timeout <= 0 {
		return &ValidationError{
			Field:   section + ".timeout",
			Message: "timeout must be positive",
		}
	}

	if cfg.RateLimitRPS < 0 {
		return &ValidationError{
			Field:   section + ".rate_limit_rps",
			Message: "rate_limit_rps must be non-negative",
		}
	}

	return nil
}

func validateHandlerOverrides(cfg *Config) error {
	for i, c := range cfg.Consumers {
		if len(c.HandlerOverrides) == 0 {
			continue
		}
		field := fmt.Sprintf("consumers[%d].handler_overrides", i)
		for section, values := range c.HandlerOverrides {
			if !strings.EqualFold(section, "shoebox") {
				continue
			}
			for _, opt := range sharedShoeboxOptions {
				if _, ok := values[opt]; ok {
					return &ValidationError{
						Field:   field + ".shoebox." + opt,
						Message: "archive callback settings are shared by every consumer and cannot be overridden",
					}
				}
			}
		}
		scoped, err := cfg.ForConsumer(c)
		if err != nil {
			return &ValidationError{Field: field, Message: err.Error()}
		}
		if err := validateDelivery(field+".atompub", scoped.AtomPub.DeliveryConfig); err != nil {
			return err
		}
		if err := validateDelivery(field+".cufpub", scoped.CufPub.DeliveryConfig); err != nil {
			return err
		}
		if err := validateShoebox(scoped.Shoebox); err != nil {
			return err
		}
	}
	return nil
}

func validateShoebox(cfg ShoeboxConfig) error {
	if cfg.Callback != "" && !validCallbacks[cfg.Callback] {
		return &ValidationError{
			Field:   "shoebox.callback",
			Message: fmt.Sprintf("invalid callback: %s (valid: move, gcs, none)", cfg.Callback),
		}
	}

	if cfg.Callback == "gcs" && cfg.GCS.Bucket == "" {
		return &ValidationError{
			Field:   "shoebox.gcs.bucket",
			Message: "gcs callback requires a bucket",
		}
	}

	if cfg.RollSizeMB < 0 {
		return &ValidationError{
			Field:   "shoebox.roll_size_mb",
			Message: "roll_size_mb must be non-negative",
		}
	}

	return nil
}

func validatePersistence(cfg PersistenceConfig) error {
	if cfg.Driver != "" && !validDrivers[cfg.Driver] {
		return &ValidationError{
			Field:   "persistence.driver",
			Message: fmt.Sprintf("invalid driver: %s (valid: redis, mongodb, postgres)", cfg.Driver),
		}
	}

	if cfg.TTLSeconds < 0 {
		return &ValidationError{
			Field:   "persistence.ttl_seconds",
			Message: "TTL must be non-negative",
		}
	}

	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if cfg.Postgres.Host != "" || cfg.Postgres.Port > 0 {
		if err := validatePostgres(cfg.Postgres); err != nil {
			return err
		}
	}

	if cfg.Redis.Host != "" || cfg.Redis.Port > 0 {
		if err := validateRedis(cfg.Redis); err != nil {
			return err
		}
	}

	if cfg.MongoDB.URI != "" {
		if err := validateMongoDB(cfg.MongoDB); err != nil {
			return err
		}
	}

	return nil
}

func validatePostgres(cfg PostgresConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.postgres.host",
			Message: "PostgreSQL host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.postgres.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.User == "" {
		return &ValidationError{
			Field:   "database.postgres.user",
			Message: "PostgreSQL user is required",
		}
	}

	if cfg.DBName == "" {
		return &ValidationError{
			Field:   "database.postgres.dbname",
			Message: "PostgreSQL database name is required",
		}
	}

	validSSLModes := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if cfg.SSLMode != "" && !validSSLModes[strings.ToLower(cfg.SSLMode)] {
		return &ValidationError{
			Field:   "database.postgres.sslmode",
			Message: fmt.Sprintf("invalid SSL mode: %s (valid: disable, allow, prefer, require, verify-ca, verify-full)", cfg.SSLMode),
		}
	}

	return nil
}

func validateRedis(cfg RedisConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.redis.host",
			Message: "Redis host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.redis.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	return nil
}

func validateMongoDB(cfg MongoDBConfig) error {
	if !strings.HasPrefix(cfg.URI, "mongodb://") && !strings.HasPrefix(cfg.URI, "mongodb+srv://") {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "MongoDB URI must start with mongodb:// or mongodb+srv://",
		}
	}

	if cfg.Database == "" {
		return &ValidationError{
			Field:   "database.mongodb.database",
			Message: "MongoDB database name is required",
		}
	}

	return nil
}

func validateDeduplication(cfg DeduplicationConfig) error {
	if cfg.TTLSeconds < 0 {
		return &ValidationError{
			Field:   "deduplication.ttl_seconds",
			Message: "TTL must be non-negative",
		}
	}

	validOnError := map[string]bool{
		"allow": true, "deny": true,
	}
	if cfg.OnRedisError != "" && !validOnError[strings.ToLower(cfg.OnRedisError)] {
		return &ValidationError{
			Field:   "deduplication.on_redis_error",
			Message: fmt.Sprintf("invalid on_redis_error value: %s (valid: allow, deny)", cfg.OnRedisError),
		}
	}

	return nil
}
