package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// envBindings maps config keys to the environment variables that
// override them, so deployments can skip editing the yaml file.
var envBindings = map[string]string{
	"broker.kafka.brokers":      "BROKER_KAFKA_BROKERS",
	"broker.kafka.group_id":     "BROKER_KAFKA_GROUP_ID",
	"broker.kafka.input_topic":  "BROKER_KAFKA_INPUT_TOPIC",
	"broker.kafka.output_topic": "BROKER_KAFKA_OUTPUT_TOPIC",
	"broker.kafka.rules_topic":  "BROKER_KAFKA_RULES_TOPIC",
	"broker.kafka.dlq_topic":    "BROKER_KAFKA_DLQ_TOPIC",

	"database.postgres.host":     "DATABASE_POSTGRES_HOST",
	"database.postgres.port":     "DATABASE_POSTGRES_PORT",
	"database.postgres.user":     "DATABASE_POSTGRES_USER",
	"database.postgres.password": "DATABASE_POSTGRES_PASSWORD",
	"database.postgres.dbname":   "DATABASE_POSTGRES_DBNAME",
	"database.postgres.sslmode":  "DATABASE_POSTGRES_SSLMODE",

	"database.redis.host":     "DATABASE_REDIS_HOST",
	"database.redis.port":     "DATABASE_REDIS_PORT",
	"database.redis.password": "DATABASE_REDIS_PASSWORD",
	"database.redis.db":       "DATABASE_REDIS_DB",

	"database.mongodb.uri":      "DATABASE_MONGODB_URI",
	"database.mongodb.database": "DATABASE_MONGODB_DATABASE",

	"server.port":                  "SERVER_PORT",
	"server.read_timeout_seconds":  "SERVER_READ_TIMEOUT_SECONDS",
	"server.write_timeout_seconds": "SERVER_WRITE_TIMEOUT_SECONDS",

	"logging.level":  "LOGGING_LEVEL",
	"logging.format": "LOGGING_FORMAT",

	"scheduler.schedule": "SCHEDULER_SCHEDULE",

	"tracing.otlp.endpoint": "TRACING_OTLP_ENDPOINT",
	"tracing.otlp.insecure": "TRACING_OTLP_INSECURE",
	"tracing.enabled":       "TRACING_ENABLED",
	"tracing.service_name":  "TRACING_SERVICE_NAME",
}

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	for key, env := range envBindings {
		viper.BindEnv(key, env)
	}

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides handles the values viper's scalar binding cannot:
// the broker list is comma-separated in the environment.
func applyEnvOverrides(cfg *Config) {
	if brokersEnv := viper.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		var brokers []string
		for _, b := range strings.Split(brokersEnv, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		if len(brokers) > 0 {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}

	if otlpEndpoint := viper.GetString("TRACING_OTLP_ENDPOINT"); otlpEndpoint != "" {
		cfg.Tracing.OTLP.Endpoint = otlpEndpoint
	}
}
