package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Broker         BrokerConfig
	Logging        LoggingConfig
	Dedup          DedupConfig
	Fatigue        FatigueConfig
	Rules          RulesConfig
	Decision       DecisionConfig
	Scheduler      SchedulerConfig
	RateLimit      RateLimitConfig
	CircuitBreaker CircuitBreakerConfig
	Tracing        TracingConfig
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
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
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers     []string    `mapstructure:"brokers"`
	GroupID     string      `mapstructure:"group_id"`
	InputTopic  string      `mapstructure:"input_topic"`
	OutputTopic string      `mapstructure:"output_topic"`
	RulesTopic  string      `mapstructure:"rules_topic"`
	DLQTopic    string      `mapstructure:"dlq_topic"`
	Retry       RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DedupConfig controls exact and near duplicate suppression.
type DedupConfig struct {
	HashAlgorithm      string  `mapstructure:"hash_algorithm"`
	ExactWindowSeconds int     `mapstructure:"exact_window_seconds"`
	NearWindowSeconds  int     `mapstructure:"near_window_seconds"`
	NearThreshold      float64 `mapstructure:"near_threshold"`
	OnStoreError       string  `mapstructure:"on_store_error"`
}

// FatigueConfig controls the per-user sliding send caps.
type FatigueConfig struct {
	BurstWindowSeconds int `mapstructure:"burst_window_seconds"`
	BurstCap           int `mapstructure:"burst_cap"`
	DailyCap           int `mapstructure:"daily_cap"`
}

type RulesConfig struct {
	Reload ReloadConfig `mapstructure:"reload"`
}

type ReloadConfig struct {
	IntervalSeconds       int `mapstructure:"interval_seconds"`
	JitterMaxMilliseconds int `mapstructure:"jitter_max_milliseconds"`
}

type DecisionConfig struct {
	DeferIntervalSeconds int `mapstructure:"defer_interval_seconds"`
}

type SchedulerConfig struct {
	Schedule           string `mapstructure:"schedule"`
	MaxRetries         int    `mapstructure:"max_retries"`
	ItemTimeoutSeconds int    `mapstructure:"item_timeout_seconds"`
	BatchLimit         int    `mapstructure:"batch_limit"`
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
