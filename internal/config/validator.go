package config

import (
	"fmt"

	"triage/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validateBroker(cfg.Broker); err != nil {
		errors = append(errors, err)
	}

	if err := validateDedup(cfg.Dedup); err != nil {
		errors = append(errors, err)
	}

	if err := validateFatigue(cfg.Fatigue); err != nil {
		errors = append(errors, err)
	}

	if err := validateScheduler(cfg.Scheduler); err != nil {
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
	if len(cfg.Kafka.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Kafka.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.Kafka.GroupID == "" {
		return &ValidationError{
			Field:   "broker.kafka.group_id",
			Message: "consumer group ID is required",
		}
	}

	return nil
}

func validateDedup(cfg DedupConfig) error {
	switch cfg.HashAlgorithm {
	case "", "sha256", "md5":
	default:
		return &ValidationError{
			Field:   "dedup.hash_algorithm",
			Message: fmt.Sprintf("unknown hash algorithm: %s (supported: sha256, md5)", cfg.HashAlgorithm),
		}
	}

	if cfg.ExactWindowSeconds < 0 {
		return &ValidationError{
			Field:   "dedup.exact_window_seconds",
			Message: "exact dedup window cannot be negative",
		}
	}

	if cfg.NearThreshold < 0 || cfg.NearThreshold > 1 {
		return &ValidationError{
			Field:   "dedup.near_threshold",
			Message: fmt.Sprintf("near-duplicate threshold must be in [0, 1], got %v", cfg.NearThreshold),
		}
	}

	switch cfg.OnStoreError {
	case "", constants.FallbackAllow, constants.FallbackDeny:
	default:
		return &ValidationError{
			Field:   "dedup.on_store_error",
			Message: fmt.Sprintf("unknown fallback: %s (supported: allow, deny)", cfg.OnStoreError),
		}
	}

	return nil
}

func validateFatigue(cfg FatigueConfig) error {
	if cfg.BurstCap < 0 {
		return &ValidationError{
			Field:   "fatigue.burst_cap",
			Message: "burst cap cannot be negative",
		}
	}

	if cfg.DailyCap < 0 {
		return &ValidationError{
			Field:   "fatigue.daily_cap",
			Message: "daily cap cannot be negative",
		}
	}

	return nil
}

func validateScheduler(cfg SchedulerConfig) error {
	if cfg.MaxRetries < 0 {
		return &ValidationError{
			Field:   "scheduler.max_retries",
			Message: "max retries cannot be negative",
		}
	}

	if cfg.BatchLimit < 0 {
		return &ValidationError{
			Field:   "scheduler.batch_limit",
			Message: "batch limit cannot be negative",
		}
	}

	return nil
}
