package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:                8080,
			ReadTimeoutSeconds:  15,
			WriteTimeoutSeconds: 15,
		},
		Broker: BrokerConfig{
			Kafka: KafkaConfig{
				Brokers: []string{"localhost:9092"},
				GroupID: "decision-service",
			},
		},
		Dedup: DedupConfig{
			HashAlgorithm: "sha256",
			NearThreshold: 0.85,
			OnStoreError:  "allow",
		},
	}
}

func TestValidateStatic_Valid(t *testing.T) {
	assert.NoError(t, ValidateStatic(validConfig()))
}

func TestValidateStatic_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.Server.Port = 0 }},
		{"no brokers", func(c *Config) { c.Broker.Kafka.Brokers = nil }},
		{"empty broker address", func(c *Config) { c.Broker.Kafka.Brokers = []string{""} }},
		{"missing group id", func(c *Config) { c.Broker.Kafka.GroupID = "" }},
		{"unknown hash algorithm", func(c *Config) { c.Dedup.HashAlgorithm = "crc32" }},
		{"threshold above one", func(c *Config) { c.Dedup.NearThreshold = 1.5 }},
		{"unknown fallback", func(c *Config) { c.Dedup.OnStoreError = "panic" }},
		{"negative burst cap", func(c *Config) { c.Fatigue.BurstCap = -1 }},
		{"negative max retries", func(c *Config) { c.Scheduler.MaxRetries = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, ValidateStatic(cfg))
		})
	}
}
