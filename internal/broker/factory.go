package broker

import (
	"fmt"

	"triage/internal/config"
	"triage/internal/logger"
)

func NewProducer(cfg config.BrokerConfig, log logger.Logger) (Producer, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	return NewKafkaProducer(cfg.Kafka, log), nil
}

func NewConsumer(cfg config.BrokerConfig, log logger.Logger) (Consumer, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	return NewKafkaConsumer(cfg.Kafka, log), nil
}
