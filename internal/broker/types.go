package broker

import (
	"context"

	"triage/pkg/models"
)

type Producer interface {
	Publish(ctx context.Context, topic string, msg models.EventEnvelope) error
	Close() error
}

type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

type HandlerFunc func(ctx context.Context, msg models.EventEnvelope) error
