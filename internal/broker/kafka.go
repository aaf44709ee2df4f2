package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"triage/internal/config"
	"triage/internal/constants"
	"triage/internal/logger"
	"triage/pkg/errors"
	"triage/pkg/logging"
	"triage/pkg/metrics"
	"triage/pkg/models"
	"triage/pkg/retry"
	"triage/pkg/tracing"
)

type KafkaProducer struct {
	writer *kafka.Writer
	logger logger.Logger
}

func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: constants.KafkaBatchTimeout,
		WriteTimeout: constants.KafkaWriteTimeout,
		Async:        false,
	}
	return &KafkaProducer{writer: w, logger: log}
}

// Publish keys messages by user so every event for one user lands on
// the same partition and is decided in order.
func (p *KafkaProducer) Publish(ctx context.Context, topic string, msg models.EventEnvelope) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(msg.Event.UserID),
		Value:   body,
		Headers: tracing.InjectTraceContext(ctx, nil),
		Time:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}

	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

type KafkaConsumer struct {
	cfg         config.KafkaConfig
	wg          sync.WaitGroup
	reader      *kafka.Reader
	logger      logger.Logger
	dlqProducer Producer
	serviceName string
}

func NewKafkaConsumer(cfg config.KafkaConfig, log logger.Logger) *KafkaConsumer {
	consumer := &KafkaConsumer{
		cfg:         cfg,
		logger:      log,
		serviceName: "unknown",
	}
	if cfg.DLQTopic != "" {
		consumer.dlqProducer = NewKafkaProducer(cfg, log)
	}
	return consumer
}

func (c *KafkaConsumer) SetServiceName(name string) {
	c.serviceName = name
}

// Consume reads the topic until the context is cancelled. Messages that
// fail after all retries go to the DLQ (when configured) and are
// committed either way so one poison message cannot wedge the group.
func (c *KafkaConsumer) Consume(ctx context.Context, topic string, handler HandlerFunc) error {
	c.logger.Infow("Creating Kafka reader",
		"topic", topic,
		"brokers", c.cfg.Brokers,
		"group_id", c.cfg.GroupID,
		"service_name", c.serviceName,
	)

	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.cfg.Brokers,
		GroupID:  c.cfg.GroupID,
		Topic:    topic,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		consumeCtx := logging.WithServiceName(ctx, c.serviceName)
		c.logger.InfowCtx(consumeCtx, "Started consuming", "topic", topic)

		for {
			m, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					c.logger.InfowCtx(consumeCtx, "Stopped consuming", "topic", topic)
					return
				}
				c.logger.ErrorwCtx(consumeCtx, "Error fetching kafka message",
					"error", err,
					"topic", topic,
				)
				time.Sleep(time.Second)
				continue
			}

			c.handleFetched(ctx, m, topic, handler)
		}
	}()

	<-ctx.Done()
	return ctx.Err()
}

// handleFetched runs one message through the handler with retries and
// always commits, routing failures to the DLQ when one is configured.
func (c *KafkaConsumer) handleFetched(ctx context.Context, m kafka.Message, topic string, handler HandlerFunc) {
	metrics.IncKafkaMessagesRead(c.serviceName, topic)

	var envelope models.EventEnvelope
	if err := json.Unmarshal(m.Value, &envelope); err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to unmarshal envelope",
			"error", err,
			"topic", topic,
			"service_name", c.serviceName,
		)
		_ = c.reader.CommitMessages(ctx, m)
		return
	}

	msgCtx, span := tracing.StartSpanFromKafkaMessage(ctx, "kafka.consume", m.Headers)
	defer span.End()

	if envelope.Metadata.TraceID != "" {
		msgCtx = logging.WithTraceID(msgCtx, envelope.Metadata.TraceID)
	}
	msgCtx = logging.WithMessageID(msgCtx, envelope.ID)
	msgCtx = logging.WithServiceName(msgCtx, c.serviceName)

	err := c.processWithRetry(msgCtx, envelope, handler, topic)
	if err == nil {
		if commitErr := c.reader.CommitMessages(ctx, m); commitErr != nil {
			c.logger.ErrorwCtx(msgCtx, "Failed to commit message",
				"error", commitErr,
				"topic", topic,
			)
		}
		return
	}

	c.logger.ErrorwCtx(msgCtx, "Failed to process message after retries",
		"error", err,
		"topic", topic,
	)

	if c.dlqProducer != nil && c.cfg.DLQTopic != "" {
		if dlqErr := c.sendToDLQ(msgCtx, envelope, err, topic); dlqErr != nil {
			c.logger.ErrorwCtx(msgCtx, "Failed to send message to DLQ",
				"error", dlqErr,
				"topic", topic,
			)
		}
	} else {
		c.logger.WarnwCtx(msgCtx, "No DLQ configured, committing message to avoid blocking",
			"topic", topic,
		)
	}
	_ = c.reader.CommitMessages(ctx, m)
}

func (c *KafkaConsumer) Close() error {
	var err error
	if c.reader != nil {
		err = c.reader.Close()
	}
	if c.dlqProducer != nil {
		if closeErr := c.dlqProducer.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	c.wg.Wait()
	return err
}

func (c *KafkaConsumer) retryPolicy() retry.Policy {
	policy := retry.Policy{
		MaxAttempts:     3,
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
	}

	if c.cfg.Retry.MaxAttempts > 0 {
		policy.MaxAttempts = c.cfg.Retry.MaxAttempts
	}
	if c.cfg.Retry.InitialInterval > 0 {
		policy.InitialInterval = c.cfg.Retry.InitialInterval
	}
	if c.cfg.Retry.MaxInterval > 0 {
		policy.MaxInterval = c.cfg.Retry.MaxInterval
	}
	if c.cfg.Retry.Multiplier > 0 {
		policy.Multiplier = c.cfg.Retry.Multiplier
	}
	if c.cfg.Retry.MaxElapsedTime > 0 {
		policy.MaxElapsedTime = c.cfg.Retry.MaxElapsedTime
	}

	return policy
}

func (c *KafkaConsumer) processWithRetry(ctx context.Context, envelope models.EventEnvelope, handler HandlerFunc, topic string) error {
	policy := c.retryPolicy()

	return retry.RetryWithCallback(ctx, policy, func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.RecoverPanic(r)
				c.logger.ErrorwCtx(ctx, "Panic recovered during message processing",
					"error", err,
					"topic", topic,
				)
			}
		}()
		return handler(ctx, envelope)
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues(c.serviceName, topic).Inc()
		c.logger.WarnwCtx(ctx, "Retrying message processing",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"next_delay", nextDelay,
			"error", err,
			"topic", topic,
		)
	})
}

func (c *KafkaConsumer) sendToDLQ(ctx context.Context, envelope models.EventEnvelope, originalErr error, sourceTopic string) error {
	if envelope.Metadata.DLQ == nil {
		envelope.Metadata.DLQ = make(map[string]interface{})
	}
	envelope.Metadata.DLQ["reason"] = originalErr.Error()
	envelope.Metadata.DLQ["source_topic"] = sourceTopic
	envelope.Metadata.DLQ["timestamp"] = time.Now()

	if err := c.dlqProducer.Publish(ctx, c.cfg.DLQTopic, envelope); err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}

	metrics.DLQMessagesTotal.WithLabelValues(c.serviceName, sourceTopic, "max_retries_exceeded").Inc()
	c.logger.InfowCtx(ctx, "Message sent to DLQ",
		"source_topic", sourceTopic,
		"dlq_topic", c.cfg.DLQTopic,
		"reason", originalErr.Error(),
	)

	return nil
}
