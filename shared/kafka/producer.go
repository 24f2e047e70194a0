package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/cuongbtq/powrelay/shared/broker"
)

// Producer writes announcements to one topic
type Producer struct {
	writer    *kafka.Writer
	closeWait time.Duration
	logger    *slog.Logger
}

// NewProducer verifies the cluster is reachable and creates a producer
func NewProducer(ctx context.Context, config *Config, logger *slog.Logger) (*Producer, error) {
	logger = logger.With(slog.String("topic", config.Topic))

	if err := ping(ctx, config, config.dialer(), logger); err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		Transport: &kafka.Transport{
			DialTimeout: config.DialTimeout,
			SASL:        config.mechanism(),
		},
	}

	logger.Info("Kafka producer initialized")

	return &Producer{
		writer:    writer,
		closeWait: config.ProducerCloseWait,
		logger:    logger,
	}, nil
}

// Produce encodes message and writes it, retrying transient failures
func (p *Producer) Produce(ctx context.Context, message any) error {
	body, err := broker.Encode(message)
	if err != nil {
		return err
	}

	return broker.Retry(ctx, broker.OperationAttempts, func(ctx context.Context) error {
		if err := p.writer.WriteMessages(ctx, kafka.Message{Value: body}); err != nil {
			p.logger.Warn("Failed to write kafka message",
				slog.Any("error", err),
			)
			return classify("write message", err)
		}
		return nil
	})
}

// Close flushes pending writes and closes the writer
func (p *Producer) Close(context.Context) {
	broker.CloseWithin(p.closeWait, p.writer.Close, p.logger, "kafka producer")
}
