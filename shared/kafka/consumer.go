package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/cuongbtq/powrelay/shared/broker"
)

// ConsumerFactory spawns one consumer group per caller, so every live
// connection receives every announcement on the topic.
type ConsumerFactory struct {
	config *Config
	logger *slog.Logger
}

// NewConsumerFactory creates a new ConsumerFactory instance
func NewConsumerFactory(config *Config, logger *slog.Logger) *ConsumerFactory {
	return &ConsumerFactory{config: config, logger: logger}
}

// Spawn opens a reader in a fresh consumer group starting at the earliest offset
func (f *ConsumerFactory) Spawn(ctx context.Context) (broker.Consumer, error) {
	dialer := f.config.dialer()
	if err := ping(ctx, f.config, dialer, f.logger); err != nil {
		return nil, err
	}

	groupID := fmt.Sprintf("%s-%d", uuid.NewString(), time.Now().UnixNano())

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        f.config.Brokers,
		GroupID:        groupID,
		Topic:          f.config.Topic,
		Dialer:         dialer,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: 0,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
	})

	logger := f.logger.With(
		slog.String("topic", f.config.Topic),
		slog.String("group_id", groupID),
	)
	logger.Debug("Kafka consumer group opened")

	return &Consumer{
		reader:    reader,
		closeWait: f.config.ConsumerCloseWait,
		logger:    logger,
	}, nil
}

// Consumer reads one topic within its own consumer group
type Consumer struct {
	reader    *kafka.Reader
	closeWait time.Duration
	logger    *slog.Logger
}

type delivery struct {
	msg kafka.Message
}

func (d *delivery) Body() []byte {
	return d.msg.Value
}

// Fetch returns the next message without committing it
func (c *Consumer) Fetch(ctx context.Context) (broker.Delivery, error) {
	var msg kafka.Message
	err := broker.Retry(ctx, broker.OperationAttempts, func(ctx context.Context) error {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return classify("fetch message", err)
		}
		msg = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &delivery{msg: msg}, nil
}

// Commit commits the message offset for the group
func (c *Consumer) Commit(ctx context.Context, d broker.Delivery) error {
	msg := d.(*delivery).msg
	return broker.Retry(ctx, broker.OperationAttempts, func(ctx context.Context) error {
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return classify("commit message", err)
		}
		return nil
	})
}

// Reject leaves the offset uncommitted. The group resumes from the last
// committed offset when it is rebalanced or reopened.
func (c *Consumer) Reject(_ context.Context, d broker.Delivery) error {
	msg := d.(*delivery).msg
	c.logger.Debug("Leaving kafka message uncommitted",
		slog.Int("partition", msg.Partition),
		slog.Int64("offset", msg.Offset),
	)
	return nil
}

// Close leaves the consumer group
func (c *Consumer) Close(context.Context) {
	broker.CloseWithin(c.closeWait, c.reader.Close, c.logger, "kafka consumer")
}
