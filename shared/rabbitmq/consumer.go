package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/powrelay/shared/broker"
)

// Spawn opens a dedicated channel consuming the configured queue with manual acks
func (c *Client) Spawn(ctx context.Context) (broker.Consumer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.IsConnected() {
		return nil, fmt.Errorf("failed to open consumer: %w", broker.ErrDisconnected)
	}

	channel, err := c.conn.Channel()
	if err != nil {
		return nil, classify("open consumer channel", err)
	}

	prefetch := c.config.PrefetchCount
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := channel.Qos(prefetch, 0, false); err != nil {
		channel.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	tag := "powrelay-" + uuid.NewString()
	deliveries, err := channel.Consume(
		c.config.QueueName, // queue
		tag,                // consumer tag
		false,              // auto-ack
		false,              // exclusive
		false,              // no-local
		false,              // no-wait
		nil,                // args
	)
	if err != nil {
		channel.Close()
		return nil, fmt.Errorf("failed to consume messages: %w", err)
	}

	c.logger.Info("Started consuming messages from RabbitMQ",
		slog.String("consumer_tag", tag),
		slog.Int("prefetch_count", prefetch),
	)

	return &Consumer{
		channel:    channel,
		deliveries: deliveries,
		tag:        tag,
		closeWait:  c.config.CloseTimeout,
		logger:     c.logger.With(slog.String("consumer_tag", tag)),
	}, nil
}

// Consumer reads one queue through its own channel
type Consumer struct {
	channel    *amqp.Channel
	deliveries <-chan amqp.Delivery
	tag        string
	closeWait  time.Duration
	logger     *slog.Logger
}

type delivery struct {
	amqp.Delivery
}

func (d *delivery) Body() []byte {
	return d.Delivery.Body
}

// Fetch waits for the next delivery; a closed delivery stream means the channel is gone
func (c *Consumer) Fetch(ctx context.Context) (broker.Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case d, ok := <-c.deliveries:
		if !ok {
			return nil, fmt.Errorf("failed to fetch message: %w", broker.ErrDisconnected)
		}
		return &delivery{Delivery: d}, nil
	}
}

// Commit acknowledges the delivery
func (c *Consumer) Commit(ctx context.Context, d broker.Delivery) error {
	msg := d.(*delivery)
	return broker.Retry(ctx, broker.OperationAttempts, func(context.Context) error {
		if err := msg.Ack(false); err != nil {
			return classify("ack message", err)
		}
		return nil
	})
}

// Reject returns the delivery to the queue for redelivery
func (c *Consumer) Reject(ctx context.Context, d broker.Delivery) error {
	msg := d.(*delivery)
	return broker.Retry(ctx, broker.OperationAttempts, func(context.Context) error {
		if err := msg.Nack(false, true); err != nil {
			return classify("nack message", err)
		}
		return nil
	})
}

// Close cancels the subscription and closes its channel
func (c *Consumer) Close(context.Context) {
	broker.CloseWithin(c.closeWait, func() error {
		if c.channel == nil {
			return nil
		}
		if err := c.channel.Cancel(c.tag, false); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Warn("Failed to cancel RabbitMQ consumer",
				slog.Any("error", err),
			)
		}
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			return err
		}
		return nil
	}, c.logger, "RabbitMQ consumer")
}
