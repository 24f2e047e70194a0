package rabbitmq

import (
	"context"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/powrelay/shared/broker"
)

// Produce encodes message and publishes it to the exchange, retrying transient failures
func (c *Client) Produce(ctx context.Context, message any) error {
	body, err := broker.Encode(message)
	if err != nil {
		return err
	}

	return broker.Retry(ctx, broker.OperationAttempts, func(ctx context.Context) error {
		return c.publish(ctx, body)
	})
}

func (c *Client) publish(ctx context.Context, body []byte) error {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	err := c.channel.PublishWithContext(
		ctx,
		c.config.ExchangeName, // exchange
		c.config.RoutingKey,   // routing key
		false,                 // mandatory
		false,                 // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		c.logger.Warn("Failed to publish message to RabbitMQ",
			slog.Any("error", err),
		)
		return classify("publish message", err)
	}

	c.logger.Debug("Message published to RabbitMQ",
		slog.Int("body_size", len(body)),
	)
	return nil
}
