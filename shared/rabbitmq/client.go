package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/powrelay/shared/broker"
)

// Config holds RabbitMQ connection configuration
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	VHost              string
	ExchangeName       string
	ExchangeType       string
	ExchangeDurable    bool
	ExchangeAutoDelete bool
	QueueName          string
	QueueDurable       bool
	QueueAutoDelete    bool
	QueueExclusive     bool
	RoutingKey         string
	PrefetchCount      int
	Heartbeat          time.Duration
	ConnectionTimeout  time.Duration
	CloseTimeout       time.Duration
}

// Client owns one AMQP connection. It publishes to the configured exchange
// and spawns consumers on the configured queue.
type Client struct {
	config *Config
	conn   *amqp.Connection
	logger *slog.Logger

	// publishMu serializes use of the publish channel
	publishMu sync.Mutex
	channel   *amqp.Channel
}

// NewClient creates a new RabbitMQ client
func NewClient(ctx context.Context, config *Config, logger *slog.Logger) (*Client, error) {
	client := &Client{
		config: config,
		logger: logger.With(
			slog.String("exchange", config.ExchangeName),
			slog.String("queue", config.QueueName),
		),
	}

	if err := client.connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	return client, nil
}

// connect establishes connection to RabbitMQ with retry logic
func (c *Client) connect(ctx context.Context) error {
	dsn := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		c.config.User,
		c.config.Password,
		c.config.Host,
		c.config.Port,
		c.config.VHost,
	)

	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
	}
	if c.config.ConnectionTimeout > 0 {
		amqpConfig.Dial = amqp.DefaultDial(c.config.ConnectionTimeout)
	}

	attempt := 0
	err := broker.Retry(ctx, broker.ConnectAttempts, func(context.Context) error {
		attempt++
		c.logger.Info("Connecting to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", broker.ConnectAttempts),
		)

		conn, err := amqp.DialConfig(dsn, amqpConfig)
		if err != nil {
			c.logger.Error("Failed to connect to RabbitMQ",
				slog.Any("error", err),
				slog.Int("attempt", attempt),
			)
			return err
		}
		c.conn = conn
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempt, err)
	}

	c.channel, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	if err := c.setup(); err != nil {
		c.channel.Close()
		c.conn.Close()
		return fmt.Errorf("failed to setup exchange and queue: %w", err)
	}

	c.logger.Info("RabbitMQ client initialized")

	return nil
}

// setup declares the exchange and, when a queue is configured, the queue and its binding
func (c *Client) setup() error {
	err := c.channel.ExchangeDeclare(
		c.config.ExchangeName,       // name
		c.config.ExchangeType,       // type
		c.config.ExchangeDurable,    // durable
		c.config.ExchangeAutoDelete, // auto-deleted
		false,                       // internal
		false,                       // no-wait
		nil,                         // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if c.config.QueueName == "" {
		return nil
	}

	_, err = c.channel.QueueDeclare(
		c.config.QueueName,       // name
		c.config.QueueDurable,    // durable
		c.config.QueueAutoDelete, // auto-delete
		c.config.QueueExclusive,  // exclusive
		false,                    // no-wait
		nil,                      // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	err = c.channel.QueueBind(
		c.config.QueueName,    // queue name
		c.config.RoutingKey,   // routing key
		c.config.ExchangeName, // exchange
		false,                 // no-wait
		nil,                   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	return nil
}

// Close closes the connection, giving up after the configured timeout
func (c *Client) Close(context.Context) {
	c.logger.Info("Closing RabbitMQ connection")

	broker.CloseWithin(c.config.CloseTimeout, func() error {
		c.publishMu.Lock()
		defer c.publishMu.Unlock()

		if c.channel != nil {
			if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
				c.logger.Error("Failed to close RabbitMQ channel",
					slog.Any("error", err),
				)
			}
		}
		if c.conn != nil {
			if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
				return err
			}
		}
		return nil
	}, c.logger, "RabbitMQ connection")
}

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	return c.conn != nil && !c.conn.IsClosed()
}

// HealthCheck reports an error when the connection is gone
func (c *Client) HealthCheck(context.Context) error {
	if !c.IsConnected() {
		return errors.New("rabbitmq connection is closed")
	}
	return nil
}

// classify maps a closed channel or connection onto broker.ErrDisconnected
func classify(op string, err error) error {
	if errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("failed to %s: %w", op, broker.ErrDisconnected)
	}
	if broker.IsTerminal(err) {
		return err
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
