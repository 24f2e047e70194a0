// Package kafka adapts segmentio/kafka-go to the broker Consumer and Producer contracts.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"

	"github.com/cuongbtq/powrelay/shared/broker"
)

// Config holds Kafka connection configuration
type Config struct {
	Brokers           []string
	User              string
	Password          string
	Topic             string
	Partitions        int
	ReplicationFactor int
	Retention         time.Duration
	DialTimeout       time.Duration
	ConsumerCloseWait time.Duration
	ProducerCloseWait time.Duration
}

func (c *Config) mechanism() sasl.Mechanism {
	if c.User == "" {
		return nil
	}
	return plain.Mechanism{Username: c.User, Password: c.Password}
}

func (c *Config) dialer() *kafka.Dialer {
	return &kafka.Dialer{
		Timeout:       c.DialTimeout,
		DualStack:     true,
		SASLMechanism: c.mechanism(),
	}
}

// ping checks that some broker is reachable and knows the topic
func ping(ctx context.Context, config *Config, dialer *kafka.Dialer, logger *slog.Logger) error {
	return broker.Retry(ctx, broker.ConnectAttempts, func(ctx context.Context) error {
		var lastErr error
		for _, addr := range config.Brokers {
			conn, err := dialer.DialContext(ctx, "tcp", addr)
			if err != nil {
				lastErr = err
				continue
			}
			_, err = conn.ReadPartitions(config.Topic)
			conn.Close()
			if err != nil {
				lastErr = err
				continue
			}
			return nil
		}

		logger.Warn("Kafka not reachable yet",
			slog.String("topic", config.Topic),
			slog.Any("error", lastErr),
		)
		return fmt.Errorf("failed to reach kafka: %w", lastErr)
	})
}

// classify maps kafka-go's closed-client signals onto broker.ErrDisconnected
func classify(op string, err error) error {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrClosedPipe):
		return fmt.Errorf("failed to %s: %w", op, broker.ErrDisconnected)
	case broker.IsTerminal(err):
		return err
	default:
		return fmt.Errorf("failed to %s: %w", op, err)
	}
}
