package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/segmentio/kafka-go"
)

// EnsureTopic creates the configured topic on the cluster controller unless it already exists
func EnsureTopic(ctx context.Context, config *Config, logger *slog.Logger) error {
	if len(config.Brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}

	dialer := config.dialer()

	conn, err := dialer.DialContext(ctx, "tcp", config.Brokers[0])
	if err != nil {
		return fmt.Errorf("failed to dial kafka: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to find kafka controller: %w", err)
	}

	controllerConn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("failed to dial kafka controller: %w", err)
	}
	defer controllerConn.Close()

	topic := kafka.TopicConfig{
		Topic:             config.Topic,
		NumPartitions:     config.Partitions,
		ReplicationFactor: config.ReplicationFactor,
	}
	if config.Retention > 0 {
		topic.ConfigEntries = []kafka.ConfigEntry{{
			ConfigName:  "retention.ms",
			ConfigValue: strconv.FormatInt(config.Retention.Milliseconds(), 10),
		}}
	}

	err = controllerConn.CreateTopics(topic)
	if errors.Is(err, kafka.TopicAlreadyExists) {
		logger.Info("Kafka topic already exists", slog.String("topic", config.Topic))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create topic %q: %w", config.Topic, err)
	}

	logger.Info("Kafka topic created",
		slog.String("topic", config.Topic),
		slog.Int("partitions", config.Partitions),
		slog.Int("replication_factor", config.ReplicationFactor),
	)
	return nil
}
