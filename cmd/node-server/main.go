package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/cuongbtq/powrelay/internal/config"
	"github.com/cuongbtq/powrelay/internal/httpapi"
	"github.com/cuongbtq/powrelay/internal/nodeserver"
	"github.com/cuongbtq/powrelay/internal/service"
	"github.com/cuongbtq/powrelay/shared/kafka"
	"github.com/cuongbtq/powrelay/shared/rabbitmq"
	"github.com/cuongbtq/powrelay/shared/wsconn"
)

const serviceName = "node-server"

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, appLogger, err := service.Bootstrap(service.Options{
		Name:              serviceName,
		ConfigEnv:         "NODE_SERVER_CONFIG_PATH",
		DefaultConfigPath: "configs/node-server/config.yaml",
		Validate:          (*config.Config).ValidateNodeServer,
	})
	if err != nil {
		return err
	}
	defer appLogger.Close()
	logger := appLogger.ForService(serviceName).Logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Jobs go to the persistence queue through the job exchange
	rabbitClient, err := rabbitmq.NewClient(ctx, cfg.RabbitMQClientConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close(context.Background())

	logger.Info("RabbitMQ connection established")

	handler := nodeserver.NewHandler(&nodeserver.Config{
		Logger:    logger,
		Jobs:      rabbitClient,
		Solutions: kafka.NewConsumerFactory(cfg.KafkaClientConfig(), logger),
		Window:    cfg.WindowSettings(),
	})
	wsServer := wsconn.NewServer(cfg.WebsocketConfig(), handler.Serve, logger)

	service.SetGinMode(cfg.App.Environment)
	router := httpapi.SetupRouter(&httpapi.Dependencies{
		Logger:  logger,
		Service: serviceName,
		Checks: map[string]httpapi.HealthCheck{
			"rabbitmq": rabbitClient.HealthCheck,
		},
		Websocket: wsServer,
	})

	srv := service.NewHTTPServer(cfg.Server, router)
	if err := service.Serve(ctx, srv, cfg.Server, logger, wsServer.Shutdown); err != nil {
		return err
	}

	logger.Info("Node server shutdown complete", slog.String("address", srv.Addr))
	return nil
}
