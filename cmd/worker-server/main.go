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
	"github.com/cuongbtq/powrelay/internal/service"
	"github.com/cuongbtq/powrelay/internal/storage"
	"github.com/cuongbtq/powrelay/internal/workerserver"
	"github.com/cuongbtq/powrelay/shared/kafka"
	"github.com/cuongbtq/powrelay/shared/postgresql"
	"github.com/cuongbtq/powrelay/shared/rabbitmq"
	"github.com/cuongbtq/powrelay/shared/wsconn"
)

const serviceName = "worker-server"

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, appLogger, err := service.Bootstrap(service.Options{
		Name:              serviceName,
		ConfigEnv:         "WORKER_SERVER_CONFIG_PATH",
		DefaultConfigPath: "configs/worker-server/config.yaml",
		Validate:          (*config.Config).ValidateWorkerServer,
	})
	if err != nil {
		return err
	}
	defer appLogger.Close()
	logger := appLogger.ForService(serviceName).Logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbClient, err := postgresql.NewClient(ctx, cfg.PostgresConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	logger.Info("Database connection established")

	// Solutions go to the persistence queue through the solution exchange
	rabbitClient, err := rabbitmq.NewClient(ctx, cfg.RabbitMQClientConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close(context.Background())

	logger.Info("RabbitMQ connection established")

	handler := workerserver.NewHandler(&workerserver.Config{
		Logger:    logger,
		Workers:   storage.NewWorkerStorage(dbClient.GetDB(), logger),
		Jobs:      kafka.NewConsumerFactory(cfg.KafkaClientConfig(), logger),
		Solutions: rabbitClient,
	})
	wsServer := wsconn.NewServer(cfg.WebsocketConfig(), handler.Serve, logger)

	service.SetGinMode(cfg.App.Environment)
	router := httpapi.SetupRouter(&httpapi.Dependencies{
		Logger:  logger,
		Service: serviceName,
		Checks: map[string]httpapi.HealthCheck{
			"postgres": dbClient.HealthCheck,
			"rabbitmq": rabbitClient.HealthCheck,
		},
		Websocket: wsServer,
	})

	srv := service.NewHTTPServer(cfg.Server, router)
	if err := service.Serve(ctx, srv, cfg.Server, logger, wsServer.Shutdown); err != nil {
		return err
	}

	logger.Info("Worker server shutdown complete", slog.String("address", srv.Addr))
	return nil
}
