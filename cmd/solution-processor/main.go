package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/powrelay/internal/config"
	"github.com/cuongbtq/powrelay/internal/domain"
	"github.com/cuongbtq/powrelay/internal/httpapi"
	"github.com/cuongbtq/powrelay/internal/processor"
	"github.com/cuongbtq/powrelay/internal/service"
	"github.com/cuongbtq/powrelay/internal/storage"
	"github.com/cuongbtq/powrelay/shared/kafka"
	"github.com/cuongbtq/powrelay/shared/postgresql"
	"github.com/cuongbtq/powrelay/shared/rabbitmq"
	"github.com/cuongbtq/powrelay/shared/redis"
)

const serviceName = "solution-processor"

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, appLogger, err := service.Bootstrap(service.Options{
		Name:              serviceName,
		ConfigEnv:         "SOLUTION_PROCESSOR_CONFIG_PATH",
		DefaultConfigPath: "configs/solution-processor/config.yaml",
		Validate:          (*config.Config).ValidateSolutionProcessor,
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

	redisClient, err := redis.NewClient(ctx, cfg.RedisClientConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	defer redisClient.Close()

	rabbitClient, err := rabbitmq.NewClient(ctx, cfg.RabbitMQClientConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close(context.Background())

	announcer, err := kafka.NewProducer(ctx, cfg.KafkaClientConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize kafka producer: %w", err)
	}
	defer announcer.Close(context.Background())

	logger.Info("Connections established")

	solutions := storage.NewSolutionStorage(dbClient.GetDB(), redisClient.GetClient(), cfg.Dedup.RecordTTL)
	jobs := storage.NewJobReader(dbClient.GetDB())
	worker := processor.NewWorker(&processor.Config[domain.SolutionInput]{
		Logger:      logger,
		Consumers:   rabbitClient,
		Handler:     processor.NewSolutionProcessor(solutions, jobs, announcer, logger).Handle,
		Concurrency: cfg.Processor.Concurrency,
	})

	service.SetGinMode(cfg.App.Environment)
	router := httpapi.SetupRouter(&httpapi.Dependencies{
		Logger:  logger,
		Service: serviceName,
		Checks: map[string]httpapi.HealthCheck{
			"postgres": dbClient.HealthCheck,
			"redis":    redisClient.HealthCheck,
			"rabbitmq": rabbitClient.HealthCheck,
		},
	})
	srv := service.NewHTTPServer(cfg.Server, router)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return worker.Start(groupCtx)
	})
	group.Go(func() error {
		return service.Serve(groupCtx, srv, cfg.Server, logger)
	})

	if err := group.Wait(); err != nil {
		return err
	}

	logger.Info("Solution processor shutdown complete")
	return nil
}
