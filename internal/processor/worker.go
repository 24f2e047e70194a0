package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/powrelay/shared/broker"
)

// Config holds worker configuration
type Config[T any] struct {
	Logger      *slog.Logger
	Consumers   broker.ConsumerFactory
	Handler     broker.Handler[T]
	Concurrency int
}

// Worker drains a persist queue with a fixed number of consumers, each
// handling one message at a time
type Worker[T any] struct {
	logger      *slog.Logger
	consumers   broker.ConsumerFactory
	handler     broker.Handler[T]
	concurrency int
}

// NewWorker creates a new worker instance
func NewWorker[T any](cfg *Config[T]) *Worker[T] {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	return &Worker[T]{
		logger:      cfg.Logger,
		consumers:   cfg.Consumers,
		handler:     cfg.Handler,
		concurrency: concurrency,
	}
}

// Start runs the consumers until ctx is cancelled or one of them fails.
// A clean shutdown returns nil.
func (w *Worker[T]) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.Int("concurrency", w.concurrency),
	)

	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		id := i
		group.Go(func() error {
			return w.run(groupCtx, id)
		})
	}

	err := group.Wait()
	if ctx.Err() != nil && (err == nil || broker.IsTerminal(err)) {
		w.logger.Info("Worker stopped")
		return nil
	}
	return err
}

func (w *Worker[T]) run(ctx context.Context, id int) error {
	logger := w.logger.With(slog.Int("consumer", id))

	consumer, err := w.consumers.Spawn(ctx)
	if err != nil {
		return fmt.Errorf("failed to open consumer %d: %w", id, err)
	}
	defer consumer.Close(context.WithoutCancel(ctx))

	err = broker.Consume(ctx, consumer, w.handler, logger)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if broker.IsDisconnected(err) {
		logger.Error("Consumer disconnected", slog.Any("error", err))
	}
	return err
}
