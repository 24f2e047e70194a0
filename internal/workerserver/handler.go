// Package workerserver serves worker connections: it dispatches announced
// jobs through a priority shield and queues returned solutions.
package workerserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cuongbtq/powrelay/internal/domain"
	"github.com/cuongbtq/powrelay/internal/metrics"
	"github.com/cuongbtq/powrelay/internal/shield"
	"github.com/cuongbtq/powrelay/shared/broker"
	"github.com/cuongbtq/powrelay/shared/wsconn"
)

const disconnectTimeout = 5 * time.Second

// WorkerStore records worker connections
type WorkerStore interface {
	StoreConnect(ctx context.Context, worker domain.Worker) (domain.WorkerConnection, error)
	StoreDisconnect(ctx context.Context, conn domain.WorkerConnection) error
}

// Config holds handler dependencies
type Config struct {
	Logger  *slog.Logger
	Workers WorkerStore
	// Jobs spawns one announcement subscription per connection
	Jobs broker.ConsumerFactory
	// Solutions receives stamped solutions for persistence
	Solutions broker.Producer
}

// Handler serves worker connections
type Handler struct {
	logger    *slog.Logger
	workers   WorkerStore
	jobs      broker.ConsumerFactory
	solutions broker.Producer
}

// NewHandler creates a new Handler instance
func NewHandler(cfg *Config) *Handler {
	return &Handler{
		logger:    cfg.Logger,
		workers:   cfg.Workers,
		jobs:      cfg.Jobs,
		solutions: cfg.Solutions,
	}
}

// Serve registers the worker from its handshake, then runs the connection until it closes
func (h *Handler) Serve(ctx context.Context, conn wsconn.Connection) {
	logger := h.logger.With(slog.String("connection_id", conn.ID()))

	data, err := conn.Receive(ctx)
	if err != nil {
		logger.Debug("Worker left before handshake", slog.Any("reason", err))
		return
	}

	worker, err := broker.Decode[domain.Worker](data)
	if err != nil {
		logger.Warn("Rejecting worker handshake", slog.Any("error", err))
		closeConn(conn, wsconn.ClosePolicyViolation, "bad_handshake", logger)
		return
	}

	logger = logger.With(
		slog.String("hardware_id", worker.HardwareID),
		slog.String("caption", worker.Caption),
		slog.String("ip", worker.IP),
	)

	record, err := h.workers.StoreConnect(ctx, worker)
	if err != nil {
		logger.Error("Failed to register worker", slog.Any("error", err))
		closeConn(conn, wsconn.CloseInternalError, "register_failed", logger)
		return
	}
	logger = logger.With(slog.Int64("worker_connection_id", record.ID))
	defer h.storeDisconnect(context.WithoutCancel(ctx), record, logger)

	metrics.ActiveConnections.WithLabelValues(metrics.RoleWorker).Inc()
	defer metrics.ActiveConnections.WithLabelValues(metrics.RoleWorker).Dec()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	consumer, err := h.jobs.Spawn(ctx)
	if err != nil {
		logger.Error("Failed to subscribe to jobs", slog.Any("error", err))
		closeConn(conn, wsconn.CloseInternalError, "subscribe_failed", logger)
		return
	}
	defer consumer.Close(context.WithoutCancel(ctx))

	subscription := make(chan struct{})
	go func() {
		defer close(subscription)
		h.dispatchJobs(ctx, cancel, conn, consumer, shield.New(), logger)
	}()

	logger.Info("Worker connected")

	h.receiveSolutions(ctx, conn, worker, logger)

	cancel()
	<-subscription

	logger.Info("Worker disconnected")
}

func (h *Handler) receiveSolutions(ctx context.Context, conn wsconn.Connection, worker domain.Worker, logger *slog.Logger) {
	for {
		data, err := conn.Receive(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || broker.IsTerminal(err) {
				logger.Debug("Worker receive loop finished", slog.Any("reason", err))
			} else {
				logger.Warn("Failed to receive from worker", slog.Any("error", err))
			}
			return
		}

		raw, err := broker.Decode[domain.RawSolutionInput](data)
		if err != nil {
			logger.Warn("Skipping malformed solution", slog.Any("error", err))
			continue
		}

		solutionLogger := logger.With(
			slog.String("task_id", raw.TaskID),
			slog.Int64("target", raw.SolutionTarget),
		)

		if err := h.solutions.Produce(ctx, raw.Stamp(worker)); err != nil {
			solutionLogger.Error("Failed to queue solution", slog.Any("error", err))
			closeConn(conn, wsconn.CloseInternalError, "produce_failed", logger)
			return
		}

		metrics.SolutionsSubmitted.Inc()
		solutionLogger.Info("Solution queued")
	}
}

func (h *Handler) dispatchJobs(
	ctx context.Context,
	cancel context.CancelFunc,
	conn wsconn.Connection,
	consumer broker.Consumer,
	priority *shield.Shield,
	logger *slog.Logger,
) {
	err := broker.Consume(ctx, consumer, func(ctx context.Context, job domain.JobAnnouncement) error {
		jobLogger := logger.With(
			slog.String("task_id", job.TaskID),
			slog.Int64("height", job.BlockHeight),
		)

		return priority.EnsurePriority(ctx, job.BlockHeight, func(shouldProcess bool) error {
			if !shouldProcess {
				metrics.JobsSuppressed.Inc()
				jobLogger.Debug("Suppressing job below current priority")
				return nil
			}

			payload, err := broker.Encode(job.Output())
			if err != nil {
				return err
			}

			if err := conn.Send(ctx, payload); err != nil {
				jobLogger.Error("Failed to send job", slog.Any("error", err))
				closeConn(conn, wsconn.CloseInternalError, "send_failed", logger)
				cancel()
				return fmt.Errorf("failed to send job: %w", err)
			}

			priority.StorePriority(job.BlockHeight)
			metrics.JobsDispatched.Inc()
			jobLogger.Info("Job dispatched")
			return nil
		})
	}, logger)

	if ctx.Err() != nil {
		return
	}

	logger.Error("Job subscription ended", slog.Any("error", err))
	closeConn(conn, wsconn.CloseInternalError, "subscription_failed", logger)
}

func (h *Handler) storeDisconnect(ctx context.Context, record domain.WorkerConnection, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, disconnectTimeout)
	defer cancel()

	if err := h.workers.StoreDisconnect(ctx, record); err != nil {
		logger.Error("Failed to record worker disconnect", slog.Any("error", err))
	}
}

func closeConn(conn wsconn.Connection, code int, reason string, logger *slog.Logger) {
	if !conn.IsOpen() {
		return
	}
	metrics.ConnectionsClosed.WithLabelValues(metrics.RoleWorker, reason).Inc()
	if err := conn.Close(code); err != nil {
		logger.Debug("Failed to close connection", slog.Any("error", err))
	}
}
