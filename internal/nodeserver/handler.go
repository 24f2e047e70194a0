// Package nodeserver serves node connections: it queues their jobs for
// persistence and returns the solutions they are still waiting for.
package nodeserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/cuongbtq/powrelay/internal/domain"
	"github.com/cuongbtq/powrelay/internal/metrics"
	"github.com/cuongbtq/powrelay/internal/window"
	"github.com/cuongbtq/powrelay/shared/broker"
	"github.com/cuongbtq/powrelay/shared/wsconn"
)

// Config holds handler dependencies
type Config struct {
	Logger *slog.Logger
	// Jobs receives submitted jobs for persistence
	Jobs broker.Producer
	// Solutions spawns one announcement subscription per connection
	Solutions broker.ConsumerFactory
	Window    window.Config
}

// Handler serves node connections
type Handler struct {
	logger    *slog.Logger
	jobs      broker.Producer
	solutions broker.ConsumerFactory
	window    window.Config
}

// NewHandler creates a new Handler instance
func NewHandler(cfg *Config) *Handler {
	return &Handler{
		logger:    cfg.Logger,
		jobs:      cfg.Jobs,
		solutions: cfg.Solutions,
		window:    cfg.Window,
	}
}

// Serve runs one node connection until it closes
func (h *Handler) Serve(ctx context.Context, conn wsconn.Connection) {
	logger := h.logger.With(slog.String("connection_id", conn.ID()))

	metrics.ActiveConnections.WithLabelValues(metrics.RoleNode).Inc()
	defer metrics.ActiveConnections.WithLabelValues(metrics.RoleNode).Dec()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	expected := window.New(h.window)
	expected.Open(ctx)
	defer expected.Close()

	consumer, err := h.solutions.Spawn(ctx)
	if err != nil {
		logger.Error("Failed to subscribe to solutions", slog.Any("error", err))
		closeConn(conn, wsconn.CloseInternalError, "subscribe_failed", logger)
		return
	}
	defer consumer.Close(context.WithoutCancel(ctx))

	subscription := make(chan struct{})
	go func() {
		defer close(subscription)
		h.forwardSolutions(ctx, cancel, conn, consumer, expected, logger)
	}()

	logger.Info("Node connected")

	h.receiveJobs(ctx, conn, expected, logger)

	cancel()
	<-subscription

	logger.Info("Node disconnected")
}

func (h *Handler) receiveJobs(ctx context.Context, conn wsconn.Connection, expected *window.Window, logger *slog.Logger) {
	for {
		data, err := conn.Receive(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || broker.IsTerminal(err) {
				logger.Debug("Node receive loop finished", slog.Any("reason", err))
			} else {
				logger.Warn("Failed to receive from node", slog.Any("error", err))
			}
			return
		}

		job, err := broker.Decode[domain.JobInput](data)
		if err != nil {
			logger.Warn("Skipping malformed job", slog.Any("error", err))
			continue
		}

		jobLogger := logger.With(
			slog.Int64("height", job.BlockHeight),
			slog.Int64("target", job.ProofTarget),
		)

		if err := h.jobs.Produce(ctx, job); err != nil {
			jobLogger.Error("Failed to queue job", slog.Any("error", err))
			closeConn(conn, wsconn.CloseInternalError, "produce_failed", logger)
			return
		}

		expected.Wait(job.BlockHeight, job.ProofTarget)
		metrics.JobsSubmitted.Inc()
		jobLogger.Info("Job queued")
	}
}

func (h *Handler) forwardSolutions(
	ctx context.Context,
	cancel context.CancelFunc,
	conn wsconn.Connection,
	consumer broker.Consumer,
	expected *window.Window,
	logger *slog.Logger,
) {
	err := broker.Consume(ctx, consumer, func(ctx context.Context, solution domain.SolutionAnnouncement) error {
		solutionLogger := logger.With(
			slog.String("task_id", solution.TaskID),
			slog.Int64("height", solution.SolutionHeight),
			slog.Int64("target", solution.SolutionTarget),
		)

		if !expected.IsWaiting(solution.SolutionHeight, solution.SolutionTarget) {
			metrics.SolutionsIgnored.Inc()
			solutionLogger.Debug("Ignoring solution the node is not waiting for")
			return nil
		}

		if err := conn.Send(ctx, solution.Solution); err != nil {
			solutionLogger.Error("Failed to send solution", slog.Any("error", err))
			closeConn(conn, wsconn.CloseInternalError, "send_failed", logger)
			cancel()
			return fmt.Errorf("failed to send solution: %w", err)
		}

		metrics.SolutionsForwarded.Inc()
		solutionLogger.Info("Solution forwarded")
		return nil
	}, logger)

	if ctx.Err() != nil {
		return
	}

	logger.Error("Solution subscription ended", slog.Any("error", err))
	closeConn(conn, wsconn.CloseInternalError, "subscription_failed", logger)
}

func closeConn(conn wsconn.Connection, code int, reason string, logger *slog.Logger) {
	if !conn.IsOpen() {
		return
	}
	metrics.ConnectionsClosed.WithLabelValues(metrics.RoleNode, reason).Inc()
	if err := conn.Close(code); err != nil {
		logger.Debug("Failed to close connection", slog.Any("error", err))
	}
}
