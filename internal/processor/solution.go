package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/powrelay/internal/domain"
	"github.com/cuongbtq/powrelay/internal/metrics"
	"github.com/cuongbtq/powrelay/shared/broker"
)

// SolutionStore persists solutions and flags them as announced
type SolutionStore interface {
	Store(ctx context.Context, solution domain.SolutionInput) (bool, domain.StoredSolution, error)
	MarkStored(ctx context.Context, stored domain.StoredSolution) (bool, error)
}

// JobReader resolves the job a solution answers
type JobReader interface {
	GetByTaskID(ctx context.Context, taskID string) (domain.StoredJob, error)
}

// SolutionProcessor persists submitted solutions and announces new ones to node connections
type SolutionProcessor struct {
	store     SolutionStore
	jobs      JobReader
	announcer broker.Producer
	logger    *slog.Logger
}

// NewSolutionProcessor creates a new SolutionProcessor instance
func NewSolutionProcessor(store SolutionStore, jobs JobReader, announcer broker.Producer, logger *slog.Logger) *SolutionProcessor {
	return &SolutionProcessor{
		store:     store,
		jobs:      jobs,
		announcer: announcer,
		logger:    logger,
	}
}

// Handle stores solution, resolves its job height and announces it once
func (p *SolutionProcessor) Handle(ctx context.Context, solution domain.SolutionInput) error {
	isNew, stored, err := p.store.Store(ctx, solution)
	if err != nil {
		return fmt.Errorf("failed to store solution: %w", err)
	}

	logger := p.logger.With(
		slog.String("task_id", solution.TaskID),
		slog.String("unique_key", stored.UniqueKey),
		slog.String("hardware_id", solution.HardwareID),
		slog.String("caption", solution.Caption),
		slog.Int64("target", solution.SolutionTarget),
	)

	if !isNew {
		metrics.EntitiesStored.WithLabelValues(metrics.EntitySolution, metrics.OutcomeDuplicate).Inc()
		logger.Debug("Solution already announced, skipping")
		return nil
	}
	metrics.EntitiesStored.WithLabelValues(metrics.EntitySolution, metrics.OutcomeNew).Inc()

	job, err := p.jobs.GetByTaskID(ctx, solution.TaskID)
	if errors.Is(err, domain.ErrJobNotFound) {
		metrics.SolutionsUnknownJob.Inc()
		logger.Warn("Dropping solution for unknown job")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up job: %w", err)
	}
	logger = logger.With(slog.Int64("height", job.BlockHeight))

	if err := p.announcer.Produce(ctx, solution.Announce(job.BlockHeight)); err != nil {
		return fmt.Errorf("failed to announce solution: %w", err)
	}

	marked, err := p.store.MarkStored(ctx, stored)
	if err != nil {
		return fmt.Errorf("failed to mark solution announced: %w", err)
	}
	if !marked {
		metrics.MarkStoredRaces.WithLabelValues(metrics.EntitySolution).Inc()
		logger.Warn("Solution was announced by another consumer as well")
		return nil
	}

	logger.Info("Solution announced")
	return nil
}
