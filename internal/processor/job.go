package processor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/powrelay/internal/domain"
	"github.com/cuongbtq/powrelay/internal/metrics"
	"github.com/cuongbtq/powrelay/shared/broker"
)

// JobStore persists jobs and flags them as announced
type JobStore interface {
	Store(ctx context.Context, job domain.JobInput) (bool, domain.StoredJob, error)
	MarkStored(ctx context.Context, stored domain.StoredJob) (bool, error)
}

// JobProcessor persists submitted jobs and announces new ones to worker connections
type JobProcessor struct {
	store     JobStore
	announcer broker.Producer
	logger    *slog.Logger
}

// NewJobProcessor creates a new JobProcessor instance
func NewJobProcessor(store JobStore, announcer broker.Producer, logger *slog.Logger) *JobProcessor {
	return &JobProcessor{
		store:     store,
		announcer: announcer,
		logger:    logger,
	}
}

// Handle stores job and announces it if no other consumer already did
func (p *JobProcessor) Handle(ctx context.Context, job domain.JobInput) error {
	isNew, stored, err := p.store.Store(ctx, job)
	if err != nil {
		return fmt.Errorf("failed to store job: %w", err)
	}

	logger := p.logger.With(
		slog.String("task_id", stored.TaskID),
		slog.Int64("height", stored.BlockHeight),
	)

	if !isNew {
		metrics.EntitiesStored.WithLabelValues(metrics.EntityJob, metrics.OutcomeDuplicate).Inc()
		logger.Debug("Job already announced, skipping")
		return nil
	}
	metrics.EntitiesStored.WithLabelValues(metrics.EntityJob, metrics.OutcomeNew).Inc()

	if err := p.announcer.Produce(ctx, job.Announce(stored)); err != nil {
		return fmt.Errorf("failed to announce job: %w", err)
	}

	marked, err := p.store.MarkStored(ctx, stored)
	if err != nil {
		return fmt.Errorf("failed to mark job announced: %w", err)
	}
	if !marked {
		metrics.MarkStoredRaces.WithLabelValues(metrics.EntityJob).Inc()
		logger.Warn("Job was announced by another consumer as well")
		return nil
	}

	logger.Info("Job announced",
		slog.Int64("target", job.ProofTarget),
	)
	return nil
}
