package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/powrelay/internal/domain"
)

// JobReader looks up stored jobs
type JobReader struct {
	db *sqlx.DB
}

// NewJobReader creates a new JobReader instance
func NewJobReader(db *sqlx.DB) *JobReader {
	return &JobReader{db: db}
}

// GetByTaskID retrieves the job a task id was assigned to
func (r *JobReader) GetByTaskID(ctx context.Context, taskID string) (domain.StoredJob, error) {
	query := `
		SELECT task_id, block_height, created_at
		FROM job
		WHERE task_id = $1
	`

	var job domain.StoredJob
	if err := r.db.GetContext(ctx, &job, query, taskID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return job, domain.ErrJobNotFound
		}
		return job, domain.NewStorageError("get job", err)
	}

	return job, nil
}
