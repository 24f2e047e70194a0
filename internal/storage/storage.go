package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/cuongbtq/powrelay/internal/dedup"
	"github.com/cuongbtq/powrelay/internal/domain"
	"github.com/cuongbtq/powrelay/shared/broker"
)

// JobStorage persists jobs, one row per block height
type JobStorage = dedup.Store[domain.JobInput, domain.StoredJob]

// SolutionStorage persists solutions, one row per unique key
type SolutionStorage = dedup.Store[domain.SolutionInput, domain.StoredSolution]

// JobBinding dedups jobs on block_height and flags them by task_id
var JobBinding = dedup.Binding[domain.JobInput]{
	Table:         "job",
	IndexColumns:  []string{"block_height"},
	BypassColumn:  "block_height",
	FlagColumn:    "task_id",
	Prefix:        "job_",
	ReturnColumns: []string{"task_id", "block_height", "created_at"},
	Values: func(job domain.JobInput) (map[string]any, error) {
		challenge, err := broker.Encode(job.EpochChallenge)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"task_id":         uuid.NewString(),
			"block_height":    job.BlockHeight,
			"epoch_challenge": string(challenge),
		}, nil
	},
}

// SolutionBinding dedups and flags solutions on unique_key
var SolutionBinding = dedup.Binding[domain.SolutionInput]{
	Table:         "solution",
	IndexColumns:  []string{"unique_key"},
	BypassColumn:  "unique_key",
	FlagColumn:    "unique_key",
	Prefix:        "solution_",
	ReturnColumns: []string{"unique_key", "created_at"},
	Values: func(solution domain.SolutionInput) (map[string]any, error) {
		key, err := solution.UniqueKey()
		if err != nil {
			return nil, err
		}
		payload, err := broker.Encode(solution.Solution)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"unique_key":  key,
			"task_id":     solution.TaskID,
			"hardware_id": solution.HardwareID,
			"caption":     solution.Caption,
			"solution":    string(payload),
		}, nil
	},
}

// NewJobStorage creates the job dedup store
func NewJobStorage(db *sqlx.DB, rdb redis.Cmdable, ttl time.Duration) *JobStorage {
	return dedup.New[domain.JobInput, domain.StoredJob](db, rdb, JobBinding, ttl)
}

// NewSolutionStorage creates the solution dedup store
func NewSolutionStorage(db *sqlx.DB, rdb redis.Cmdable, ttl time.Duration) *SolutionStorage {
	return dedup.New[domain.SolutionInput, domain.StoredSolution](db, rdb, SolutionBinding, ttl)
}
