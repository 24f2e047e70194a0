// Package storagetest provides in-memory stores with the same dedup
// semantics as the Postgres and Redis backed ones.
package storagetest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/powrelay/internal/domain"
)

// JobStore keeps one job per height and a set of announced task ids
type JobStore struct {
	mu       sync.Mutex
	byHeight map[int64]domain.StoredJob
	byTask   map[string]domain.StoredJob
	flags    map[string]bool
	// Err, when set, fails every call
	Err error
}

// NewJobStore creates an empty JobStore
func NewJobStore() *JobStore {
	return &JobStore{
		byHeight: make(map[int64]domain.StoredJob),
		byTask:   make(map[string]domain.StoredJob),
		flags:    make(map[string]bool),
	}
}

// Store upserts job by height
func (s *JobStore) Store(_ context.Context, job domain.JobInput) (bool, domain.StoredJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return false, domain.StoredJob{}, domain.NewStorageError("upsert job", s.Err)
	}

	stored, ok := s.byHeight[job.BlockHeight]
	if !ok {
		stored = domain.StoredJob{
			TaskID:      uuid.NewString(),
			BlockHeight: job.BlockHeight,
			CreatedAt:   time.Now(),
		}
		s.byHeight[job.BlockHeight] = stored
		s.byTask[stored.TaskID] = stored
	}
	return !s.flags[stored.TaskID], stored, nil
}

// MarkStored flags the job as announced
func (s *JobStore) MarkStored(_ context.Context, stored domain.StoredJob) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return false, domain.NewStorageError("mark job", s.Err)
	}
	if s.flags[stored.TaskID] {
		return false, nil
	}
	s.flags[stored.TaskID] = true
	return true, nil
}

// GetByTaskID looks a job up by task id
func (s *JobStore) GetByTaskID(_ context.Context, taskID string) (domain.StoredJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return domain.StoredJob{}, domain.NewStorageError("get job", s.Err)
	}
	stored, ok := s.byTask[taskID]
	if !ok {
		return domain.StoredJob{}, domain.ErrJobNotFound
	}
	return stored, nil
}

// Len returns the number of stored jobs
func (s *JobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byHeight)
}

// SolutionStore keeps one solution per unique key and a set of announced keys
type SolutionStore struct {
	mu     sync.Mutex
	stored map[string]domain.StoredSolution
	flags  map[string]bool
	// Err, when set, fails every call
	Err error
}

// NewSolutionStore creates an empty SolutionStore
func NewSolutionStore() *SolutionStore {
	return &SolutionStore{
		stored: make(map[string]domain.StoredSolution),
		flags:  make(map[string]bool),
	}
}

// Store upserts solution by unique key
func (s *SolutionStore) Store(_ context.Context, solution domain.SolutionInput) (bool, domain.StoredSolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return false, domain.StoredSolution{}, domain.NewStorageError("upsert solution", s.Err)
	}

	key, err := solution.UniqueKey()
	if err != nil {
		return false, domain.StoredSolution{}, err
	}

	stored, ok := s.stored[key]
	if !ok {
		stored = domain.StoredSolution{UniqueKey: key, CreatedAt: time.Now()}
		s.stored[key] = stored
	}
	return !s.flags[key], stored, nil
}

// MarkStored flags the solution as announced
func (s *SolutionStore) MarkStored(_ context.Context, stored domain.StoredSolution) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return false, domain.NewStorageError("mark solution", s.Err)
	}
	if s.flags[stored.UniqueKey] {
		return false, nil
	}
	s.flags[stored.UniqueKey] = true
	return true, nil
}

// WorkerStore records worker connections in memory
type WorkerStore struct {
	mu           sync.Mutex
	nextID       int64
	Connected    []domain.Worker
	Disconnected []int64
	// ConnectErr, when set, fails StoreConnect
	ConnectErr error
}

// StoreConnect records a connection and assigns it an id
func (s *WorkerStore) StoreConnect(_ context.Context, worker domain.Worker) (domain.WorkerConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ConnectErr != nil {
		return domain.WorkerConnection{}, domain.NewStorageError("insert worker", s.ConnectErr)
	}
	s.nextID++
	s.Connected = append(s.Connected, worker)
	return domain.WorkerConnection{ID: s.nextID, ConnectedAt: time.Now()}, nil
}

// StoreDisconnect records the disconnect of conn
func (s *WorkerStore) StoreDisconnect(_ context.Context, conn domain.WorkerConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Disconnected = append(s.Disconnected, conn.ID)
	return nil
}

// Snapshot returns copies of the recorded connects and disconnects
func (s *WorkerStore) Snapshot() ([]domain.Worker, []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Worker(nil), s.Connected...), append([]int64(nil), s.Disconnected...)
}
