package storage

import (
	"context"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/powrelay/internal/domain"
)

// WorkerStorage records worker connect and disconnect events
type WorkerStorage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewWorkerStorage creates a new WorkerStorage instance
func NewWorkerStorage(db *sqlx.DB, logger *slog.Logger) *WorkerStorage {
	return &WorkerStorage{
		db:     db,
		logger: logger,
	}
}

// StoreConnect inserts a worker row for a new connection
func (s *WorkerStorage) StoreConnect(ctx context.Context, worker domain.Worker) (domain.WorkerConnection, error) {
	query := `
		INSERT INTO worker (ip, address, hardware, hardware_id, caption)
		VALUES (:ip, :address, :hardware, :hardware_id, :caption)
		RETURNING id, connected_at, disconnected_at
	`

	var conn domain.WorkerConnection

	rows, err := s.db.NamedQueryContext(ctx, query, worker)
	if err != nil {
		return conn, domain.NewStorageError("insert worker", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return conn, domain.NewStorageError("insert worker", err)
		}
		return conn, domain.NewStorageError("insert worker", errNoRowReturned)
	}
	if err := rows.StructScan(&conn); err != nil {
		return conn, domain.NewStorageError("scan worker", err)
	}

	s.logger.Debug("Worker connection stored",
		slog.Int64("worker_connection_id", conn.ID),
		slog.String("hardware_id", worker.HardwareID),
		slog.String("caption", worker.Caption),
	)

	return conn, nil
}

// StoreDisconnect stamps disconnected_at once; later calls leave the row untouched
func (s *WorkerStorage) StoreDisconnect(ctx context.Context, conn domain.WorkerConnection) error {
	query := `
		UPDATE worker
		SET disconnected_at = (now() at time zone 'utc')
		WHERE id = $1 AND disconnected_at IS NULL
	`

	result, err := s.db.ExecContext(ctx, query, conn.ID)
	if err != nil {
		return domain.NewStorageError("update worker", err)
	}

	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		s.logger.Warn("Worker disconnect already recorded",
			slog.Int64("worker_connection_id", conn.ID),
		)
	}

	return nil
}
