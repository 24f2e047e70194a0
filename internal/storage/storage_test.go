package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/powrelay/internal/domain"
	"github.com/cuongbtq/powrelay/shared/logger"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return sqlx.NewDb(db, "postgres"), mock
}

func TestJobBinding_Values(t *testing.T) {
	values, err := JobBinding.Values(domain.JobInput{
		EpochChallenge: json.RawMessage(`{"epoch_number": 3, "epoch_block_hash": "ab"}`),
		ProofTarget:    5000,
		BlockHeight:    42,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(42), values["block_height"])
	assert.Equal(t, `{"epoch_block_hash":"ab","epoch_number":3}`, values["epoch_challenge"])

	_, err = uuid.Parse(values["task_id"].(string))
	assert.NoError(t, err)

	again, err := JobBinding.Values(domain.JobInput{EpochChallenge: json.RawMessage(`{}`), BlockHeight: 42})
	require.NoError(t, err)
	assert.NotEqual(t, values["task_id"], again["task_id"])
}

func TestSolutionBinding_Values(t *testing.T) {
	values, err := SolutionBinding.Values(domain.SolutionInput{
		HardwareID:     "hw",
		Caption:        "rig",
		TaskID:         "task",
		Solution:       json.RawMessage(`{"partial_solution":{"nonce":77}}`),
		SolutionTarget: 10,
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"unique_key":  "77",
		"task_id":     "task",
		"hardware_id": "hw",
		"caption":     "rig",
		"solution":    `{"partial_solution":{"nonce":77}}`,
	}, values)

	_, err = SolutionBinding.Values(domain.SolutionInput{Solution: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestJobStorage_Store(t *testing.T) {
	db, mock := newMockDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	store := NewJobStorage(db, rdb, time.Hour)
	created := time.Now().UTC()

	mock.ExpectQuery(`INSERT INTO job \(block_height, epoch_challenge, task_id\) VALUES \(\$1, \$2, \$3\) ON CONFLICT \(block_height\) DO UPDATE SET block_height = excluded.block_height RETURNING task_id, block_height, created_at`).
		WithArgs(int64(42), `{"a":1}`, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"task_id", "block_height", "created_at"}).AddRow("existing", 42, created))

	isNew, stored, err := store.Store(context.Background(), domain.JobInput{
		EpochChallenge: json.RawMessage(`{"a":1}`),
		ProofTarget:    5000,
		BlockHeight:    42,
	})
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, "existing", stored.TaskID)
	assert.Equal(t, int64(42), stored.BlockHeight)

	marked, err := store.MarkStored(context.Background(), stored)
	require.NoError(t, err)
	assert.True(t, marked)
	assert.True(t, mr.Exists("job_existing"))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSolutionStorage_MarkStoredUsesUniqueKey(t *testing.T) {
	db, _ := newMockDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	store := NewSolutionStorage(db, rdb, time.Minute)

	marked, err := store.MarkStored(context.Background(), domain.StoredSolution{UniqueKey: "77", CreatedAt: time.Now()})
	require.NoError(t, err)
	assert.True(t, marked)

	marked, err = store.MarkStored(context.Background(), domain.StoredSolution{UniqueKey: "77", CreatedAt: time.Now()})
	require.NoError(t, err)
	assert.False(t, marked)

	assert.Equal(t, time.Minute, mr.TTL("solution_77"))
}

func TestJobReader_GetByTaskID(t *testing.T) {
	created := time.Now().UTC()

	tests := []struct {
		name      string
		setupMock func(mock sqlmock.Sqlmock)
		want      domain.StoredJob
		wantErr   error
		storage   bool
	}{
		{
			name: "found",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT task_id, block_height, created_at\s+FROM job\s+WHERE task_id = \$1`).
					WithArgs("task").
					WillReturnRows(sqlmock.NewRows([]string{"task_id", "block_height", "created_at"}).AddRow("task", 42, created))
			},
			want: domain.StoredJob{TaskID: "task", BlockHeight: 42, CreatedAt: created},
		},
		{
			name: "not found",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT task_id`).WithArgs("task").WillReturnError(sql.ErrNoRows)
			},
			wantErr: domain.ErrJobNotFound,
		},
		{
			name: "database failure",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT task_id`).WithArgs("task").WillReturnError(assert.AnError)
			},
			wantErr: assert.AnError,
			storage: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			tt.setupMock(mock)

			got, err := NewJobReader(db).GetByTaskID(context.Background(), "task")

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, tt.storage, domain.IsStorageError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.TaskID, got.TaskID)
			assert.Equal(t, tt.want.BlockHeight, got.BlockHeight)
			assert.True(t, tt.want.CreatedAt.Equal(got.CreatedAt))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestWorkerStorage(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewWorkerStorage(db, logger.NewDiscard().Logger)
	connected := time.Now().UTC()

	worker := domain.Worker{
		IP:         "10.0.0.1",
		Address:    "aleo1xyz",
		Hardware:   "rtx",
		HardwareID: "hw-1",
		Caption:    "rig",
	}

	mock.ExpectQuery(`INSERT INTO worker \(ip, address, hardware, hardware_id, caption\)`).
		WithArgs("10.0.0.1", "aleo1xyz", "rtx", "hw-1", "rig").
		WillReturnRows(sqlmock.NewRows([]string{"id", "connected_at", "disconnected_at"}).AddRow(7, connected, nil))

	conn, err := store.StoreConnect(context.Background(), worker)
	require.NoError(t, err)
	assert.Equal(t, int64(7), conn.ID)
	assert.Nil(t, conn.DisconnectedAt)

	mock.ExpectExec(`UPDATE worker\s+SET disconnected_at = .+\s+WHERE id = \$1 AND disconnected_at IS NULL`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.StoreDisconnect(context.Background(), conn))

	mock.ExpectExec(`UPDATE worker`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, store.StoreDisconnect(context.Background(), conn))

	mock.ExpectExec(`UPDATE worker`).WithArgs(int64(7)).WillReturnError(assert.AnError)
	err = store.StoreDisconnect(context.Background(), conn)
	assert.True(t, domain.IsStorageError(err))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkerStorage_StoreConnectFailure(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewWorkerStorage(db, logger.NewDiscard().Logger)

	mock.ExpectQuery(`INSERT INTO worker`).WillReturnError(assert.AnError)

	_, err := store.StoreConnect(context.Background(), domain.Worker{IP: "ip"})
	assert.True(t, domain.IsStorageError(err))
}
