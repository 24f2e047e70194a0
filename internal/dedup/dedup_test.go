package dedup

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/powrelay/internal/domain"
)

type entity struct {
	Key string
}

type storedEntity struct {
	Key       string    `db:"key"`
	CreatedAt time.Time `db:"created_at"`
}

const upsertSQL = "INSERT INTO entity (key) VALUES ($1) ON CONFLICT (key) DO UPDATE SET key = excluded.key RETURNING key, created_at"

var testBinding = Binding[entity]{
	Table:         "entity",
	IndexColumns:  []string{"key"},
	BypassColumn:  "key",
	FlagColumn:    "key",
	Prefix:        "entity_",
	ReturnColumns: []string{"key", "created_at"},
	Values: func(e entity) (map[string]any, error) {
		return map[string]any{"key": e.Key}, nil
	},
}

type fixture struct {
	store *Store[entity, storedEntity]
	mock  sqlmock.Sqlmock
	redis *miniredis.Miniredis
}

func newFixture(t *testing.T, ttl time.Duration) *fixture {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return &fixture{
		store: New[entity, storedEntity](sqlx.NewDb(db, "postgres"), rdb, testBinding, ttl),
		mock:  mock,
		redis: mr,
	}
}

func (f *fixture) expectUpsert(key string, createdAt time.Time) {
	f.mock.ExpectQuery(regexp.QuoteMeta(upsertSQL)).
		WithArgs(key).
		WillReturnRows(sqlmock.NewRows([]string{"key", "created_at"}).AddRow(key, createdAt))
}

func TestStore_IsNewlyStored(t *testing.T) {
	ttl := time.Hour
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		flagSet bool
		age     time.Duration
		want    bool
	}{
		{
			name: "fresh row without flag",
			age:  time.Minute,
			want: true,
		},
		{
			name:    "fresh row already forwarded",
			flagSet: true,
			age:     time.Minute,
			want:    false,
		},
		{
			name:    "row older than ttl is offered again despite flag",
			flagSet: true,
			age:     ttl + time.Second,
			want:    true,
		},
		{
			name:    "row exactly at ttl still honours flag",
			flagSet: true,
			age:     ttl,
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, ttl)
			f.store.now = func() time.Time { return created.Add(tt.age) }
			if tt.flagSet {
				require.NoError(t, f.redis.Set("entity_k", "1"))
			}
			f.expectUpsert("k", created)

			isNew, stored, err := f.store.Store(context.Background(), entity{Key: "k"})

			require.NoError(t, err)
			assert.Equal(t, tt.want, isNew)
			assert.Equal(t, "k", stored.Key)
			assert.True(t, created.Equal(stored.CreatedAt))
			assert.NoError(t, f.mock.ExpectationsWereMet())
		})
	}
}

func TestStore_FlagExpiresWithTTL(t *testing.T) {
	ttl := time.Hour
	f := newFixture(t, ttl)
	created := time.Now()

	f.expectUpsert("k", created)
	_, stored, err := f.store.Store(context.Background(), entity{Key: "k"})
	require.NoError(t, err)

	marked, err := f.store.MarkStored(context.Background(), stored)
	require.NoError(t, err)
	require.True(t, marked)
	assert.Equal(t, ttl, f.redis.TTL("entity_k"))

	f.expectUpsert("k", created)
	isNew, _, err := f.store.Store(context.Background(), entity{Key: "k"})
	require.NoError(t, err)
	assert.False(t, isNew)

	f.redis.FastForward(ttl + time.Second)

	f.expectUpsert("k", created)
	isNew, _, err = f.store.Store(context.Background(), entity{Key: "k"})
	require.NoError(t, err)
	assert.True(t, isNew)
}

func TestStore_ExactlyOneForwarder(t *testing.T) {
	const racers = 8

	f := newFixture(t, time.Hour)
	created := time.Now()

	results := make([]storedEntity, racers)
	for i := range results {
		f.expectUpsert("k", created)
		isNew, stored, err := f.store.Store(context.Background(), entity{Key: "k"})
		require.NoError(t, err)
		require.True(t, isNew)
		results[i] = stored
	}
	for _, stored := range results {
		assert.Equal(t, results[0], stored)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for _, stored := range results {
		wg.Add(1)
		go func(stored storedEntity) {
			defer wg.Done()
			marked, err := f.store.MarkStored(context.Background(), stored)
			assert.NoError(t, err)
			if marked {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(stored)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)

	f.expectUpsert("k", created)
	isNew, _, err := f.store.Store(context.Background(), entity{Key: "k"})
	require.NoError(t, err)
	assert.False(t, isNew)
}

func TestStore_Failures(t *testing.T) {
	t.Run("upsert failure is a storage error", func(t *testing.T) {
		f := newFixture(t, time.Hour)
		f.mock.ExpectQuery(regexp.QuoteMeta(upsertSQL)).WithArgs("k").WillReturnError(assert.AnError)

		_, _, err := f.store.Store(context.Background(), entity{Key: "k"})

		assert.True(t, domain.IsStorageError(err))
		assert.ErrorIs(t, err, assert.AnError)
	})

	t.Run("flag lookup failure is a storage error", func(t *testing.T) {
		f := newFixture(t, time.Hour)
		f.expectUpsert("k", time.Now())
		f.redis.Close()

		_, _, err := f.store.Store(context.Background(), entity{Key: "k"})

		assert.True(t, domain.IsStorageError(err))
	})

	t.Run("mark failure is a storage error", func(t *testing.T) {
		f := newFixture(t, time.Hour)
		f.redis.Close()

		_, err := f.store.MarkStored(context.Background(), storedEntity{Key: "k", CreatedAt: time.Now()})

		assert.True(t, domain.IsStorageError(err))
	})

	t.Run("unmapped flag column", func(t *testing.T) {
		f := newFixture(t, time.Hour)
		f.store.binding.FlagColumn = "missing"

		_, err := f.store.MarkStored(context.Background(), storedEntity{Key: "k"})

		require.Error(t, err)
		assert.False(t, domain.IsStorageError(err))
	})
}

func TestUpsertQuery_SortsColumns(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.store.binding.ReturnColumns = []string{"key"}

	query, args := f.store.upsertQuery(map[string]any{"zeta": 1, "alpha": "a", "key": "k"})

	assert.Equal(t,
		"INSERT INTO entity (alpha, key, zeta) VALUES ($1, $2, $3) ON CONFLICT (key) DO UPDATE SET key = excluded.key RETURNING key",
		query,
	)
	assert.Equal(t, []any{"a", "k", 1}, args)
}
