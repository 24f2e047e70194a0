// Package dedup implements the two-phase store used to forward an entity exactly
// once across racing consumers: an upsert into Postgres for durable identity,
// then an expiring Redis flag marking the entity as forwarded.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/cuongbtq/powrelay/internal/domain"
)

// Binding describes how an entity of type E maps onto a table and a flag namespace
type Binding[E any] struct {
	// Table receiving the upsert
	Table string
	// IndexColumns is the conflict target
	IndexColumns []string
	// BypassColumn is rewritten with its own value on conflict so RETURNING yields the existing row
	BypassColumn string
	// FlagColumn is the returned column whose value keys the forwarding flag
	FlagColumn string
	// Prefix namespaces the forwarding flag keys
	Prefix string
	// ReturnColumns must match the db tags of the stored type and include created_at
	ReturnColumns []string
	// Values produces the column values to insert for an entity
	Values func(entry E) (map[string]any, error)
}

// Store persists entities of type E and returns their stored projection S
type Store[E any, S any] struct {
	db      *sqlx.DB
	redis   redis.Cmdable
	binding Binding[E]
	ttl     time.Duration
	now     func() time.Time
}

// New creates a store. ttl bounds both the forwarding flag lifetime and the
// age after which a row is offered again regardless of its flag.
func New[E any, S any](db *sqlx.DB, rdb redis.Cmdable, binding Binding[E], ttl time.Duration) *Store[E, S] {
	return &Store[E, S]{
		db:      db,
		redis:   rdb,
		binding: binding,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Store upserts entry and reports whether it should be forwarded
func (s *Store[E, S]) Store(ctx context.Context, entry E) (bool, S, error) {
	var stored S

	values, err := s.binding.Values(entry)
	if err != nil {
		return false, stored, fmt.Errorf("failed to build %s row: %w", s.binding.Table, err)
	}

	query, args := s.upsertQuery(values)
	if err := s.db.QueryRowxContext(ctx, query, args...).StructScan(&stored); err != nil {
		return false, stored, domain.NewStorageError("upsert "+s.binding.Table, err)
	}

	isNew, err := s.isNewlyStored(ctx, stored)
	if err != nil {
		return false, stored, err
	}

	return isNew, stored, nil
}

// MarkStored sets the forwarding flag if it is not set yet.
// It returns false when another consumer already set it.
func (s *Store[E, S]) MarkStored(ctx context.Context, stored S) (bool, error) {
	key, err := s.flagKey(stored)
	if err != nil {
		return false, err
	}

	ok, err := s.redis.SetNX(ctx, key, 1, s.ttl).Result()
	if err != nil {
		return false, domain.NewStorageError("mark "+s.binding.Table, err)
	}
	return ok, nil
}

func (s *Store[E, S]) isNewlyStored(ctx context.Context, stored S) (bool, error) {
	createdAt, err := s.column(stored, "created_at")
	if err != nil {
		return false, err
	}
	created, ok := createdAt.(time.Time)
	if !ok {
		return false, fmt.Errorf("%s.created_at is %T, not time.Time", s.binding.Table, createdAt)
	}

	if s.now().Sub(created) > s.ttl {
		return true, nil
	}

	key, err := s.flagKey(stored)
	if err != nil {
		return false, err
	}

	err = s.redis.Get(ctx, key).Err()
	switch {
	case errors.Is(err, redis.Nil):
		return true, nil
	case err != nil:
		return false, domain.NewStorageError("read "+s.binding.Table+" flag", err)
	default:
		return false, nil
	}
}

func (s *Store[E, S]) flagKey(stored S) (string, error) {
	value, err := s.column(stored, s.binding.FlagColumn)
	if err != nil {
		return "", err
	}
	return s.binding.Prefix + fmt.Sprint(value), nil
}

// column reads a field of the stored projection by its db tag
func (s *Store[E, S]) column(stored S, name string) (any, error) {
	field := s.db.Mapper.FieldByName(reflect.Indirect(reflect.ValueOf(&stored)), name)
	if !field.IsValid() {
		return nil, fmt.Errorf("%T has no field mapped to column %q", stored, name)
	}
	return field.Interface(), nil
}

func (s *Store[E, S]) upsertQuery(values map[string]any) (string, []any) {
	columns := make([]string, 0, len(values))
	for column := range values {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	placeholders := make([]string, len(columns))
	args := make([]any, len(columns))
	for i, column := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = values[column]
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s = excluded.%s RETURNING %s",
		s.binding.Table,
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(s.binding.IndexColumns, ", "),
		s.binding.BypassColumn,
		s.binding.BypassColumn,
		strings.Join(s.binding.ReturnColumns, ", "),
	)

	return query, args
}
