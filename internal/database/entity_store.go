package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/elkfinance/elk-v2-subgraph-2024/internal/aggregator"
)

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// EntityStore persists aggregator entities as JSONB documents in the entities table.
type EntityStore struct {
	db *Database
	q  querier
}

var _ aggregator.Store = (*EntityStore)(nil)

func NewEntityStore(db *Database) *EntityStore {
	return &EntityStore{db: db, q: db.Pool()}
}

func (s *EntityStore) Load(ctx context.Context, kind, id string, dst any) (bool, error) {
	return loadEntity(ctx, s.q, kind, id, dst)
}

func (s *EntityStore) Save(ctx context.Context, kind, id string, v any) error {
	return saveEntity(ctx, s.q, kind, id, v)
}

func (s *EntityStore) Remove(ctx context.Context, kind, id string) error {
	return removeEntity(ctx, s.q, kind, id)
}

// Atomically runs fn inside a database transaction.
func (s *EntityStore) Atomically(ctx context.Context, fn func(aggregator.Repository) error) error {
	return s.db.Transaction(ctx, func(tx pgx.Tx) error {
		return fn(&txRepository{q: tx})
	})
}

// IDs returns the IDs of all entities of a kind in ascending order.
func (s *EntityStore) IDs(ctx context.Context, kind string) ([]string, error) {
	rows, err := s.q.Query(ctx, `SELECT id FROM entities WHERE kind = $1 ORDER BY id`, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s ids: %w", kind, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *EntityStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// txRepository is the Repository handed to Atomically callbacks.
type txRepository struct {
	q querier
}

func (r *txRepository) Load(ctx context.Context, kind, id string, dst any) (bool, error) {
	return loadEntity(ctx, r.q, kind, id, dst)
}

func (r *txRepository) Save(ctx context.Context, kind, id string, v any) error {
	return saveEntity(ctx, r.q, kind, id, v)
}

func (r *txRepository) Remove(ctx context.Context, kind, id string) error {
	return removeEntity(ctx, r.q, kind, id)
}

func loadEntity(ctx context.Context, q querier, kind, id string, dst any) (bool, error) {
	var data []byte
	err := q.QueryRow(ctx, `SELECT data FROM entities WHERE kind = $1 AND id = $2`, kind, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query entity: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("failed to decode entity: %w", err)
	}
	return true, nil
}

func saveEntity(ctx context.Context, q querier, kind, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode entity: %w", err)
	}
	_, err = q.Exec(ctx, `
		INSERT INTO entities (kind, id, data, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (kind, id) DO UPDATE SET
			data = EXCLUDED.data,
			updated_at = NOW()`,
		kind, id, data)
	if err != nil {
		return fmt.Errorf("failed to upsert entity: %w", err)
	}
	return nil
}

func removeEntity(ctx context.Context, q querier, kind, id string) error {
	if _, err := q.Exec(ctx, `DELETE FROM entities WHERE kind = $1 AND id = $2`, kind, id); err != nil {
		return fmt.Errorf("failed to delete entity: %w", err)
	}
	return nil
}
