package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/rehearse/internal/script"
)

var _ script.Store = (*Store)(nil)

// Store reads scripts from PostgreSQL. All operations are safe for concurrent
// use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, pings it and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// NewFromPool wraps an existing pool. The caller keeps ownership of pool;
// [Store.Close] must not be called.
func NewFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// Get implements [script.Store.Get].
func (s *Store) Get(ctx context.Context, id int64) (script.Script, error) {
	const q = `SELECT id, user_id, title, content, created_at FROM scripts WHERE id = $1`

	var sc script.Script
	err := s.pool.QueryRow(ctx, q, id).Scan(&sc.ID, &sc.UserID, &sc.Title, &sc.Content, &sc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return script.Script{}, script.ErrNotFound
		}
		return script.Script{}, fmt.Errorf("postgres store: get script %d: %w", id, err)
	}
	return sc, nil
}

// Line implements [script.Store.Line].
func (s *Store) Line(ctx context.Context, id int64, index int) (script.Line, error) {
	sc, err := s.Get(ctx, id)
	if err != nil {
		return script.Line{}, err
	}
	return sc.Line(index)
}

// Ping implements [script.Store.Ping].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}
	return nil
}

// Insert adds a script and returns it with the generated ID and timestamp.
// It exists for seeding development databases and tests.
func (s *Store) Insert(ctx context.Context, userID int64, title, content string) (script.Script, error) {
	const q = `INSERT INTO scripts (user_id, title, content) VALUES ($1, $2, $3)
RETURNING id, user_id, title, content, created_at`

	var sc script.Script
	err := s.pool.QueryRow(ctx, q, userID, title, content).Scan(&sc.ID, &sc.UserID, &sc.Title, &sc.Content, &sc.CreatedAt)
	if err != nil {
		return script.Script{}, fmt.Errorf("postgres store: insert script: %w", err)
	}
	return sc, nil
}
