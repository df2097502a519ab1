// Package postgres provides a PostgreSQL-backed [script.Store].
//
// Scripts live in a single table that mirrors the one written by the web
// application's script editor. This package only reads it; [Migrate] exists
// so a fresh database (or a test database) has the table.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//	line, err := store.Line(ctx, scriptID, 0)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlScripts = `
CREATE TABLE IF NOT EXISTS scripts (
    id          SERIAL       PRIMARY KEY,
    user_id     INTEGER      NOT NULL,
    title       TEXT         NOT NULL,
    content     TEXT         NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_scripts_user_id
    ON scripts (user_id);
`

// Migrate ensures the scripts table exists. It is idempotent and safe to call
// on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlScripts); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
