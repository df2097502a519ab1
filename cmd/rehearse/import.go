package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/rehearse/internal/script"
	"github.com/MrWong99/rehearse/internal/script/postgres"
)

// importScripts inserts every script of a YAML script file into the
// database. The database assigns new IDs; the file's IDs are only reported.
func importScripts(ctx context.Context, dsn, path string) error {
	if dsn == "" {
		return errors.New("scripts.postgres_dsn (or DATABASE_URL) is required for -import")
	}
	scripts, err := script.LoadFile(path)
	if err != nil {
		return err
	}

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return err
	}
	defer store.Close()

	for _, sc := range scripts {
		stored, err := store.Insert(ctx, sc.UserID, sc.Title, sc.Content)
		if err != nil {
			return fmt.Errorf("insert script %d (%q): %w", sc.ID, sc.Title, err)
		}
		slog.Info("imported script", "file_id", sc.ID, "id", stored.ID, "title", stored.Title, "lines", len(stored.Lines()))
	}
	slog.Info("import complete", "file", path, "scripts", len(scripts))
	return nil
}
