package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Open opens or creates a SQLite database at dbPath and applies migrations in
// order. Parent directories are created if they do not exist.
func Open(ctx context.Context, dbPath string, migrations ...Migration) (*sql.DB, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	} else if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := Migrate(ctx, db, migrations...); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies migrations to an open database.
func Migrate(ctx context.Context, db *sql.DB, migrations ...Migration) error {
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m.Schema); err != nil {
			return fmt.Errorf("failed to initialize %s schema: %w", m.Name, err)
		}
	}
	return nil
}
