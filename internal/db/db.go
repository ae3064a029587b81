// Package db persists the audit log in SQLite. File content itself never
// touches the database; the storage directory stays the source of truth.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite handle used for audit events.
type DB struct {
	sql *sql.DB
}

// Open opens (creating if needed) the audit database at path and applies
// pending migrations.
func Open(ctx context.Context, path string) (*DB, error) {
	if path == "" {
		return nil, errors.New("audit db path is required")
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	h, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := h.PingContext(ctx); err != nil {
		_ = h.Close()
		return nil, err
	}
	if err := Migrate(ctx, h); err != nil {
		_ = h.Close()
		return nil, err
	}
	return &DB{sql: h}, nil
}

// Close releases the underlying handle.
func (d *DB) Close() error {
	return d.sql.Close()
}
