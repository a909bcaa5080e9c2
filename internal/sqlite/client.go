// Package sqlite provides the shared SQLite handle for the deployment
// registry. Only this package may import the go-sqlite3 driver — adapters
// use database/sql through the Client and the helpers defined here.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// Config holds SQLite connection parameters.
type Config struct {
	// Path is the database file location. Parent directories are created
	// if missing.
	Path string

	// Timeout is the busy timeout applied when another connection holds
	// the write lock.
	Timeout time.Duration
}

// Client wraps the shared database handle.
// Adapters access the underlying handle via the DB field.
type Client struct {
	// DB is the underlying database/sql handle.
	DB *sql.DB
}

// NewClient opens the registry database, creating the file if needed.
// WAL journaling keeps readers unblocked during deploy writes; the
// connection pool is capped at one connection so concurrent writers queue
// on the busy timeout instead of surfacing SQLITE_BUSY.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	busyMS := cfg.Timeout.Milliseconds()
	if busyMS <= 0 {
		busyMS = 5000
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on", cfg.Path, busyMS)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open registry database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping registry database: %w", err)
	}

	return &Client{DB: db}, nil
}

// Close releases the database handle.
func (c *Client) Close() error {
	return c.DB.Close()
}

// ---------------------------------------------------------------------------
// Error classification helpers — adapters check error types without a
// driver import.
// ---------------------------------------------------------------------------

// IsNoRows reports whether err means the query matched nothing.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// IsConstraintViolation reports whether err is a SQLite constraint failure
// (UNIQUE, CHECK, NOT NULL, foreign key). Adapters use this to detect
// duplicate inserts.
func IsConstraintViolation(err error) bool {
	var serr sqlite3.Error
	return errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint
}

// ErrConstraintViolation returns a constraint failure suitable for testing.
// Production code should never construct this error — the driver returns it.
// This helper exists so adapter tests can exercise the IsConstraintViolation
// code path without importing the driver.
func ErrConstraintViolation() error {
	return sqlite3.Error{Code: sqlite3.ErrConstraint}
}
