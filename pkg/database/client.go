// Package database provides the embedded sqlite stores backing session
// checkpoints and the schema vector index.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Config holds sqlite open parameters for one database file.
type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// Client wraps one sqlite database.
type Client struct {
	db   *sql.DB
	path string
}

// DB returns the underlying connection for health checks and direct queries.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Path returns the database file location.
func (c *Client) Path() string {
	return c.path
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.db.Close()
}

// NewClient opens (creating if needed) a sqlite database and applies the
// given migration statements.
func NewClient(ctx context.Context, cfg Config, migrations []string) (*Client, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
		url.PathEscape(cfg.Path), cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// sqlite serializes writers; a single connection avoids lock churn.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	if err := Migrate(ctx, db, migrations); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Client{db: db, path: cfg.Path}, nil
}
