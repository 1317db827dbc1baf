package database

import (
	"context"
	"database/sql"
	"fmt"
)

// CheckpointMigrations creates the session checkpoint table. Checkpoints are
// keyed by thread id and hold the serialized session state plus the pending
// interrupt, if any.
var CheckpointMigrations = []string{
	`CREATE TABLE IF NOT EXISTS checkpoints (
		thread_id  TEXT PRIMARY KEY,
		state      BLOB NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_checkpoints_updated_at ON checkpoints (updated_at)`,
}

// SchemaIndexMigrations creates the embedding tables for the schema vector
// index. Vectors are stored as little-endian float32 blobs.
var SchemaIndexMigrations = []string{
	`CREATE TABLE IF NOT EXISTS object_embeddings (
		object_name TEXT PRIMARY KEY,
		description TEXT NOT NULL DEFAULT '',
		vector      BLOB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS field_embeddings (
		object_name TEXT NOT NULL,
		field_name  TEXT NOT NULL,
		vector      BLOB NOT NULL,
		PRIMARY KEY (object_name, field_name)
	)`,
	`CREATE TABLE IF NOT EXISTS index_meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

// Migrate applies the statements in order. Statements must be idempotent.
func Migrate(ctx context.Context, db *sql.DB, statements []string) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
