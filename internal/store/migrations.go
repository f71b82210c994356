package store

import (
	"context"
	"database/sql"
	"fmt"
)

// runMigrations executes all database migrations in a transaction
func (s *Store) runMigrations(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration transaction: %w", err)
	}

	// Ensure transaction is rolled back on error
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = createAPIKeysTable(ctx, tx); err != nil {
		return fmt.Errorf("failed to create api_keys table: %w", err)
	}

	if err = createCapturesTable(ctx, tx); err != nil {
		return fmt.Errorf("failed to create captures table: %w", err)
	}

	if err = createRateLimitLogTable(ctx, tx); err != nil {
		return fmt.Errorf("failed to create rate_limit_log table: %w", err)
	}

	if err = createIndexes(ctx, tx); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration transaction: %w", err)
	}

	return nil
}

// createAPIKeysTable stores hashed keys; timestamps are unix seconds
func createAPIKeysTable(ctx context.Context, tx *sql.Tx) error {
	query := `
		CREATE TABLE IF NOT EXISTS api_keys (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			key_hash TEXT NOT NULL,
			key_prefix TEXT NOT NULL,
			created_at REAL NOT NULL,
			last_used_at REAL,
			is_active INTEGER NOT NULL DEFAULT 1,
			is_admin INTEGER NOT NULL DEFAULT 0,
			rate_limit INTEGER NOT NULL DEFAULT 60
		)
	`
	_, err := tx.ExecContext(ctx, query)
	return err
}

// createCapturesTable creates the capture queue
func createCapturesTable(ctx context.Context, tx *sql.Tx) error {
	query := `
		CREATE TABLE IF NOT EXISTS captures (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			api_key_id INTEGER NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			url TEXT,
			source_url TEXT,
			title TEXT,
			image_data TEXT,
			status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'acked')),
			created_at REAL NOT NULL,
			acked_at REAL,
			FOREIGN KEY (api_key_id) REFERENCES api_keys(id)
		)
	`
	_, err := tx.ExecContext(ctx, query)
	return err
}

// createRateLimitLogTable holds one row per authenticated request
func createRateLimitLogTable(ctx context.Context, tx *sql.Tx) error {
	query := `
		CREATE TABLE IF NOT EXISTS rate_limit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			api_key_id INTEGER NOT NULL,
			timestamp REAL NOT NULL,
			FOREIGN KEY (api_key_id) REFERENCES api_keys(id)
		)
	`
	_, err := tx.ExecContext(ctx, query)
	return err
}

// createIndexes creates all indexes for query performance
func createIndexes(ctx context.Context, tx *sql.Tx) error {
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_captures_status_created ON captures(status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(key_prefix)`,
		`CREATE INDEX IF NOT EXISTS idx_rate_limit_key_ts ON rate_limit_log(api_key_id, timestamp)`,
	}

	for _, query := range indexes {
		if _, err := tx.ExecContext(ctx, query); err != nil {
			return err
		}
	}

	return nil
}
