package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a row does not exist or is not in the expected state
	ErrNotFound = errors.New("not found")
	// ErrQueueFull is returned when the pending capture cap is reached
	ErrQueueFull = errors.New("capture queue is full")
)

// Store provides relay database operations on SQLite
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore opens (creating if needed) the database at path and runs migrations
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// WAL for concurrent readers, busy timeout for write contention
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{db: db, now: time.Now}

	if err := store.runMigrations(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func toUnix(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromUnix(f float64) time.Time {
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9))
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// CreateAPIKey stores a hashed key and returns its ID
func (s *Store) CreateAPIKey(ctx context.Context, name, keyHash, keyPrefix string, isAdmin bool, rateLimit int) (int64, error) {
	query := `INSERT INTO api_keys (name, key_hash, key_prefix, created_at, is_admin, rate_limit) VALUES (?, ?, ?, ?, ?, ?)`
	result, err := s.db.ExecContext(ctx, query, name, keyHash, keyPrefix, toUnix(s.now()), isAdmin, rateLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to create api key: %w", err)
	}
	return result.LastInsertId()
}

const keyColumns = `id, name, key_hash, key_prefix, created_at, last_used_at, is_active, is_admin, rate_limit`

func scanKey(rows *sql.Rows) (APIKey, error) {
	var k APIKey
	var createdAt float64
	var lastUsed sql.NullFloat64
	if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &createdAt, &lastUsed, &k.IsActive, &k.IsAdmin, &k.RateLimit); err != nil {
		return k, fmt.Errorf("failed to scan api key: %w", err)
	}
	k.CreatedAt = fromUnix(createdAt)
	if lastUsed.Valid {
		t := fromUnix(lastUsed.Float64)
		k.LastUsedAt = &t
	}
	return k, nil
}

func (s *Store) queryKeys(ctx context.Context, query string, args ...interface{}) ([]APIKey, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query api keys: %w", err)
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// FindKeysByPrefix returns the active keys sharing prefix. Prefixes are not
// unique, so callers verify the hash of each candidate.
func (s *Store) FindKeysByPrefix(ctx context.Context, prefix string) ([]APIKey, error) {
	return s.queryKeys(ctx, `SELECT `+keyColumns+` FROM api_keys WHERE key_prefix = ? AND is_active = 1 ORDER BY id`, prefix)
}

// ListAPIKeys returns every key, newest first
func (s *Store) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	return s.queryKeys(ctx, `SELECT `+keyColumns+` FROM api_keys ORDER BY created_at DESC, id DESC`)
}

// RevokeAPIKey deactivates a key by ID
func (s *Store) RevokeAPIKey(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `UPDATE api_keys SET is_active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeAPIKeysByPrefix deactivates every active key with prefix and returns the count
func (s *Store) RevokeAPIKeysByPrefix(ctx context.Context, prefix string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE api_keys SET is_active = 0 WHERE key_prefix = ? AND is_active = 1`, prefix)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke api keys: %w", err)
	}
	return result.RowsAffected()
}

// RecordRequest logs one request for keyID if fewer than limit requests were
// logged in the trailing window, and reports whether it was allowed. The
// conditional insert, pruning and last-used update commit together, so
// concurrent requests for the same key cannot both take the last slot.
func (s *Store) RecordRequest(ctx context.Context, keyID int64, limit int, window time.Duration) (allowed bool, err error) {
	now := s.now()
	cutoff := toUnix(now.Add(-window))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil || !allowed {
			tx.Rollback()
		}
	}()

	// Write first so the transaction holds the write lock before counting
	result, err := tx.ExecContext(ctx, `
		INSERT INTO rate_limit_log (api_key_id, timestamp)
		SELECT ?, ?
		WHERE (SELECT COUNT(*) FROM rate_limit_log WHERE api_key_id = ? AND timestamp > ?) < ?`,
		keyID, toUnix(now), keyID, cutoff, limit)
	if err != nil {
		return false, fmt.Errorf("failed to log request: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM rate_limit_log WHERE timestamp <= ?`, cutoff); err != nil {
		return false, fmt.Errorf("failed to prune rate limit log: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `UPDATE api_keys SET last_used_at = ? WHERE id = ?`, toUnix(now), keyID); err != nil {
		return false, fmt.Errorf("failed to update last_used_at: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit request log: %w", err)
	}
	return true, nil
}

// CreateCapture queues a capture unless maxPending captures are already pending
func (s *Store) CreateCapture(ctx context.Context, keyID int64, c NewCapture, maxPending int) (*Capture, error) {
	now := s.now()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO captures (api_key_id, content, url, source_url, title, image_data, status, created_at)
		SELECT ?, ?, ?, ?, ?, ?, 'pending', ?
		WHERE (SELECT COUNT(*) FROM captures WHERE status = 'pending') < ?`,
		keyID, c.Content, nullString(c.URL), nullString(c.SourceURL), nullString(c.Title), nullString(c.ImageData),
		toUnix(now), maxPending)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrQueueFull
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &Capture{
		ID:        id,
		APIKeyID:  keyID,
		Content:   c.Content,
		URL:       c.URL,
		SourceURL: c.SourceURL,
		Title:     c.Title,
		ImageData: c.ImageData,
		Status:    StatusPending,
		CreatedAt: fromUnix(toUnix(now)),
	}, nil
}

// PendingCaptures returns up to limit pending captures, oldest first
func (s *Store) PendingCaptures(ctx context.Context, limit int) ([]Capture, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, api_key_id, content, url, source_url, title, image_data, status, created_at
		FROM captures WHERE status = 'pending'
		ORDER BY created_at ASC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending captures: %w", err)
	}
	defer rows.Close()

	captures := []Capture{}
	for rows.Next() {
		var c Capture
		var url, sourceURL, title, imageData sql.NullString
		var createdAt float64
		if err := rows.Scan(&c.ID, &c.APIKeyID, &c.Content, &url, &sourceURL, &title, &imageData, &c.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan capture: %w", err)
		}
		c.URL = url.String
		c.SourceURL = sourceURL.String
		c.Title = title.String
		c.ImageData = imageData.String
		c.CreatedAt = fromUnix(createdAt)
		captures = append(captures, c)
	}
	return captures, rows.Err()
}

// CountPending returns the number of pending captures
func (s *Store) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM captures WHERE status = 'pending'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pending captures: %w", err)
	}
	return n, nil
}

// AckCapture marks a pending capture as acked. A capture that is missing or
// already acked returns ErrNotFound.
func (s *Store) AckCapture(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE captures SET status = 'acked', acked_at = ? WHERE id = ? AND status = 'pending'`,
		toUnix(s.now()), id)
	if err != nil {
		return fmt.Errorf("failed to ack capture: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PruneRateLimitLog deletes request log rows older than window and returns
// the count. Captures are never deleted; acked rows stay as an audit trail.
func (s *Store) PruneRateLimitLog(ctx context.Context, window time.Duration) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM rate_limit_log WHERE timestamp <= ?`,
		toUnix(s.now().Add(-window)))
	if err != nil {
		return 0, fmt.Errorf("failed to prune rate limit log: %w", err)
	}
	return result.RowsAffected()
}
