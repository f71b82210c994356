package store

import (
	"context"
	"time"
)

// DataStore defines the relay's storage operations
type DataStore interface {
	// Lifecycle
	Close() error

	// API keys
	CreateAPIKey(ctx context.Context, name, keyHash, keyPrefix string, isAdmin bool, rateLimit int) (int64, error)
	FindKeysByPrefix(ctx context.Context, prefix string) ([]APIKey, error)
	ListAPIKeys(ctx context.Context) ([]APIKey, error)
	RevokeAPIKey(ctx context.Context, id int64) error
	RevokeAPIKeysByPrefix(ctx context.Context, prefix string) (int64, error)

	// Rate limiting
	RecordRequest(ctx context.Context, keyID int64, limit int, window time.Duration) (bool, error)

	// Capture queue
	CreateCapture(ctx context.Context, keyID int64, c NewCapture, maxPending int) (*Capture, error)
	PendingCaptures(ctx context.Context, limit int) ([]Capture, error)
	CountPending(ctx context.Context) (int, error)
	AckCapture(ctx context.Context, id int64) error
	PruneRateLimitLog(ctx context.Context, window time.Duration) (int64, error)
}

var _ DataStore = (*Store)(nil)
