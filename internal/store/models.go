package store

import "time"

// Capture status values
const (
	StatusPending = "pending"
	StatusAcked   = "acked"
)

// APIKey is a stored relay key. The raw key is never persisted.
type APIKey struct {
	ID         int64
	Name       string
	KeyHash    string
	KeyPrefix  string
	CreatedAt  time.Time
	LastUsedAt *time.Time
	IsActive   bool
	IsAdmin    bool
	RateLimit  int
}

// NewCapture is a capture submitted to the relay
type NewCapture struct {
	Content   string
	URL       string
	SourceURL string
	Title     string
	ImageData string
}

// Capture is a queued capture
type Capture struct {
	ID        int64      `json:"id"`
	APIKeyID  int64      `json:"-"`
	Content   string     `json:"content"`
	URL       string     `json:"url,omitempty"`
	SourceURL string     `json:"source_url,omitempty"`
	Title     string     `json:"title,omitempty"`
	ImageData string     `json:"image_data,omitempty"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	AckedAt   *time.Time `json:"acked_at,omitempty"`
}
