// Package auth issues and verifies relay API keys. Every rejected key costs
// one bcrypt comparison, so response timing does not reveal whether the
// token was malformed, unknown or wrong.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sieve/internal/logging"
	"sieve/internal/store"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Common errors
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limit exceeded")
)

// RateWindow is the sliding window for per-key rate limits
const RateWindow = time.Hour

// Store defines the storage operations needed to authenticate keys
type Store interface {
	CreateAPIKey(ctx context.Context, name, keyHash, keyPrefix string, isAdmin bool, rateLimit int) (int64, error)
	FindKeysByPrefix(ctx context.Context, prefix string) ([]store.APIKey, error)
	RecordRequest(ctx context.Context, keyID int64, limit int, window time.Duration) (bool, error)
}

// Authenticator validates bearer tokens against stored key hashes
type Authenticator struct {
	store  Store
	cost   int
	logger *logging.Logger

	dummyOnce sync.Once
	dummyHash string
}

// NewAuthenticator creates an authenticator hashing with bcrypt.DefaultCost
func NewAuthenticator(s Store, logger *logging.Logger) *Authenticator {
	return NewAuthenticatorWithCost(s, bcrypt.DefaultCost, logger)
}

// NewAuthenticatorWithCost creates an authenticator with a specific bcrypt cost
func NewAuthenticatorWithCost(s Store, cost int, logger *logging.Logger) *Authenticator {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Authenticator{store: s, cost: cost, logger: logger}
}

// GenerateKey creates, hashes and stores a new key and returns the raw key
func (a *Authenticator) GenerateKey(ctx context.Context, name string, isAdmin bool, rateLimit int) (string, error) {
	raw, err := GenerateKey()
	if err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	hash, err := HashKey(raw, a.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash key: %w", err)
	}
	prefix := KeyPrefix(raw)
	if _, err := a.store.CreateAPIKey(ctx, name, hash, prefix, isAdmin, rateLimit); err != nil {
		return "", err
	}

	a.logger.WithFields(map[string]interface{}{
		"name":   name,
		"prefix": prefix,
		"admin":  isAdmin,
	}).Info("created API key")
	return raw, nil
}

// Authenticate resolves an Authorization header value to an active key and
// counts the request against the key's hourly limit. It returns
// ErrUnauthorized for every auth failure except ErrRateLimited.
func (a *Authenticator) Authenticate(ctx context.Context, header string) (*store.APIKey, error) {
	raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))

	if !ValidFormat(raw) {
		a.dummyVerify(raw)
		return nil, ErrUnauthorized
	}

	candidates, err := a.store.FindKeysByPrefix(ctx, KeyPrefix(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to look up key: %w", err)
	}
	if len(candidates) == 0 {
		a.dummyVerify(raw)
		return nil, ErrUnauthorized
	}

	var key *store.APIKey
	for i := range candidates {
		if checkKeyHash(raw, candidates[i].KeyHash) {
			key = &candidates[i]
			break
		}
	}
	if key == nil {
		return nil, ErrUnauthorized
	}

	allowed, err := a.store.RecordRequest(ctx, key.ID, key.RateLimit, RateWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to record request: %w", err)
	}
	if !allowed {
		return nil, ErrRateLimited
	}
	return key, nil
}

// dummyVerify spends one hash comparison against a throwaway hash of the
// same cost as real keys.
func (a *Authenticator) dummyVerify(raw string) {
	a.dummyOnce.Do(func() {
		hash, err := HashKey(KeyLiteral+strings.Repeat("0", keyHexLength), a.cost)
		if err != nil {
			a.logger.WithContext("error", err.Error()).Error("failed to build dummy hash")
			return
		}
		a.dummyHash = hash
	})
	checkKeyHash(raw, a.dummyHash)
}
