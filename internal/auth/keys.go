package auth

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// KeyLiteral starts every relay API key
	KeyLiteral = "sieve_live_"
	// PrefixLength is the stored, non-secret lookup prefix: the literal plus 8 hex chars
	PrefixLength = len(KeyLiteral) + 8

	keyHexLength = 32
)

// GenerateKey returns a new raw API key. It is shown to the operator once
// and only its hash is stored.
func GenerateKey() (string, error) {
	b := make([]byte, keyHexLength/2)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return KeyLiteral + hex.EncodeToString(b), nil
}

// KeyPrefix returns the lookup prefix of a raw key
func KeyPrefix(raw string) string {
	if len(raw) < PrefixLength {
		return raw
	}
	return raw[:PrefixLength]
}

// ValidFormat reports whether raw is the literal followed by 32 lowercase hex chars
func ValidFormat(raw string) bool {
	if !strings.HasPrefix(raw, KeyLiteral) {
		return false
	}
	suffix := raw[len(KeyLiteral):]
	if len(suffix) != keyHexLength {
		return false
	}
	for _, r := range suffix {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			return false
		}
	}
	return true
}

// HashKey hashes a raw key using bcrypt
func HashKey(raw string, cost int) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(raw), cost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// checkKeyHash verifies a raw key against a bcrypt hash
func checkKeyHash(raw, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw))
	return err == nil
}
