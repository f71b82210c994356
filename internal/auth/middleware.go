package auth

import (
	"errors"
	"net/http"
	"sieve/internal/logging"
	"sieve/internal/metrics"
	"sieve/internal/store"

	"github.com/gin-gonic/gin"
)

// contextKey is the gin context key holding the authenticated *store.APIKey
const contextKey = "api_key"

// RequireKey rejects requests without a valid, non-rate-limited bearer key
func RequireKey(a *Authenticator, logger *logging.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = logging.Nop()
	}
	return func(c *gin.Context) {
		// A missing header pays the same hash cost as a bad key
		header := c.GetHeader("Authorization")
		key, err := a.Authenticate(c.Request.Context(), header)
		switch {
		case err == nil:
			c.Set(contextKey, key)
			c.Next()
		case errors.Is(err, ErrRateLimited):
			metrics.RelayAuthFailures.WithLabelValues("rate_limited").Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
		case errors.Is(err, ErrUnauthorized):
			reason := "invalid"
			if header == "" {
				reason = "missing"
			}
			metrics.RelayAuthFailures.WithLabelValues(reason).Inc()
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		default:
			logger.WithContext("error", err.Error()).Error("authentication failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
	}
}

// RequireAdmin must run after RequireKey
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := KeyFromContext(c)
		if key == nil || !key.IsAdmin {
			metrics.RelayAuthFailures.WithLabelValues("forbidden").Inc()
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin key required"})
			return
		}
		c.Next()
	}
}

// KeyFromContext returns the key set by RequireKey, or nil
func KeyFromContext(c *gin.Context) *store.APIKey {
	v, ok := c.Get(contextKey)
	if !ok {
		return nil
	}
	key, _ := v.(*store.APIKey)
	return key
}
