package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// extensionSchemes are browser-extension origins always trusted for captures
var extensionSchemes = []string{"chrome-extension://", "moz-extension://"}

// OriginPolicy decides which Origin headers may drive state changes
type OriginPolicy struct {
	allowed map[string]bool
}

// NewOriginPolicy trusts the given exact origins plus browser extensions
func NewOriginPolicy(origins []string) *OriginPolicy {
	p := &OriginPolicy{allowed: make(map[string]bool, len(origins))}
	for _, o := range origins {
		p.allowed[strings.TrimRight(o, "/")] = true
	}
	return p
}

// Allowed reports whether a non-empty origin is trusted
func (p *OriginPolicy) Allowed(origin string) bool {
	if p.allowed[origin] {
		return true
	}
	for _, scheme := range extensionSchemes {
		if strings.HasPrefix(origin, scheme) {
			return true
		}
	}
	return false
}

// Guard rejects state-changing requests from untrusted origins with 403.
// Requests without an Origin header are same-origin or non-browser.
func (p *OriginPolicy) Guard() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}

		origin := c.GetHeader("Origin")
		if origin == "" || p.Allowed(origin) {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Origin not allowed"})
	}
}
