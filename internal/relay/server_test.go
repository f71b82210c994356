package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sieve/internal/auth"
	"sieve/internal/config"
	"sieve/internal/store"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fixture struct {
	handler http.Handler
	store   *store.Store
	auth    *auth.Authenticator
	admin   string
	user    string
}

func newFixture(t *testing.T, maxPending int) *fixture {
	t.Helper()
	s, err := store.NewStore(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	a := auth.NewAuthenticatorWithCost(s, bcrypt.MinCost, nil)
	ctx := context.Background()
	admin, err := a.GenerateKey(ctx, "laptop", true, 60)
	require.NoError(t, err)
	user, err := a.GenerateKey(ctx, "phone", false, 60)
	require.NoError(t, err)

	cfg := config.Default().Relay
	cfg.MaxPending = maxPending
	cfg.PreAuthRPS = 0

	return &fixture{
		handler: NewServer(cfg, s, a, nil).Handler(),
		store:   s,
		auth:    a,
		admin:   admin,
		user:    user,
	}
}

func (f *fixture) do(method, path, key, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	f := newFixture(t, 10)
	w := f.do("GET", "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","service":"sieve-relay"}`, w.Body.String())
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-referrer", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestCaptureAckRoundTrip(t *testing.T) {
	f := newFixture(t, 10)

	w := f.do("POST", "/capture", f.admin, `{"url":"https://example.com"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var created CaptureResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Positive(t, created.ID)
	assert.Equal(t, "pending", created.Status)

	w = f.do("GET", "/captures/pending", f.admin, "")
	require.Equal(t, http.StatusOK, w.Code)
	var pending PendingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pending))
	require.Equal(t, 1, pending.Count)
	assert.Equal(t, created.ID, pending.Captures[0].ID)
	assert.Equal(t, "https://example.com", pending.Captures[0].URL)

	ackPath := fmt.Sprintf("/captures/%d/ack", created.ID)
	w = f.do("POST", ackPath, f.admin, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, fmt.Sprintf(`{"status":"acked","id":%d}`, created.ID), w.Body.String())

	w = f.do("POST", ackPath, f.admin, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCaptureAuth(t *testing.T) {
	f := newFixture(t, 10)
	body := `{"content":"hello"}`

	assert.Equal(t, http.StatusUnauthorized, f.do("POST", "/capture", "", body).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do("POST", "/capture", "sieve_live_nothex", body).Code)

	w := f.do("POST", "/capture", "sieve_live_"+strings.Repeat("0", 32), body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"Unauthorized"}`, w.Body.String())

	assert.Equal(t, http.StatusAccepted, f.do("POST", "/capture", f.user, body).Code)
}

func TestAdminEndpointsRequireAdmin(t *testing.T) {
	f := newFixture(t, 10)
	assert.Equal(t, http.StatusForbidden, f.do("GET", "/captures/pending", f.user, "").Code)
	assert.Equal(t, http.StatusForbidden, f.do("POST", "/captures/1/ack", f.user, "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do("GET", "/captures/pending", "", "").Code)
}

func TestCaptureValidation(t *testing.T) {
	f := newFixture(t, 10)

	tests := []struct {
		name string
		body string
	}{
		{"empty", `{}`},
		{"bad json", `{"content":`},
		{"bad url scheme", `{"url":"ftp://example.com"}`},
		{"bad source_url", `{"content":"x","source_url":"javascript:alert(1)"}`},
		{"long url", `{"url":"https://example.com/` + strings.Repeat("a", 2048) + `"}`},
		{"long title", `{"content":"x","title":"` + strings.Repeat("t", 501) + `"}`},
		{"large content", `{"content":"` + strings.Repeat("c", 512_001) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do("POST", "/capture", f.user, tt.body)
			assert.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
		})
	}

	n, err := f.store.CountPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "rejected payloads never enter the queue")
}

func TestCaptureQueueFull(t *testing.T) {
	f := newFixture(t, 2)
	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusAccepted, f.do("POST", "/capture", f.user, `{"content":"x"}`).Code)
	}
	w := f.do("POST", "/capture", f.user, `{"content":"x"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCaptureRateLimited(t *testing.T) {
	f := newFixture(t, 100)
	limited, err := f.auth.GenerateKey(context.Background(), "tight", false, 2)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusAccepted, f.do("POST", "/capture", limited, `{"content":"x"}`).Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, f.do("POST", "/capture", limited, `{"content":"x"}`).Code)
}

func TestPendingLimit(t *testing.T) {
	f := newFixture(t, 10)
	for i := 0; i < 3; i++ {
		f.do("POST", "/capture", f.user, fmt.Sprintf(`{"content":"c%d"}`, i))
	}

	w := f.do("GET", "/captures/pending?limit=2", f.admin, "")
	require.Equal(t, http.StatusOK, w.Code)
	var pending PendingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pending))
	assert.Equal(t, 2, pending.Count)
	assert.Equal(t, "c0", pending.Captures[0].Content, "oldest first")

	for _, bad := range []string{"0", "501", "abc"} {
		w := f.do("GET", "/captures/pending?limit="+bad, f.admin, "")
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code, bad)
	}
}

func TestAckInvalidID(t *testing.T) {
	f := newFixture(t, 10)
	assert.Equal(t, http.StatusUnprocessableEntity, f.do("POST", "/captures/abc/ack", f.admin, "").Code)
	assert.Equal(t, http.StatusNotFound, f.do("POST", "/captures/999/ack", f.admin, "").Code)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, 10)
	req := httptest.NewRequest("OPTIONS", "/capture", nil)
	req.Header.Set("Origin", "chrome-extension://abcdef")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	assert.Less(t, w.Code, 300)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
