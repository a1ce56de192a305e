package handlers_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/nexus/internal/config"
	"github.com/scrypster/nexus/internal/logging"
	"github.com/scrypster/nexus/web/handlers"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func authConfig(mode, key string) *config.Config {
	cfg := config.Default()
	cfg.Security.Mode = mode
	cfg.Security.APIKey = key
	return cfg
}

func TestRequireAuth_SkipInDevelopmentWithoutKey(t *testing.T) {
	handler := handlers.RequireAuth(okHandler(), authConfig("development", ""))

	req := httptest.NewRequest("GET", "/memories/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireAuth_DevelopmentWithKeyStillChecks(t *testing.T) {
	handler := handlers.RequireAuth(okHandler(), authConfig("development", "secret"))

	req := httptest.NewRequest("GET", "/memories/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAuth_RejectMissingKey(t *testing.T) {
	handler := handlers.RequireAuth(okHandler(), authConfig("production", "secret"))

	req := httptest.NewRequest("GET", "/memories/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "unauthorized")
}

func TestRequireAuth_RejectWrongKey(t *testing.T) {
	handler := handlers.RequireAuth(okHandler(), authConfig("production", "secret"))

	req := httptest.NewRequest("GET", "/memories/", nil)
	req.Header.Set(handlers.APIKeyHeader, "guess")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequireAuth_AcceptValidKey(t *testing.T) {
	handler := handlers.RequireAuth(okHandler(), authConfig("production", "secret-token"))

	req := httptest.NewRequest("GET", "/memories/", nil)
	req.Header.Set(handlers.APIKeyHeader, "secret-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest("GET", "/memories/", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireAuth_ProductionWithoutConfiguredKey(t *testing.T) {
	handler := handlers.RequireAuth(okHandler(), authConfig("production", ""))

	req := httptest.NewRequest("GET", "/memories/", nil)
	req.Header.Set(handlers.APIKeyHeader, "anything")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRateLimitMiddleware_AllowsNormalRate(t *testing.T) {
	limiter := handlers.NewRateLimiter(10, 20) // 10 req/s, burst 20
	handler := handlers.RateLimitMiddleware(okHandler(), limiter)

	for i := 0; i < 10; i++ {
		req := httptest.NewRequest("GET", "/memories/search", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestRateLimitMiddleware_RejectsExcessiveRate(t *testing.T) {
	limiter := handlers.NewRateLimiter(1, 2) // 1 req/s, burst 2
	handler := handlers.RateLimitMiddleware(okHandler(), limiter)

	// First 2 should succeed (burst)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/memories/search", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}

	req := httptest.NewRequest("GET", "/memories/search", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := handlers.RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = handlers.RequestIDFrom(r.Context())
	}))

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	require.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get(handlers.RequestIDHeader))

	req = httptest.NewRequest("GET", "/health", nil)
	req.Header.Set(handlers.RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", seen)
}

func TestAccessLogMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New("info", &buf)

	handler := handlers.AccessLogMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}), logger)

	req := httptest.NewRequest("GET", "/memories/7", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTeapot, w.Code)
	out := buf.String()
	assert.Contains(t, out, "http request")
	assert.Contains(t, out, "/memories/7")
	assert.Contains(t, out, "418")
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	handler := handlers.SecurityHeadersMiddleware(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}
