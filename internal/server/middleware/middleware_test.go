package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuth(t *testing.T) {
	h := Auth("treasury-key")(okHandler())

	t.Run("bearer token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/bonds", nil)
		req.Header.Set("Authorization", "Bearer treasury-key")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("api key header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/bonds", nil)
		req.Header.Set("X-API-Key", "treasury-key")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing credential", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/bonds", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong credential", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/bonds", nil)
		req.Header.Set("X-API-Key", "guess")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("disabled when unconfigured", func(t *testing.T) {
		h := Auth("")(okHandler())
		req := httptest.NewRequest(http.MethodGet, "/api/bonds", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.phoenix.fi"})(okHandler())

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/bonds", nil)
		req.Header.Set("Origin", "https://app.phoenix.fi")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, "https://app.phoenix.fi", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-Account-ID")
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/bonds", nil)
		req.Header.Set("Origin", "https://app.phoenix.fi")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("origin not allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/bonds", nil)
		req.Header.Set("Origin", "https://evil.example")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

type fakeLimiter struct {
	allowed bool
	err     error
	gotKey  string
}

func (f *fakeLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	f.gotKey = key
	return f.allowed, f.err
}

func TestRateLimit(t *testing.T) {
	t.Run("denied", func(t *testing.T) {
		h := RateLimit(&fakeLimiter{allowed: false}, 10, time.Second)(okHandler())
		req := httptest.NewRequest(http.MethodPost, "/api/deposits", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	})

	t.Run("keyed by forwarded client ip", func(t *testing.T) {
		lim := &fakeLimiter{allowed: true}
		h := RateLimit(lim, 10, time.Second)(okHandler())
		req := httptest.NewRequest(http.MethodPost, "/api/deposits", nil)
		req.Header.Set("X-Forwarded-For", "10.1.2.3, 10.0.0.1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "api:10.1.2.3", lim.gotKey)
	})

	t.Run("fails open on limiter error", func(t *testing.T) {
		h := RateLimit(&fakeLimiter{err: errors.New("redis down")}, 10, time.Second)(okHandler())
		req := httptest.NewRequest(http.MethodPost, "/api/deposits", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
