package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct{}

func (failingStore) Increment(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("store down")
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(t *testing.T, handler http.Handler, addr string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = addr
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiterEnforcesLimit(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	cfg.Ask = Limit{Requests: 2, Window: time.Minute}

	limiter := NewRateLimiter(NewMemoryRateLimitStore(), cfg, slog.New(slog.DiscardHandler))
	handler := limiter.Middleware("ask")(okHandler())

	first := doRequest(t, handler, "10.0.0.1:1234")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))

	second := doRequest(t, handler, "10.0.0.1:1234")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining"))

	third := doRequest(t, handler, "10.0.0.1:1234")
	assert.Equal(t, http.StatusTooManyRequests, third.Code)
	assert.Equal(t, "60", third.Header().Get("Retry-After"))
}

func TestRateLimiterKeysByClientIP(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	cfg.Ask = Limit{Requests: 1, Window: time.Minute}

	limiter := NewRateLimiter(NewMemoryRateLimitStore(), cfg, slog.New(slog.DiscardHandler))
	handler := limiter.Middleware("ask")(okHandler())

	require.Equal(t, http.StatusOK, doRequest(t, handler, "10.0.0.1:1234").Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(t, handler, "10.0.0.1:5678").Code)
	assert.Equal(t, http.StatusOK, doRequest(t, handler, "10.0.0.2:1234").Code)
}

func TestRateLimiterGracefulDegradation(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	cfg.GracefulDegradation = true

	limiter := NewRateLimiter(failingStore{}, cfg, slog.New(slog.DiscardHandler))
	handler := limiter.Middleware("ask")(okHandler())

	assert.Equal(t, http.StatusOK, doRequest(t, handler, "10.0.0.1:1234").Code)

	cfg.GracefulDegradation = false
	strict := NewRateLimiter(failingStore{}, cfg, slog.New(slog.DiscardHandler))
	handler = strict.Middleware("ask")(okHandler())
	assert.Equal(t, http.StatusServiceUnavailable, doRequest(t, handler, "10.0.0.1:1234").Code)
}

func TestMemoryStoreWindowReset(t *testing.T) {
	store := NewMemoryRateLimitStore()

	count, err := store.Increment(t.Context(), "k", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = store.Increment(t.Context(), "k", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	time.Sleep(20 * time.Millisecond)

	count, err = store.Increment(t.Context(), "k", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
