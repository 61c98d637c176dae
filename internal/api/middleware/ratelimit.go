package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Limit defines rate limit parameters for one endpoint group.
type Limit struct {
	Requests int
	Window   time.Duration
}

// RateLimitConfig holds per-endpoint limits.
type RateLimitConfig struct {
	Ask     Limit
	Upload  Limit
	Default Limit
	// GracefulDegradation lets requests through when the store errors.
	GracefulDegradation bool
}

// DefaultRateLimitConfig returns the default limits.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Ask:                 Limit{Requests: 20, Window: time.Minute},
		Upload:              Limit{Requests: 30, Window: time.Hour},
		Default:             Limit{Requests: 100, Window: time.Minute},
		GracefulDegradation: true,
	}
}

func (c RateLimitConfig) limitFor(group string) Limit {
	switch group {
	case "ask":
		return c.Ask
	case "upload":
		return c.Upload
	default:
		return c.Default
	}
}

// RateLimitStore counts requests per key within a window. The Redis
// client satisfies this for multi-instance deployments.
type RateLimitStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
}

// MemoryRateLimitStore is an in-process store for single-instance
// deployments.
type MemoryRateLimitStore struct {
	mu      sync.Mutex
	entries map[string]*rateLimitEntry
}

type rateLimitEntry struct {
	count     int64
	expiresAt time.Time
}

// NewMemoryRateLimitStore creates an in-memory store with background
// cleanup of expired windows.
func NewMemoryRateLimitStore() *MemoryRateLimitStore {
	store := &MemoryRateLimitStore{entries: make(map[string]*rateLimitEntry)}
	go store.cleanup()
	return store
}

// Increment counts one request against the key's window.
func (s *MemoryRateLimitStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	entry, ok := s.entries[key]
	if !ok || now.After(entry.expiresAt) {
		s.entries[key] = &rateLimitEntry{count: 1, expiresAt: now.Add(window)}
		return 1, nil
	}
	entry.count++
	return entry.count, nil
}

func (s *MemoryRateLimitStore) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		now := time.Now()
		s.mu.Lock()
		for key, entry := range s.entries {
			if now.After(entry.expiresAt) {
				delete(s.entries, key)
			}
		}
		s.mu.Unlock()
	}
}

// RateLimiter enforces per-client request limits.
type RateLimiter struct {
	store  RateLimitStore
	config RateLimitConfig
	logger *slog.Logger
}

// NewRateLimiter creates a limiter over the given store.
func NewRateLimiter(store RateLimitStore, config RateLimitConfig, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{store: store, config: config, logger: logger}
}

// Middleware returns a middleware enforcing the limit for the named
// endpoint group, keyed by client IP.
func (rl *RateLimiter) Middleware(group string) func(next http.Handler) http.Handler {
	limit := rl.config.limitFor(group)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := fmt.Sprintf("ratelimit:%s:%s", group, clientIP(r))

			count, err := rl.store.Increment(r.Context(), key, limit.Window)
			if err != nil {
				rl.logger.Warn("rate limit store error", "error", err)
				if rl.config.GracefulDegradation {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}

			remaining := int64(limit.Requests) - count
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

			if count > int64(limit.Requests) {
				rl.logger.Debug("rate limit exceeded", "group", group, "key", key)
				w.Header().Set("Retry-After", strconv.Itoa(int(limit.Window.Seconds())))
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP trusts RemoteAddr, which the RealIP middleware has already
// rewritten from proxy headers when present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
