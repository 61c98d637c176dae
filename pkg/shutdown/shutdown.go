// Package shutdown provides graceful shutdown handling.
package shutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// CleanupFunc is a function called during shutdown.
type CleanupFunc func(ctx context.Context) error

// Handler manages graceful shutdown of multiple components.
type Handler struct {
	logger   *slog.Logger
	timeout  time.Duration
	cleanups []namedCleanup
	mu       sync.Mutex
}

type namedCleanup struct {
	name string
	fn   CleanupFunc
}

// New creates a new shutdown handler.
func New(logger *slog.Logger, timeout time.Duration) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, timeout: timeout}
}

// Register adds a named cleanup function. Cleanups run in LIFO order.
func (h *Handler) Register(name string, fn CleanupFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cleanups = append(h.cleanups, namedCleanup{name: name, fn: fn})
}

// Wait blocks until SIGINT/SIGTERM, then runs all cleanups within the timeout.
func (h *Handler) Wait() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	h.logger.Info("shutdown signal received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	h.mu.Lock()
	cleanups := make([]namedCleanup, len(h.cleanups))
	copy(cleanups, h.cleanups)
	h.mu.Unlock()

	for i := len(cleanups) - 1; i >= 0; i-- {
		c := cleanups[i]
		if err := c.fn(ctx); err != nil {
			h.logger.Error("cleanup failed", "component", c.name, "error", err)
			continue
		}
		h.logger.Info("component shut down", "component", c.name)
	}
}
