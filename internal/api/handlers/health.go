package handlers

import (
	"context"
	"net/http"
	"time"
)

// HealthChecker reports a dependency's health.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthStatus is the liveness response.
type HealthStatus struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Timestamp string `json:"timestamp"`
}

// ReadyStatus is the readiness response.
type ReadyStatus struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
	Timestamp  string            `json:"timestamp"`
}

// HealthCheck returns the liveness handler. It answers 200 whenever the
// process is serving.
func HealthCheck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		RespondJSON(w, http.StatusOK, HealthStatus{
			Status:    "healthy",
			Service:   "datachat",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// ReadyCheck returns the readiness handler. Components registered as nil
// are reported as not configured without failing readiness.
func ReadyCheck(components map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := ReadyStatus{
			Status:     "ready",
			Components: make(map[string]string),
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
		}

		ready := true
		for name, checker := range components {
			if checker == nil {
				status.Components[name] = "not configured"
				continue
			}
			if err := checker.Health(ctx); err != nil {
				status.Components[name] = "unhealthy: " + err.Error()
				ready = false
				continue
			}
			status.Components[name] = "healthy"
		}

		code := http.StatusOK
		if !ready {
			status.Status = "not ready"
			code = http.StatusServiceUnavailable
		}
		RespondJSON(w, code, status)
	}
}
