// Package handlers exposes the service's HTTP surface: health probes plus a
// thin JSON layer over checkout sessions and order placement.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// ReadinessCheck reports whether a dependency is reachable.
type ReadinessCheck func(ctx context.Context) error

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	startedAt time.Time
	checks    map[string]ReadinessCheck
}

// NewHealthHandlers constructs the probe handlers with named dependency checks.
func NewHealthHandlers(checks map[string]ReadinessCheck) *HealthHandlers {
	return &HealthHandlers{
		startedAt: time.Now().UTC(),
		checks:    checks,
	}
}

// Healthz responds with a simple status payload for liveness monitoring.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    time.Since(h.startedAt).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Readyz runs the dependency checks and reports per-dependency status.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	payload := map[string]any{
		"status": "ok",
		"checks": results,
	}
	if status != http.StatusOK {
		payload["status"] = "degraded"
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
