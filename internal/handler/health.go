package handler

import (
	"context"
	"net/http"
	"time"
)

// Checker is a dependency checked by the readiness endpoint.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckFunc adapts a function to a Checker.
type CheckFunc struct {
	Label string
	Fn    func(ctx context.Context) error
}

// Name returns the dependency name.
func (c CheckFunc) Name() string { return c.Label }

// Check runs the readiness check.
func (c CheckFunc) Check(ctx context.Context) error { return c.Fn(ctx) }

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	checks []Checker
}

// NewHealthHandler creates a new health handler. Only configured
// dependencies should be passed; an unconfigured cache or mirror does not
// make the gateway unready.
func NewHealthHandler(checks ...Checker) *HealthHandler {
	return &HealthHandler{
		checks: checks,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for _, c := range h.checks {
		if err := c.Check(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": c.Name() + ": " + err.Error(),
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
