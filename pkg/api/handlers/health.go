package handlers

import (
	"context"
	"net/http"
	"time"
)

// Check is a named readiness probe for one component.
type Check struct {
	// Name identifies the component (e.g., "keytab", "accounts").
	Name string

	// Type groups components in the report (e.g., "kerberos", "database").
	Type string

	// Probe returns nil when the component is usable.
	Probe func(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
//
// Health endpoints are unauthenticated and provide:
//   - Liveness probe: Is the server process running?
//   - Readiness probe: Are all configured components usable?
type HealthHandler struct {
	service string
	checks  []Check
	timeout time.Duration
}

// NewHealthHandler creates a health handler running checks on readiness.
// With no checks the server is ready as soon as it is live.
func NewHealthHandler(service string, checks ...Check) *HealthHandler {
	return &HealthHandler{
		service: service,
		checks:  checks,
		timeout: 5 * time.Second,
	}
}

// Liveness handles GET /health.
//
// Returns 200 OK as long as the HTTP server is responsive.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{
		"service": h.service,
	}))
}

// ComponentHealth represents the health status of a single component.
type ComponentHealth struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// ReadinessResponse lists the result of every check.
type ReadinessResponse struct {
	Components []ComponentHealth `json:"components"`
}

// Readiness handles GET /health/ready.
//
// Runs every check under a shared timeout. Returns 200 OK if all pass and
// 503 Service Unavailable otherwise.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	response := ReadinessResponse{Components: make([]ComponentHealth, 0, len(h.checks))}
	allHealthy := true

	for _, c := range h.checks {
		start := time.Now()
		err := c.Probe(ctx)

		health := ComponentHealth{
			Name:    c.Name,
			Type:    c.Type,
			Status:  "healthy",
			Latency: time.Since(start).String(),
		}
		if err != nil {
			health.Status = "unhealthy"
			health.Error = err.Error()
			allHealthy = false
		}
		response.Components = append(response.Components, health)
	}

	if allHealthy {
		writeJSON(w, http.StatusOK, healthyResponse(response))
	} else {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponseWithData(response))
	}
}
