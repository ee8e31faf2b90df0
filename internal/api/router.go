package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the control-plane router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, msgRouteNotFound)
	})
	// Runs before any handler, so a wrong verb never reaches the registry
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, msgMethodNotAllowed)
	})

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	r.Get("/all", s.handleListAll)
	r.Head("/all", s.handleListAll)

	r.Post("/controller/set", s.handleSetValues)
	r.Post("/controller/state", s.handleSetEnabled)

	if s.auditRepo != nil {
		r.Get("/audit", s.handleListAuditLogs)
	}

	return r
}

// buildWSRouter creates the router for the telemetry push listener.
// The access logger is left out: upgraded connections outlive the request.
func (s *Server) buildWSRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Get(s.wsCfg.Path, s.handleWebSocket)

	return r
}

// healthCheckTimeout bounds the dependency checks of one /health request.
const healthCheckTimeout = 2 * time.Second

// HealthChecker is implemented by dependencies /health checks actively.
// *mqtt.Client and *database.DB satisfy it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string            `json:"status"`
	Version     string            `json:"version"`
	Controllers int               `json:"controllers"`
	Subscribers int               `json:"subscribers"`
	Ticks       uint64            `json:"ticks"`
	LastTick    string            `json:"last_tick,omitempty"`
	Checks      map[string]string `json:"checks,omitempty"`
}

// handleHealth returns the server health status. A failing MQTT or
// database check turns the status to "degraded" with 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:      "ok",
		Version:     s.version,
		Controllers: s.registry.Len(),
		Subscribers: s.hub.ClientCount(),
	}
	if s.ticks != nil {
		stats := s.ticks.Stats()
		resp.Ticks = stats.Runs
		if !stats.LastRun.IsZero() {
			resp.LastTick = stats.LastRun.UTC().Format(time.RFC3339Nano)
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := http.StatusOK
	for _, dep := range []struct {
		name  string
		value any
	}{
		{"mqtt", s.mqtt},
		{"database", s.db},
	} {
		checker, ok := dep.value.(HealthChecker)
		if !ok {
			continue
		}
		if resp.Checks == nil {
			resp.Checks = make(map[string]string)
		}
		if err := checker.HealthCheck(ctx); err != nil {
			resp.Checks[dep.name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[dep.name] = "ok"
	}

	writeJSON(w, status, resp)
}
