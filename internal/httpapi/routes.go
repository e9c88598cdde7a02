// Package httpapi holds the route handlers mounted behind the pipeline's
// terminal stage.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/CorvidLabs/corvid-agent/internal/auth"
	"github.com/CorvidLabs/corvid-agent/internal/fallback"
	"github.com/CorvidLabs/corvid-agent/internal/metrics"
	"github.com/CorvidLabs/corvid-agent/internal/providers"
	"github.com/CorvidLabs/corvid-agent/internal/router"
	"github.com/CorvidLabs/corvid-agent/internal/slots"
	"github.com/CorvidLabs/corvid-agent/internal/store"
	"github.com/CorvidLabs/corvid-agent/internal/sysstate"
	"github.com/CorvidLabs/corvid-agent/internal/tenant"
)

// Dependencies carries everything the handlers need. Optional members are
// documented nil-safe.
type Dependencies struct {
	Logger   *slog.Logger
	Metrics  *metrics.Registry
	Auth     *auth.Config
	Tenants  *tenant.Manager
	Registry *providers.Registry
	Router   *router.Router
	Fallback *fallback.Manager
	Slots    *slots.Scheduler
	Detector *sysstate.Detector
	Store    *store.SQLiteStore // nil disables completion logging
	Version  string

	// CouncilModel, when set, overrides routing for agentRole "council".
	CouncilModel string
}

// MountRoutes attaches every route to the mux. Authentication and rate
// limiting happen earlier in the pipeline; the admin subtree additionally
// sits behind the role guard.
func MountRoutes(r chi.Router, d Dependencies) {
	r.Get("/api/health", HealthHandler(d))
	r.Get("/.well-known/agent-card.json", AgentCardHandler(d))

	r.Post("/api/tenants/register", TenantRegisterHandler(d))

	r.Post("/api/complete", CompleteHandler(d))
	r.Get("/ws", WSHandler(d))

	r.Post("/api/schedules/validate", SchedulesValidateHandler(d))
	r.Post("/api/schedules/evaluate", SchedulesEvaluateHandler(d))

	r.Route("/api/admin", func(r chi.Router) {
		r.Post("/rotate-key", AdminRotateKeyHandler(d))
		r.Get("/providers", AdminProvidersHandler(d))
		r.Get("/state", AdminStateHandler(d))
		r.Post("/state/invalidate", AdminStateInvalidateHandler(d))
		r.Get("/completions", AdminCompletionsHandler(d))
		r.Get("/tenants", AdminTenantsHandler(d))
		r.Delete("/tenants/{id}", AdminTenantRevokeHandler(d))
	})

	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// warnOnErr logs background store failures that must not block a response.
func warnOnErr(logger *slog.Logger, op string, err error) {
	if err != nil {
		logger.Warn("store operation failed", "op", op, "error", err)
	}
}

// HealthHandler reports liveness plus a provider count so that a routing
// hub with zero adapters shows up unhealthy.
func HealthHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		names := d.Registry.List()
		status := http.StatusOK
		state := "ok"
		if len(names) == 0 {
			status = http.StatusServiceUnavailable
			state = "unhealthy"
		}
		writeJSON(w, status, map[string]any{
			"status":    state,
			"providers": len(names),
			"version":   d.Version,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// AgentCardHandler serves the public capability card.
func AgentCardHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"name":        "corvid-agent",
			"description": "LLM dispatch core with complexity routing and provider fallback",
			"version":     d.Version,
			"capabilities": map[string]any{
				"completion":         true,
				"websocket":          true,
				"scheduleValidation": true,
			},
			"endpoints": map[string]string{
				"complete":  "/api/complete",
				"websocket": "/ws",
				"health":    "/api/health",
			},
		})
	}
}
