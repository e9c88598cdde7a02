package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

const defaultRotationGrace = 24 * time.Hour

// AdminRotateKeyHandler rotates the server API key. The old key remains
// valid for the grace period so running clients can re-read their config.
func AdminRotateKeyHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			GraceSeconds int `json:"graceSeconds,omitempty"`
		}
		// An empty body means the default grace.
		_ = json.NewDecoder(r.Body).Decode(&body)

		grace := defaultRotationGrace
		if body.GraceSeconds > 0 {
			grace = time.Duration(body.GraceSeconds) * time.Second
		}

		newKey, err := d.Auth.RotateAPIKey(grace)
		if err != nil {
			jsonError(w, "key rotation failed", http.StatusInternalServerError)
			return
		}
		if d.Store != nil {
			warnOnErr(d.Logger, "record rotation",
				d.Store.SetValue(r.Context(), "last_key_rotation", time.Now().UTC().Format(time.RFC3339)))
		}
		d.Logger.Info("api key rotated", "grace", grace.String())
		writeJSON(w, http.StatusOK, map[string]any{
			"apiKey":       newKey,
			"graceSeconds": int(grace.Seconds()),
		})
	}
}

// AdminProvidersHandler lists registered providers with health records.
func AdminProvidersHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := d.Fallback.Health().Snapshot()

		type providerStatus struct {
			Name                string `json:"name"`
			Local               bool   `json:"local"`
			Available           bool   `json:"available"`
			ConsecutiveFailures int    `json:"consecutiveFailures"`
			Healthy             bool   `json:"healthy"`
		}
		var out []providerStatus
		for _, name := range d.Registry.List() {
			p, err := d.Registry.Get(name)
			if err != nil {
				continue
			}
			info := p.Info()
			status := providerStatus{
				Name:      name,
				Local:     info.Local,
				Available: d.Fallback.Health().IsAvailable(name),
				Healthy:   true,
			}
			if rec, ok := health[name]; ok {
				status.ConsecutiveFailures = rec.ConsecutiveFailures
				status.Healthy = rec.Healthy
			}
			out = append(out, status)
		}
		writeJSON(w, http.StatusOK, map[string]any{"providers": out})
	}
}

// AdminStateHandler reports the system-state detector result and the slot
// scheduler snapshot.
func AdminStateHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := d.Detector.Detect(r.Context())

		active, maxWeight, queued := 0, 0, 0
		if d.Slots != nil {
			active, maxWeight, queued = d.Slots.Snapshot()
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"states":      res.States,
			"details":     res.Details,
			"evaluatedAt": res.EvaluatedAt,
			"cached":      res.Cached,
			"slots": map[string]int{
				"activeWeight": active,
				"maxWeight":    maxWeight,
				"queued":       queued,
			},
		})
	}
}

// AdminStateInvalidateHandler drops the detector cache.
func AdminStateInvalidateHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		d.Detector.InvalidateCache()
		writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
	}
}

// AdminCompletionsHandler pages through the completion log.
func AdminCompletionsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Store == nil {
			jsonError(w, "completion log unavailable", http.StatusServiceUnavailable)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		logs, err := d.Store.ListCompletionLogs(r.Context(), limit, offset)
		if err != nil {
			jsonError(w, "query failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"completions": logs})
	}
}

// AdminTenantsHandler lists issued tenant keys (hashes, never plaintext).
func AdminTenantsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Tenants == nil {
			jsonError(w, "tenant manager unavailable", http.StatusServiceUnavailable)
			return
		}
		records, err := d.Tenants.List(r.Context())
		if err != nil {
			jsonError(w, "query failed", http.StatusInternalServerError)
			return
		}

		type tenantKey struct {
			ID        string `json:"id"`
			TenantID  string `json:"tenantId"`
			KeyPrefix string `json:"keyPrefix"`
			Enabled   bool   `json:"enabled"`
		}
		out := make([]tenantKey, 0, len(records))
		for _, rec := range records {
			out = append(out, tenantKey{
				ID: rec.ID, TenantID: rec.TenantID,
				KeyPrefix: rec.KeyPrefix, Enabled: rec.Enabled,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"tenantKeys": out})
	}
}

// AdminTenantRevokeHandler disables one tenant key.
func AdminTenantRevokeHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Tenants == nil {
			jsonError(w, "tenant manager unavailable", http.StatusServiceUnavailable)
			return
		}
		id := chi.URLParam(r, "id")
		if err := d.Tenants.Revoke(r.Context(), id); err != nil {
			jsonError(w, "revoke failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "revoked", "id": id})
	}
}
