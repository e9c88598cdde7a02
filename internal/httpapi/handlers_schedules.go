package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/CorvidLabs/corvid-agent/internal/schedule"
	"github.com/CorvidLabs/corvid-agent/internal/sysstate"
)

// SchedulesValidateHandler runs the frequency floor over a proposed
// schedule and, for valid crons, reports the next fire time.
func SchedulesValidateHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Cron       string `json:"cron,omitempty"`
			IntervalMs int64  `json:"intervalMs,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if body.Cron == "" && body.IntervalMs == 0 {
			jsonError(w, "cron or intervalMs required", http.StatusBadRequest)
			return
		}

		if err := schedule.ValidateFrequency(body.Cron, body.IntervalMs); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"valid": false,
				"error": err.Error(),
			})
			return
		}

		out := map[string]any{"valid": true}
		if body.Cron != "" {
			if spec, err := schedule.Parse(body.Cron); err == nil {
				if next, err := spec.Next(time.Now()); err == nil {
					out["nextFire"] = next.UTC().Format(time.RFC3339)
				}
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// SchedulesEvaluateHandler decides run/skip/boost for an action type under
// the current system state.
func SchedulesEvaluateHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ActionType string `json:"actionType"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ActionType == "" {
			jsonError(w, "actionType required", http.StatusBadRequest)
			return
		}

		states := d.Detector.States(r.Context())
		decision := sysstate.EvaluateAction(body.ActionType, states)
		writeJSON(w, http.StatusOK, map[string]any{
			"actionType": body.ActionType,
			"category":   sysstate.CategoryOf(body.ActionType),
			"states":     states,
			"decision":   decision,
		})
	}
}
