package httpapi

import (
	"encoding/json"
	"net/http"
	"regexp"
)

var tenantIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{1,62}$`)

// TenantRegisterHandler issues a tenant API key. The plaintext key appears
// in this response exactly once.
func TenantRegisterHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Tenants == nil {
			jsonError(w, "tenant registration unavailable", http.StatusServiceUnavailable)
			return
		}

		var body struct {
			TenantID string `json:"tenantId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if !tenantIDPattern.MatchString(body.TenantID) {
			jsonError(w, "tenantId must be 2-63 chars of [a-z0-9_-]", http.StatusBadRequest)
			return
		}

		key, rec, err := d.Tenants.Issue(r.Context(), body.TenantID)
		if err != nil {
			jsonError(w, "key issue failed", http.StatusInternalServerError)
			return
		}
		d.Logger.Info("tenant key issued", "tenant", body.TenantID, "key_id", rec.ID)
		writeJSON(w, http.StatusCreated, map[string]string{
			"tenantId": rec.TenantID,
			"keyId":    rec.ID,
			"apiKey":   key,
		})
	}
}
