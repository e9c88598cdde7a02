package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/CorvidLabs/corvid-agent/internal/pipeline"
)

// TenantValidator checks tenant-issued keys. Implemented by tenant.Manager;
// declared here to avoid the import cycle.
type TenantValidator interface {
	ValidateTenantKey(key string) (tenantID string, ok bool)
}

// Stage returns the order-110 auth stage. When a key is configured, every
// request must carry Authorization: Bearer <key>, except OPTIONS and the
// public-path set. The /ws upgrade additionally accepts ?key=<key> because
// browsers cannot set headers on a WebSocket upgrade.
//
// Missing or malformed credentials yield 401; a well-formed but mismatched
// key yields 403. On success the stage populates the authenticated flag,
// role, and tenant id.
func Stage(cfg *Config, tenants TenantValidator, logger *slog.Logger) pipeline.Stage {
	return pipeline.Stage{Name: "auth", Order: pipeline.OrderAuth, Handler: func(c *pipeline.Context, next func() error) error {
		if !cfg.Enabled() {
			// Localhost without a key: trusted local operator.
			c.Req.Authenticated = true
			c.Req.Role = pipeline.RoleAdmin
			return next()
		}

		if c.Req.Method == http.MethodOptions || IsPublicPath(c.Req.Path) {
			return next()
		}

		key, ok := bearerKey(c.Req.Request)
		if !ok && c.Req.Path == "/ws" {
			if q := c.Req.URL.Query().Get("key"); q != "" {
				key, ok = q, true
			}
		}
		if !ok {
			logger.Warn("auth: missing or malformed credentials",
				slog.String("path", c.Req.Path),
				slog.String("remote", c.Req.Request.RemoteAddr),
			)
			c.Abort(pipeline.JSONResponse(http.StatusUnauthorized, map[string]string{
				"error": "authorization required",
			}))
			return nil
		}

		if valid, admin := cfg.ValidateKey(key); valid {
			c.Req.Authenticated = true
			c.Req.WalletKey = key
			if admin {
				c.Req.Role = pipeline.RoleAdmin
			} else {
				c.Req.Role = pipeline.RoleUser
			}
			return next()
		}

		if tenants != nil {
			if tenantID, valid := tenants.ValidateTenantKey(key); valid {
				c.Req.Authenticated = true
				c.Req.WalletKey = key
				c.Req.Role = pipeline.RoleUser
				c.Req.TenantID = tenantID
				return next()
			}
		}

		logger.Warn("auth: key mismatch",
			slog.String("path", c.Req.Path),
			slog.String("remote", c.Req.Request.RemoteAddr),
		)
		c.Abort(pipeline.JSONResponse(http.StatusForbidden, map[string]string{
			"error": "invalid api key",
		}))
		return nil
	}}
}

// bearerKey extracts the bearer token from the Authorization header. The
// scheme name is case-insensitive.
func bearerKey(r *http.Request) (string, bool) {
	raw := r.Header.Get("Authorization")
	if raw == "" {
		return "", false
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}
