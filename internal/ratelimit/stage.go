package ratelimit

import (
	"net"
	"net/http"
	"strconv"

	"github.com/CorvidLabs/corvid-agent/internal/metrics"
	"github.com/CorvidLabs/corvid-agent/internal/pipeline"
)

// DefaultExemptPaths skip both limiters.
var DefaultExemptPaths = map[string]bool{
	"/api/health":                  true,
	"/webhooks/github":             true,
	"/ws":                          true,
	"/.well-known/agent-card.json": true,
}

// clientKey prefers the wallet key populated by auth and falls back to the
// remote IP (X-Real-IP first, then RemoteAddr without the port).
func clientKey(c *pipeline.Context) string {
	if c.Req.WalletKey != "" {
		return c.Req.WalletKey
	}
	if ip := c.Req.Request.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(c.Req.Request.RemoteAddr)
	if err != nil {
		return c.Req.Request.RemoteAddr
	}
	return host
}

func tierFor(c *pipeline.Context) Tier {
	switch {
	case c.Req.Authenticated && c.Req.Role == pipeline.RoleAdmin:
		return TierAdmin
	case c.Req.Authenticated:
		return TierUser
	default:
		return TierPublic
	}
}

// attachHeaders records the X-RateLimit-* values on the context so they ride
// on the eventual response, allowed or rejected.
func attachHeaders(c *pipeline.Context, res Result) {
	if res.Limit <= 0 {
		return
	}
	h := c.Req.RateHeaders
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))
}

func reject(c *pipeline.Context, res Result, m *metrics.Registry) {
	attachHeaders(c, res)
	c.Req.RateHeaders.Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
	if m != nil {
		m.RateLimited.Inc()
	}
	c.Abort(pipeline.JSONResponse(http.StatusTooManyRequests, map[string]string{
		"error": "rate limit exceeded",
	}))
}

// GlobalStage returns the order-100 stage applying the global read/mutation
// sliding windows. Exempt paths skip the check entirely.
func GlobalStage(l *GlobalLimiter, exempt map[string]bool, m *metrics.Registry) pipeline.Stage {
	if exempt == nil {
		exempt = DefaultExemptPaths
	}
	return pipeline.Stage{Name: "rate-limit", Order: pipeline.OrderRateLimit, Handler: func(c *pipeline.Context, next func() error) error {
		if exempt[c.Req.Path] {
			return next()
		}
		res := l.Check(clientKey(c), c.Req.Method)
		if !res.Allowed {
			reject(c, res, m)
			return nil
		}
		attachHeaders(c, res)
		return next()
	}}
}

// EndpointStage returns the order-115 stage applying tiered per-endpoint
// limits. It runs after auth so the request's tier is known.
func EndpointStage(l *EndpointLimiter, exempt map[string]bool, m *metrics.Registry) pipeline.Stage {
	if exempt == nil {
		exempt = DefaultExemptPaths
	}
	return pipeline.Stage{Name: "endpoint-rate-limit", Order: pipeline.OrderEndpointLimit, Handler: func(c *pipeline.Context, next func() error) error {
		if exempt[c.Req.Path] {
			return next()
		}
		res := l.Check(clientKey(c), c.Req.Method, c.Req.Path, tierFor(c))
		if !res.Allowed {
			reject(c, res, m)
			return nil
		}
		attachHeaders(c, res)
		return next()
	}}
}
