package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"
)

// Role is the authenticated role attached to a request.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
	RoleNone  Role = ""
)

// DefaultTenant is the tenant sentinel used when no tenant is identified.
const DefaultTenant = "default"

// RequestContext is the per-request record created at pipeline entry and
// mutated by the auth and guard stages. It is owned by the dispatcher and
// destroyed once the response is written.
type RequestContext struct {
	Request *http.Request

	Method string
	Path   string
	URL    *url.URL

	Authenticated bool
	Role          Role
	WalletKey     string
	TenantID      string

	// RateHeaders collects X-RateLimit-* headers attached by the limiter
	// stages; they are copied onto the response during unwinding.
	RateHeaders http.Header
}

// Response is the pipeline's response slot. Any stage may set it; the first
// writer wins unless a later stage deliberately replaces it.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Context wraps RequestContext with the cross-stage scratch the dispatcher
// owns: the response slot, an opaque state map, the start time, and the
// aborted flag. Once Aborted is set no further downstream stage runs.
type Context struct {
	Req      *RequestContext
	Response *Response

	// Writer is the real ResponseWriter, available to the terminal stage
	// for protocol upgrades. Nil when the pipeline runs without one.
	Writer http.ResponseWriter

	// State is cross-stage scratch. It is never read outside the pipeline.
	State map[string]any

	Start    time.Time
	Aborted  bool
	Hijacked bool
}

// NewContext builds a Context for an incoming request.
func NewContext(r *http.Request) *Context {
	return &Context{
		Req: &RequestContext{
			Request:     r,
			Method:      r.Method,
			Path:        r.URL.Path,
			URL:         r.URL,
			TenantID:    DefaultTenant,
			RateHeaders: make(http.Header),
		},
		State: make(map[string]any),
		Start: time.Now(),
	}
}

type reqCtxKeyType struct{}

var reqCtxKey = reqCtxKeyType{}

// WithRequestContext attaches the pipeline's RequestContext to a context so
// route handlers can read the authenticated role and tenant.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, reqCtxKey, rc)
}

// RequestContextFrom returns the RequestContext attached by the dispatcher,
// or nil when the handler runs outside the pipeline.
func RequestContextFrom(ctx context.Context) *RequestContext {
	if rc, ok := ctx.Value(reqCtxKey).(*RequestContext); ok {
		return rc
	}
	return nil
}

// JSONResponse builds a Response with a JSON-encoded body.
func JSONResponse(status int, body any) *Response {
	data, _ := json.Marshal(body)
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	return &Response{Status: status, Header: h, Body: data}
}

// Abort sets the response and marks the context aborted so that no further
// downstream stage runs.
func (c *Context) Abort(resp *Response) {
	c.Response = resp
	c.Aborted = true
}

// WriteTo flushes the response (headers first, collected rate-limit headers
// included) to the given writer. A nil Response writes a bare 404.
func (c *Context) WriteTo(w http.ResponseWriter) {
	if c.Hijacked {
		// The connection left HTTP; there is nothing to write.
		return
	}
	resp := c.Response
	if resp == nil {
		resp = JSONResponse(http.StatusNotFound, map[string]string{"error": "not found"})
	}
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	for k, vs := range c.Req.RateHeaders {
		for _, v := range vs {
			w.Header().Set(k, v)
		}
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(resp.Body) > 0 && c.Req.Method != http.MethodHead {
		_, _ = w.Write(resp.Body)
	}
}
