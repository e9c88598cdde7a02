package pipeline

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/CorvidLabs/corvid-agent/internal/metrics"
)

const (
	allowMethods = "GET, POST, PUT, DELETE, OPTIONS"
	allowHeaders = "Content-Type, Authorization"
)

// CORS returns the order-10 stage. With an empty allow-list every origin is
// allowed via "*"; with a configured list a matching Origin is echoed back
// with Vary: Origin, and a non-matching origin gets an empty allow-origin so
// the browser blocks the response. Preflight requests short-circuit with 204.
func CORS(allowedOrigins []string) Stage {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		o = strings.TrimSpace(o)
		if o != "" {
			allowed[o] = true
		}
	}

	apply := func(h http.Header, origin string) {
		switch {
		case len(allowed) == 0:
			h.Set("Access-Control-Allow-Origin", "*")
		case allowed[origin]:
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
		default:
			h.Set("Access-Control-Allow-Origin", "")
		}
		h.Set("Access-Control-Allow-Methods", allowMethods)
		h.Set("Access-Control-Allow-Headers", allowHeaders)
	}

	return Stage{Name: "cors", Order: OrderCORS, Handler: func(c *Context, next func() error) error {
		origin := c.Req.Request.Header.Get("Origin")

		if c.Req.Method == http.MethodOptions {
			resp := &Response{Status: http.StatusNoContent, Header: make(http.Header)}
			apply(resp.Header, origin)
			c.Abort(resp)
			return nil
		}

		err := next()

		// Upstream phase: reapply headers so they survive whatever the
		// downstream stages did to the response slot.
		if c.Response != nil {
			if c.Response.Header == nil {
				c.Response.Header = make(http.Header)
			}
			apply(c.Response.Header, origin)
		}
		return err
	}}
}

// RequestLog returns the order-20 stage: it emits a structured line with
// method, path, status, and duration on the upstream phase, and feeds the
// request counters. The metrics registry may be nil in tests.
func RequestLog(logger *slog.Logger, m *metrics.Registry) Stage {
	return Stage{Name: "request-log", Order: OrderRequestLog, Handler: func(c *Context, next func() error) error {
		err := next()

		status := 0
		if c.Response != nil {
			status = c.Response.Status
		}
		elapsed := time.Since(c.Start)

		logger.Info("http_request",
			slog.String("method", c.Req.Method),
			slog.String("path", c.Req.Path),
			slog.Int("status", status),
			slog.Duration("duration", elapsed),
			slog.String("tenant", c.Req.TenantID),
		)
		if m != nil {
			m.RequestsTotal.WithLabelValues(c.Req.Method, c.Req.Path, strconv.Itoa(status)).Inc()
			m.RequestLatency.WithLabelValues(c.Req.Method, c.Req.Path).Observe(float64(elapsed.Milliseconds()))
		}
		return err
	}}
}

// ErrorHandler returns the order-30 stage. It catches anything unhandled by
// downstream stages, returned errors and panics alike, logs the structured
// error info, and synthesizes a 500 only when no response was set. It never
// overwrites an existing response.
func ErrorHandler(logger *slog.Logger) Stage {
	return Stage{Name: "error-handler", Order: OrderErrorHandler, Handler: func(c *Context, next func() error) error {
		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("handler panic",
						slog.String("path", c.Req.Path),
						slog.Any("panic", r),
						slog.String("stack", string(debug.Stack())),
					)
					if c.Response == nil {
						c.Response = internalErrorResponse()
					}
				}
			}()
			err = next()
		}()

		if err != nil {
			logger.Error("unhandled request error",
				slog.String("path", c.Req.Path),
				slog.String("error", err.Error()),
			)
			if c.Response == nil {
				c.Response = internalErrorResponse()
			}
		}
		return nil
	}}
}

// PayloadCap returns the order-40 stage rejecting bodies whose declared
// Content-Length exceeds maxBytes with a 413. Zero maxBytes disables the cap.
func PayloadCap(maxBytes int64) Stage {
	return Stage{Name: "payload-cap", Order: OrderPayloadCap, Handler: func(c *Context, next func() error) error {
		if maxBytes > 0 && c.Req.Request.ContentLength > maxBytes {
			c.Abort(JSONResponse(http.StatusRequestEntityTooLarge, map[string]string{
				"error": "payload too large",
			}))
			return nil
		}
		return next()
	}}
}

// RoleGuard returns the order-120 stage: paths matching any admin prefix
// require role admin and otherwise get a 403.
func RoleGuard(adminPrefixes []string) Stage {
	return Stage{Name: "role-guard", Order: OrderRoleGuard, Handler: func(c *Context, next func() error) error {
		for _, prefix := range adminPrefixes {
			if strings.HasPrefix(c.Req.Path, prefix) && c.Req.Role != RoleAdmin {
				c.Abort(JSONResponse(http.StatusForbidden, map[string]string{
					"error": "admin role required",
				}))
				return nil
			}
		}
		return next()
	}}
}

// Mount returns the terminal stage (order 200) that dispatches into an
// http.Handler, in practice the chi mux holding the route handlers. The
// handler's output is captured into the pipeline's response slot so upstream
// stages can still decorate it.
func Mount(h http.Handler) Stage {
	return Stage{Name: "routes", Order: OrderHandler, Handler: func(c *Context, next func() error) error {
		if c.Response != nil {
			return next()
		}
		cw := &captureWriter{header: make(http.Header), status: http.StatusOK, real: c.Writer}
		h.ServeHTTP(cw, c.Req.Request.WithContext(WithRequestContext(c.Req.Request.Context(), c.Req)))
		if cw.hijacked {
			c.Hijacked = true
			c.Response = &Response{Status: http.StatusSwitchingProtocols, Header: cw.header}
			return next()
		}
		c.Response = &Response{Status: cw.status, Header: cw.header, Body: cw.body}
		return next()
	}}
}

// captureWriter buffers a handler's response for the pipeline. Protocol
// upgrades (websockets) hijack through to the real writer.
type captureWriter struct {
	header   http.Header
	status   int
	body     []byte
	wrote    bool
	real     http.ResponseWriter
	hijacked bool
}

func (w *captureWriter) Header() http.Header { return w.header }

func (w *captureWriter) WriteHeader(status int) {
	if !w.wrote {
		w.status = status
		w.wrote = true
	}
}

func (w *captureWriter) Write(p []byte) (int, error) {
	w.wrote = true
	w.body = append(w.body, p...)
	return len(p), nil
}

// Hijack delegates to the underlying writer so websocket upgrades work
// through the capture layer.
func (w *captureWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.real.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("pipeline: underlying writer does not support hijacking")
	}
	conn, rw, err := hj.Hijack()
	if err == nil {
		w.hijacked = true
	}
	return conn, rw, err
}

// Flush is a no-op until hijack; buffered responses flush at pipeline exit.
func (w *captureWriter) Flush() {}
