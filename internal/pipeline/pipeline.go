// Package pipeline implements the ordered middleware onion that every
// incoming request passes through. Stages run downstream in ascending order
// (registration order breaks ties), then unwind upstream in strict LIFO.
package pipeline

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Reserved order bands for the built-in stages. Route handlers mount at
// OrderHandler or above.
const (
	OrderCORS          = 10
	OrderRequestLog    = 20
	OrderErrorHandler  = 30
	OrderPayloadCap    = 40
	OrderRateLimit     = 100
	OrderAuth          = 110
	OrderEndpointLimit = 115
	OrderRoleGuard     = 120
	OrderHandler       = 200
)

// Handler is a pipeline stage function. It may inspect and mutate the
// context, invoke next at most once, set the response, or mark the context
// aborted. Not calling next halts the downstream traversal; the upstream
// phase of already-entered stages still runs.
type Handler func(c *Context, next func() error) error

// Stage is a named, ordered middleware entry.
type Stage struct {
	Name    string
	Order   int
	Handler Handler
}

// Pipeline holds the registered stages and a cached composed dispatcher.
type Pipeline struct {
	logger *slog.Logger

	mu     sync.Mutex
	stages []Stage // registration order preserved for stable sort
	cached func(*Context) error
}

// New creates an empty pipeline.
func New(logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{logger: logger}
}

// Use registers a stage and invalidates the cached dispatcher.
func (p *Pipeline) Use(s Stage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stages = append(p.stages, s)
	p.cached = nil
}

// Remove deletes all stages with the given name and invalidates the cache.
func (p *Pipeline) Remove(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.stages[:0]
	for _, s := range p.stages {
		if s.Name != name {
			kept = append(kept, s)
		}
	}
	p.stages = kept
	p.cached = nil
}

// dispatcher returns the composed dispatcher, rebuilding it if stale.
func (p *Pipeline) dispatcher() func(*Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cached == nil {
		p.cached = Compose(p.stages)
	}
	return p.cached
}

// Compose stable-sorts the stages by order ascending (ties keep registration
// order) and returns a dispatcher over the resulting stack.
func Compose(stages []Stage) func(*Context) error {
	sorted := make([]Stage, len(stages))
	copy(sorted, stages)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	return func(c *Context) error {
		var dispatch func(i int) error
		dispatch = func(i int) error {
			if i >= len(sorted) {
				return nil
			}
			s := sorted[i]
			nextCalled := false
			next := func() error {
				if nextCalled {
					return fmt.Errorf("pipeline: next() called twice in stage %q", s.Name)
				}
				nextCalled = true
				if c.Aborted {
					// An aborting stage may still call next; treat it as
					// a short-circuit and begin unwinding immediately.
					return nil
				}
				return dispatch(i + 1)
			}
			return s.Handler(c, next)
		}
		return dispatch(0)
	}
}

// Execute runs the composed dispatcher against the context. Any failure that
// escapes every stage (including a panic) is logged, and a 500 response is
// synthesized only when no stage has set one.
func (p *Pipeline) Execute(c *Context) {
	d := p.dispatcher()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("pipeline panic: %v", r)
			}
		}()
		return d(c)
	}()

	if err != nil {
		p.logger.Error("pipeline failure",
			slog.String("method", c.Req.Method),
			slog.String("path", c.Req.Path),
			slog.String("error", err.Error()),
		)
		if c.Response == nil {
			c.Response = internalErrorResponse()
		}
	}
}

// ServeHTTP adapts the pipeline to net/http: it builds a fresh context,
// executes the stack, and writes the resulting response.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c := NewContext(r)
	c.Writer = w
	p.Execute(c)
	c.WriteTo(w)
}

func internalErrorResponse() *Response {
	return JSONResponse(http.StatusInternalServerError, map[string]any{
		"error":     "Internal server error",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
