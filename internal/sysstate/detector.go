// Package sysstate probes the surrounding system (CI, server health, open
// incidents, disk) and turns the result into run/skip/boost decisions for
// scheduled actions.
package sysstate

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// State is one detected system condition.
type State string

const (
	StateHealthy        State = "healthy"
	StateCIBroken       State = "ci_broken"
	StateServerDegraded State = "server_degraded"
	StateP0Open         State = "p0_open"
	StateDiskPressure   State = "disk_pressure"
)

// DefaultTTL bounds how long a detection result is served from cache.
const DefaultTTL = 60 * time.Second

// Probe reports whether its condition is currently active, with a short
// human-readable detail for active conditions. Probes run concurrently; a
// probe error never affects the other signals.
type Probe func(ctx context.Context) (active bool, detail string, err error)

// Result is one detection pass. Details carries the per-state probe detail;
// Cached marks results served from the TTL cache.
type Result struct {
	States      []State          `json:"states"`
	Details     map[State]string `json:"details,omitempty"`
	EvaluatedAt time.Time        `json:"evaluatedAt"`
	Cached      bool             `json:"cached"`
}

// Detector aggregates probes behind a TTL cache.
type Detector struct {
	mu     sync.Mutex
	probes map[State]Probe
	ttl    time.Duration
	now    func() time.Time
	cached *Result
	logger *slog.Logger
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithTTL overrides the cache lifetime.
func WithTTL(ttl time.Duration) DetectorOption {
	return func(d *Detector) {
		if ttl > 0 {
			d.ttl = ttl
		}
	}
}

// WithClock injects the cache clock.
func WithClock(now func() time.Time) DetectorOption {
	return func(d *Detector) { d.now = now }
}

// WithProbe registers a probe for one state.
func WithProbe(state State, probe Probe) DetectorOption {
	return func(d *Detector) { d.probes[state] = probe }
}

// NewDetector builds a detector. Without probes it always reports healthy.
func NewDetector(logger *slog.Logger, opts ...DetectorOption) *Detector {
	d := &Detector{
		probes: make(map[State]Probe),
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect runs the probes and returns the active states with their details,
// serving from cache within the TTL (marked Cached). A system with no active
// states reports [healthy].
func (d *Detector) Detect(ctx context.Context) Result {
	d.mu.Lock()
	if d.cached != nil && d.now().Sub(d.cached.EvaluatedAt) < d.ttl {
		res := *d.cached
		res.Cached = true
		d.mu.Unlock()
		return res
	}
	probes := make(map[State]Probe, len(d.probes))
	for state, probe := range d.probes {
		probes[state] = probe
	}
	d.mu.Unlock()

	var (
		wg      sync.WaitGroup
		resMu   sync.Mutex
		active  []State
		details = make(map[State]string)
	)
	for state, probe := range probes {
		wg.Add(1)
		go func(state State, probe Probe) {
			defer wg.Done()
			on, detail, err := probe(ctx)
			if err != nil {
				d.logger.Debug("state probe failed", "state", string(state), "error", err)
				return
			}
			if on {
				resMu.Lock()
				active = append(active, state)
				details[state] = detail
				resMu.Unlock()
			}
		}(state, probe)
	}
	wg.Wait()

	if len(active) == 0 {
		active = []State{StateHealthy}
	}

	res := Result{States: active, Details: details, EvaluatedAt: d.now()}
	d.mu.Lock()
	d.cached = &res
	d.mu.Unlock()
	return res
}

// States returns just the active states from Detect.
func (d *Detector) States(ctx context.Context) []State {
	return d.Detect(ctx).States
}

// InvalidateCache drops the cached result so the next call re-probes.
func (d *Detector) InvalidateCache() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}
