// Package slots gates concurrent inference against the local-model backend.
// Each request carries a weight derived from the model's parameter size; the
// scheduler admits requests while the summed weight fits under maxWeight and
// queues the rest FIFO.
package slots

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/CorvidLabs/corvid-agent/internal/metrics"
)

// ErrAborted is returned when the caller's context fires while queued.
var ErrAborted = errors.New("slot acquisition aborted")

const (
	gib = int64(1) << 30

	// VRAM thresholds for raising maxWeight after the GPU probe.
	vramLarge = 40 * gib
	vramMid   = 10 * gib
)

// ProbeFunc reports the total VRAM bytes in use by loaded models, or an
// error when the backend cannot be reached.
type ProbeFunc func(ctx context.Context) (vramBytes int64, err error)

type waiter struct {
	weight int
	ready  chan struct{}
}

// Scheduler serializes local-model inference by weight. The zero value is
// not usable; construct with New.
type Scheduler struct {
	mu           sync.Mutex
	activeWeight int
	maxWeight    int
	queue        []*waiter

	probed   bool
	forceCPU bool
	probe    ProbeFunc

	logger *slog.Logger
	m      *metrics.Registry
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMaxWeight pins maxWeight to an explicit value, skipping the GPU
// probe. Non-positive values are ignored.
func WithMaxWeight(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxWeight = n
			s.probed = true
		}
	}
}

// WithProbe installs the GPU probe run once on the first slot release.
func WithProbe(fn ProbeFunc) Option {
	return func(s *Scheduler) { s.probe = fn }
}

// WithForceCPU keeps maxWeight at 1 regardless of probe results.
func WithForceCPU(force bool) Option {
	return func(s *Scheduler) { s.forceCPU = force }
}

// WithMetrics publishes queue depth and active weight gauges.
func WithMetrics(m *metrics.Registry) Option {
	return func(s *Scheduler) { s.m = m }
}

// New builds a scheduler. Without options it starts serial (maxWeight 1)
// and probes for a GPU on the first release.
func New(logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{maxWeight: 1, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	if s.forceCPU {
		s.maxWeight = 1
		s.probed = true
	}
	return s
}

var paramSize = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*b\b`)

// WeightFor derives a request weight from the parameter count embedded in
// the model name ("llama3.1:70b" weighs 3, "qwen2.5:7b" weighs 1).
// Unknown sizes weigh 1.
func WeightFor(model string) int {
	match := paramSize.FindStringSubmatch(normalize(model))
	if match == nil {
		return 1
	}
	billions, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 1
	}
	switch {
	case billions >= 14:
		return 3
	case billions >= 8:
		return 2
	default:
		return 1
	}
}

func normalize(model string) string {
	out := make([]byte, len(model))
	for i := 0; i < len(model); i++ {
		c := model[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// Acquire blocks until the request fits, then returns a release function.
// If ctx fires while queued, the waiter is removed and ErrAborted returned.
func (s *Scheduler) Acquire(ctx context.Context, model string) (release func(), err error) {
	weight := WeightFor(model)

	s.mu.Lock()
	if s.activeWeight == 0 || s.activeWeight+weight <= s.maxWeight {
		s.activeWeight += weight
		s.publishLocked()
		s.mu.Unlock()
		return s.releaseFunc(weight), nil
	}

	w := &waiter{weight: weight, ready: make(chan struct{})}
	s.queue = append(s.queue, w)
	s.publishLocked()
	s.mu.Unlock()

	select {
	case <-w.ready:
		return s.releaseFunc(weight), nil
	case <-ctx.Done():
		s.mu.Lock()
		removed := s.remove(w)
		s.publishLocked()
		s.mu.Unlock()
		if !removed {
			// Admitted between the context firing and the lock. The
			// caller is not going to run, so give the slot back.
			s.releaseFunc(weight)()
		}
		return nil, ErrAborted
	}
}

func (s *Scheduler) remove(w *waiter) bool {
	for i, queued := range s.queue {
		if queued == w {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Scheduler) releaseFunc(weight int) func() {
	var once sync.Once
	return func() {
		once.Do(func() { s.release(weight) })
	}
}

func (s *Scheduler) release(weight int) {
	s.maybeProbe()

	s.mu.Lock()
	s.activeWeight -= weight
	if s.activeWeight < 0 {
		s.activeWeight = 0
	}
	s.drainLocked()
	s.publishLocked()
	s.mu.Unlock()
}

// drainLocked admits queued waiters FIFO. The head is always admitted when
// nothing is active, so a lone oversized model still makes progress.
func (s *Scheduler) drainLocked() {
	for len(s.queue) > 0 {
		w := s.queue[0]
		if s.activeWeight != 0 && s.activeWeight+w.weight > s.maxWeight {
			return
		}
		s.activeWeight += w.weight
		s.queue = s.queue[1:]
		close(w.ready)
	}
}

// maybeProbe runs the one-shot GPU probe. Only the first release pays for
// it; the probe runs outside the scheduler lock.
func (s *Scheduler) maybeProbe() {
	s.mu.Lock()
	if s.probed || s.probe == nil {
		s.probed = true
		s.mu.Unlock()
		return
	}
	s.probed = true
	probe := s.probe
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	vram, err := probe(ctx)
	if err != nil {
		s.logger.Debug("gpu probe failed, staying serial", "error", err)
		return
	}

	max := 1
	switch {
	case vram > vramLarge:
		max = 8
	case vram >= vramMid:
		max = 5
	case vram > 0:
		max = 3
	}

	s.mu.Lock()
	s.maxWeight = max
	s.drainLocked()
	s.publishLocked()
	s.mu.Unlock()

	s.logger.Info("local slot limit set", "vram_bytes", vram, "max_weight", max)
}

func (s *Scheduler) publishLocked() {
	if s.m == nil {
		return
	}
	s.m.SlotQueueDepth.Set(float64(len(s.queue)))
	s.m.SlotActiveWeight.Set(float64(s.activeWeight))
}

// Snapshot reports current scheduler state for the admin surface.
func (s *Scheduler) Snapshot() (activeWeight, maxWeight, queued int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeWeight, s.maxWeight, len(s.queue)
}
