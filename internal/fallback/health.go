// Package fallback tries a chain of (provider, model) entries in order and
// tracks provider health so that repeatedly failing providers cool down
// instead of absorbing every retry.
package fallback

import (
	"sync"
	"time"
)

const (
	failureThreshold = 3
	baseCooldown     = 60 * time.Second
)

// Record is one provider's health state.
type Record struct {
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	Healthy             bool      `json:"healthy"`
	LastFailure         time.Time `json:"lastFailure,omitzero"`
}

// cooldownFor doubles with every consecutive failure past the threshold:
// 60s at 3 failures, 120s at 4, 240s at 5.
func cooldownFor(failures int) time.Duration {
	return baseCooldown << (failures - failureThreshold)
}

// HealthTracker holds per-provider failure records. Safe for concurrent use.
type HealthTracker struct {
	mu      sync.Mutex
	records map[string]*Record
	now     func() time.Time
}

// TrackerOption configures a HealthTracker.
type TrackerOption func(*HealthTracker)

// WithClock injects the time source used for cooldown arithmetic.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *HealthTracker) { t.now = now }
}

// NewHealthTracker returns a tracker with every provider implicitly healthy.
func NewHealthTracker(opts ...TrackerOption) *HealthTracker {
	t := &HealthTracker{
		records: make(map[string]*Record),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// MarkFailure records one transient failure. Crossing the threshold marks
// the provider unhealthy and starts a cooldown.
func (t *HealthTracker) MarkFailure(provider string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[provider]
	if !ok {
		rec = &Record{Healthy: true}
		t.records[provider] = rec
	}
	rec.ConsecutiveFailures++
	rec.LastFailure = t.now()
	if rec.ConsecutiveFailures >= failureThreshold {
		rec.Healthy = false
	}
}

// MarkSuccess resets the provider to healthy.
func (t *HealthTracker) MarkSuccess(provider string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[provider]
	if !ok {
		return
	}
	rec.ConsecutiveFailures = 0
	rec.Healthy = true
	rec.LastFailure = time.Time{}
}

// IsAvailable reports whether a provider may be tried. An expired cooldown
// resets the record to healthy as a side effect.
func (t *HealthTracker) IsAvailable(provider string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[provider]
	if !ok || rec.Healthy {
		return true
	}
	if t.now().Sub(rec.LastFailure) > cooldownFor(rec.ConsecutiveFailures) {
		rec.ConsecutiveFailures = 0
		rec.Healthy = true
		return true
	}
	return false
}

// Get returns a copy of a provider's record. ok is false when the provider
// has never failed.
func (t *HealthTracker) Get(provider string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[provider]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Snapshot copies all records for the admin surface.
func (t *HealthTracker) Snapshot() map[string]Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]Record, len(t.records))
	for name, rec := range t.records {
		out[name] = *rec
	}
	return out
}
