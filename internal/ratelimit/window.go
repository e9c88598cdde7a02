// Package ratelimit implements the two request limiters: a global
// sliding-window limiter keyed by client identity with read/mutation
// buckets, and a per-endpoint tiered limiter driven by a first-match rule
// list. Both share the sliding-window bucket store below.
package ratelimit

import (
	"sync"
	"time"
)

// Clock is injected for test determinism.
type Clock func() time.Time

// Result is the outcome of a limiter check, carrying everything the stage
// needs to emit the X-RateLimit-* headers.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Reset      time.Time     // when the window rolls
	RetryAfter time.Duration // populated only on rejection
}

// windowStore holds per-key sorted timestamp sequences. Timestamps are
// appended at the tail and pruned at the head; a single mutex guards the
// map so concurrent checks against the same key cannot corrupt it.
type windowStore struct {
	mu      sync.Mutex
	buckets map[string][]time.Time
}

func newWindowStore() *windowStore {
	return &windowStore{buckets: make(map[string][]time.Time)}
}

// check prunes expired timestamps for the key, then either records now and
// allows, or rejects with the retry hint. A non-positive limit always allows.
func (s *windowStore) check(key string, limit int, window time.Duration, now time.Time) Result {
	if limit <= 0 {
		return Result{Allowed: true, Limit: limit, Remaining: 0, Reset: now.Add(window)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.buckets[key]
	cutoff := now.Add(-window)
	for len(ts) > 0 && !ts[0].After(cutoff) {
		ts = ts[1:]
	}

	if len(ts) >= limit {
		s.buckets[key] = ts
		oldest := ts[0]
		retry := oldest.Add(window).Sub(now)
		if retry < time.Second {
			retry = time.Second
		}
		// Round up to whole seconds for the Retry-After header.
		retry = time.Duration((retry + time.Second - 1) / time.Second * time.Second)
		return Result{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			Reset:      oldest.Add(window),
			RetryAfter: retry,
		}
	}

	ts = append(ts, now)
	s.buckets[key] = ts

	reset := ts[0].Add(window)
	return Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - len(ts),
		Reset:     reset,
	}
}

// sweep drops buckets with no timestamp younger than maxWindow.
func (s *windowStore) sweep(now time.Time, maxWindow time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-maxWindow)
	for key, ts := range s.buckets {
		if len(ts) == 0 || !ts[len(ts)-1].After(cutoff) {
			delete(s.buckets, key)
		}
	}
}

// sweeper runs the stale-bucket sweep on a cadence until stop closes. The
// ticker goroutine does not keep the process alive.
func sweeper(s *windowStore, now Clock, maxWindow, cadence time.Duration, stop <-chan struct{}) {
	if cadence < 5*time.Minute {
		cadence = 5 * time.Minute
	}
	ticker := time.NewTicker(cadence)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep(now(), maxWindow)
		case <-stop:
			return
		}
	}
}
