package ratelimit

import (
	"net/http"
	"time"
)

// bucketKind discriminates the two global buckets per client.
type bucketKind string

const (
	bucketRead     bucketKind = "read"
	bucketMutation bucketKind = "mutation"
)

func kindForMethod(method string) bucketKind {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return bucketRead
	default:
		return bucketMutation
	}
}

// GlobalConfig configures the global sliding-window limiter.
type GlobalConfig struct {
	MaxGet      int
	MaxMutation int
	Window      time.Duration
}

// DefaultGlobalConfig returns the per-minute defaults.
func DefaultGlobalConfig() GlobalConfig {
	return GlobalConfig{MaxGet: 60, MaxMutation: 20, Window: time.Minute}
}

// GlobalLimiter maintains two sliding-window buckets (read and mutation) per
// client key.
type GlobalLimiter struct {
	cfg  GlobalConfig
	win  *windowStore
	now  Clock
	stop chan struct{}
}

// GlobalOption configures a GlobalLimiter.
type GlobalOption func(*GlobalLimiter)

// WithGlobalClock injects a clock for tests.
func WithGlobalClock(now Clock) GlobalOption {
	return func(l *GlobalLimiter) { l.now = now }
}

// NewGlobal creates the limiter and starts the stale-bucket sweeper.
func NewGlobal(cfg GlobalConfig, opts ...GlobalOption) *GlobalLimiter {
	l := &GlobalLimiter{
		cfg:  cfg,
		win:  newWindowStore(),
		now:  time.Now,
		stop: make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	go sweeper(l.win, l.now, cfg.Window, 5*time.Minute, l.stop)
	return l
}

// Stop terminates the background sweeper.
func (l *GlobalLimiter) Stop() { close(l.stop) }

// Check runs the sliding-window check for the client and method.
func (l *GlobalLimiter) Check(clientKey, method string) Result {
	kind := kindForMethod(method)
	limit := l.cfg.MaxMutation
	if kind == bucketRead {
		limit = l.cfg.MaxGet
	}
	return l.win.check(clientKey+"|"+string(kind), limit, l.cfg.Window, l.now())
}
