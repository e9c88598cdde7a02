// Package auth implements bearer-key authentication for the request
// pipeline: timing-safe key comparison, grace-period key rotation, the
// public-path set, and the startup key bootstrap.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"
)

// keyBytes is the entropy of a generated API key (256 bits).
const keyBytes = 32

// Config holds the authentication state. A nil/empty APIKey means the server
// is bound to localhost and runs without auth. Previous key + expiry support
// graceful rotation.
type Config struct {
	mu sync.RWMutex

	apiKey      string
	adminAPIKey string

	previousAPIKey    string
	previousKeyExpiry time.Time

	allowedOrigins []string
	bindHost       string

	now func() time.Time
}

// Option configures a Config.
type Option func(*Config)

// WithClock injects a clock for test determinism.
func WithClock(now func() time.Time) Option {
	return func(c *Config) { c.now = now }
}

// NewConfig creates the auth config. Empty apiKey disables auth entirely.
func NewConfig(apiKey, adminAPIKey, bindHost string, allowedOrigins []string, opts ...Option) *Config {
	c := &Config{
		apiKey:         apiKey,
		adminAPIKey:    adminAPIKey,
		bindHost:       bindHost,
		allowedOrigins: allowedOrigins,
		now:            time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Enabled reports whether key auth is configured.
func (c *Config) Enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey != ""
}

// AllowedOrigins returns the configured CORS allow-list.
func (c *Config) AllowedOrigins() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.allowedOrigins
}

// BindHost returns the configured bind host.
func (c *Config) BindHost() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bindHost
}

// ValidateKey checks a presented key against the current key, the previous
// key (while unexpired), and the admin key. It reports whether the key is
// valid and whether it grants the admin role.
func (c *Config) ValidateKey(presented string) (valid, admin bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.adminAPIKey != "" && TimingSafeEqual(presented, c.adminAPIKey) {
		return true, true
	}
	if c.apiKey != "" && TimingSafeEqual(presented, c.apiKey) {
		return true, false
	}
	if c.previousAPIKey != "" && c.now().Before(c.previousKeyExpiry) &&
		TimingSafeEqual(presented, c.previousAPIKey) {
		return true, false
	}
	return false, false
}

// RotateAPIKey atomically stashes the current key as the previous key with
// the given grace period, installs a freshly generated 256-bit key, and
// returns the new key.
func (c *Config) RotateAPIKey(grace time.Duration) (string, error) {
	newKey, err := GenerateKey()
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.previousAPIKey = c.apiKey
	c.previousKeyExpiry = c.now().Add(grace)
	c.apiKey = newKey
	return newKey, nil
}

// GenerateKey returns a random base64url key with 256 bits of entropy.
func GenerateKey() (string, error) {
	raw := make([]byte, keyBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// TimingSafeEqual compares two keys without leaking where they diverge. The
// byte compare runs across the shorter of the two strings, and the length
// XOR is mixed into the accumulator so unequal-length keys still do a full
// compare and still compare unequal.
func TimingSafeEqual(a, b string) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	diff := len(a) ^ len(b)
	for i := 0; i < n; i++ {
		diff |= int(a[i] ^ b[i])
	}
	return diff == 0
}

// publicPaths is the closed set of paths that bypass authentication.
var publicPaths = map[string]bool{
	"/api/health":                  true,
	"/.well-known/agent-card.json": true,
	"/api/tenants/register":        true,
}

// IsPublicPath reports whether the path bypasses auth regardless of whether
// an API key is configured.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
