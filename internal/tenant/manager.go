// Package tenant issues and validates per-tenant API keys. Keys are
// bcrypt-hashed at rest; a short TTL cache keeps bcrypt off the hot path.
package tenant

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/CorvidLabs/corvid-agent/internal/store"
)

const (
	keyPrefix    = "ca_"
	keyRandBytes = 32
	bcryptCost   = 10
	cacheTTL     = 5 * time.Minute

	// prefixLen is keyPrefix plus eight hex chars, enough to narrow the
	// lookup to a handful of candidate hashes.
	prefixLen = len(keyPrefix) + 8
)

// ErrInvalidKey is returned for unknown or disabled tenant keys.
var ErrInvalidKey = errors.New("invalid tenant key")

// Store is the persistence surface the manager needs.
type Store interface {
	CreateTenantKey(ctx context.Context, k store.TenantKeyRecord) error
	GetTenantKeysByPrefix(ctx context.Context, prefix string) ([]store.TenantKeyRecord, error)
	ListTenantKeys(ctx context.Context) ([]store.TenantKeyRecord, error)
	TouchTenantKey(ctx context.Context, id string, at time.Time) error
	DisableTenantKey(ctx context.Context, id string) error
}

// hashForBcrypt pre-hashes a key with SHA-256 to stay within bcrypt's
// 72-byte input limit.
func hashForBcrypt(key string) []byte {
	h := sha256.Sum256([]byte(key))
	return []byte(hex.EncodeToString(h[:]))
}

type cachedKey struct {
	record    store.TenantKeyRecord
	expiresAt time.Time
}

// Manager handles tenant key issue, validation, and revocation.
type Manager struct {
	store Store
	now   func() time.Time

	mu    sync.RWMutex
	cache map[string]cachedKey // plaintext key -> record
}

// NewManager builds a manager over the given store.
func NewManager(s Store) *Manager {
	return &Manager{
		store: s,
		now:   time.Now,
		cache: make(map[string]cachedKey),
	}
}

// Issue creates a key for a tenant and returns the plaintext exactly once.
func (m *Manager) Issue(ctx context.Context, tenantID string) (string, *store.TenantKeyRecord, error) {
	if tenantID == "" {
		return "", nil, errors.New("tenant id must not be empty")
	}

	raw := make([]byte, keyRandBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("generate random: %w", err)
	}
	plaintext := keyPrefix + hex.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword(hashForBcrypt(plaintext), bcryptCost)
	if err != nil {
		return "", nil, fmt.Errorf("bcrypt hash: %w", err)
	}

	rec := store.TenantKeyRecord{
		ID:        hex.EncodeToString(raw[:8]),
		TenantID:  tenantID,
		KeyHash:   string(hash),
		KeyPrefix: plaintext[:prefixLen],
		CreatedAt: m.now().UTC(),
		Enabled:   true,
	}
	if err := m.store.CreateTenantKey(ctx, rec); err != nil {
		return "", nil, fmt.Errorf("store tenant key: %w", err)
	}
	return plaintext, &rec, nil
}

// Validate resolves a plaintext key to its record.
func (m *Manager) Validate(ctx context.Context, key string) (*store.TenantKeyRecord, error) {
	if len(key) < prefixLen {
		return nil, ErrInvalidKey
	}

	m.mu.RLock()
	if cached, ok := m.cache[key]; ok && m.now().Before(cached.expiresAt) {
		rec := cached.record
		m.mu.RUnlock()
		return &rec, nil
	}
	m.mu.RUnlock()

	candidates, err := m.store.GetTenantKeysByPrefix(ctx, key[:prefixLen])
	if err != nil {
		return nil, fmt.Errorf("lookup tenant keys: %w", err)
	}

	for i := range candidates {
		rec := candidates[i]
		if bcrypt.CompareHashAndPassword([]byte(rec.KeyHash), hashForBcrypt(key)) != nil {
			continue
		}
		_ = m.store.TouchTenantKey(ctx, rec.ID, m.now())

		m.mu.Lock()
		m.cache[key] = cachedKey{record: rec, expiresAt: m.now().Add(cacheTTL)}
		m.mu.Unlock()
		return &rec, nil
	}
	return nil, ErrInvalidKey
}

// ValidateTenantKey adapts Validate to the auth stage's interface.
func (m *Manager) ValidateTenantKey(key string) (tenantID string, ok bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec, err := m.Validate(ctx, key)
	if err != nil {
		return "", false
	}
	return rec.TenantID, true
}

// Revoke disables a key and drops any cached entries for it.
func (m *Manager) Revoke(ctx context.Context, id string) error {
	if err := m.store.DisableTenantKey(ctx, id); err != nil {
		return fmt.Errorf("disable tenant key: %w", err)
	}
	m.mu.Lock()
	for key, cached := range m.cache {
		if cached.record.ID == id {
			delete(m.cache, key)
		}
	}
	m.mu.Unlock()
	return nil
}

// List returns every issued key record.
func (m *Manager) List(ctx context.Context) ([]store.TenantKeyRecord, error) {
	return m.store.ListTenantKeys(ctx)
}
