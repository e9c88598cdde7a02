package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/CorvidLabs/corvid-agent/internal/metrics"
	"github.com/CorvidLabs/corvid-agent/internal/providers"
)

// ChainEntry is one (provider, model) candidate in a fallback chain.
type ChainEntry struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Result is a completion plus the chain entry that actually served it.
type Result struct {
	providers.CompletionResponse
	UsedProvider string
	UsedModel    string
}

// Manager walks fallback chains against the provider registry.
type Manager struct {
	registry *providers.Registry
	health   *HealthTracker
	logger   *slog.Logger
	m        *metrics.Registry
}

// NewManager builds a fallback manager. m may be nil.
func NewManager(registry *providers.Registry, health *HealthTracker, logger *slog.Logger, m *metrics.Registry) *Manager {
	return &Manager{registry: registry, health: health, logger: logger, m: m}
}

// Health exposes the tracker for the router's cooldown filter.
func (f *Manager) Health() *HealthTracker { return f.health }

// Complete tries each chain entry in order and returns the first success.
//
// Unregistered providers are skipped silently, cooling providers are
// skipped with a log line. Transient failures count against provider
// health; non-transient failures advance the chain without a health mark
// since they usually reflect the caller's input rather than the provider.
// Validation errors end the walk immediately: they would fail identically
// on every entry, so the typed error is returned for the caller to map to
// a 400.
func (f *Manager) Complete(ctx context.Context, req *providers.CompletionRequest, chain []ChainEntry) (*Result, error) {
	var attempts []string

	for i, entry := range chain {
		p, err := f.registry.Get(entry.Provider)
		if err != nil {
			continue
		}
		if !f.health.IsAvailable(entry.Provider) {
			f.logger.Info("skipping provider in cooldown",
				"provider", entry.Provider, "model", entry.Model)
			continue
		}

		attempt := *req
		attempt.Model = entry.Model

		resp, err := p.Complete(ctx, &attempt)
		if err == nil {
			f.health.MarkSuccess(entry.Provider)
			if f.m != nil {
				f.m.FallbackDepth.Observe(float64(i + 1))
			}
			return &Result{
				CompletionResponse: *resp,
				UsedProvider:       entry.Provider,
				UsedModel:          entry.Model,
			}, nil
		}

		// Bad caller input fails the same way on every entry; return the
		// typed error at once so the HTTP layer can answer 400.
		var verr *providers.ValidationError
		if errors.As(err, &verr) {
			return nil, verr
		}

		attempts = append(attempts, fmt.Sprintf("%s/%s: %s", entry.Provider, entry.Model, err.Error()))

		class := "permanent"
		if providers.IsTransient(err) {
			class = "transient"
			f.health.MarkFailure(entry.Provider)
		}
		if f.m != nil {
			f.m.ProviderFailures.WithLabelValues(entry.Provider, class).Inc()
		}
		f.logger.Warn("provider attempt failed",
			"provider", entry.Provider, "model", entry.Model,
			"class", class, "error", err)
	}

	return nil, fmt.Errorf("All providers in fallback chain failed:\n%s", strings.Join(attempts, "\n"))
}
