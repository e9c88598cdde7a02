// Package router picks a model for each prompt: it classifies the prompt's
// complexity, filters the pricing table down to capable candidates, and
// returns the cheapest survivor.
package router

import (
	"log/slog"
	"sort"

	"github.com/CorvidLabs/corvid-agent/internal/complexity"
	"github.com/CorvidLabs/corvid-agent/internal/fallback"
	"github.com/CorvidLabs/corvid-agent/internal/models"
	"github.com/CorvidLabs/corvid-agent/internal/providers"
)

// Request carries the caller's routing constraints alongside the prompt.
type Request struct {
	Prompt string

	// Caller-forced capability requirements. Tool and thinking needs are
	// also inferred from the prompt itself.
	RequireTools     bool
	RequireThinking  bool
	RequestSubagents bool
	RequestWebSearch bool

	// MaxOutputPricePerMillion caps candidate output price when positive.
	MaxOutputPricePerMillion float64

	// PreferredProvider narrows candidates when it leaves at least one.
	PreferredProvider string

	// PreferCloud asks for a cloud chain even in local-only mode.
	PreferCloud bool
}

// Router selects models against the live registry and health state.
type Router struct {
	registry  *providers.Registry
	health    *fallback.HealthTracker
	localOnly bool
	logger    *slog.Logger
}

// New builds a router. localOnly restricts selection to the local backend.
func New(registry *providers.Registry, health *fallback.HealthTracker, localOnly bool, logger *slog.Logger) *Router {
	return &Router{registry: registry, health: health, localOnly: localOnly, logger: logger}
}

// LocalOnly reports whether cloud providers are out of reach.
func (r *Router) LocalOnly() bool { return r.localOnly }

// Select classifies the prompt and returns the cheapest model that can
// serve it, together with the complexity estimate.
func (r *Router) Select(req Request) (models.Pricing, complexity.Estimate) {
	est := complexity.EstimatePrompt(req.Prompt)
	maxTier := complexity.MinTier(est.Level)

	needTools := req.RequireTools || est.Signals.RequiresTools
	needThinking := req.RequireThinking || est.Signals.RequiresThinking

	var candidates []models.Pricing
	for _, m := range models.Table {
		if !r.registry.Has(m.Provider) || !r.health.IsAvailable(m.Provider) {
			continue
		}
		if m.Tier > maxTier {
			continue
		}
		if needTools && !m.SupportsTools {
			continue
		}
		if needThinking && !m.SupportsThinking {
			continue
		}
		if req.RequestSubagents && !m.SupportsSubagents {
			continue
		}
		if req.RequestWebSearch && !m.SupportsWebSearch {
			continue
		}
		if req.MaxOutputPricePerMillion > 0 && m.OutputPerMillion > req.MaxOutputPricePerMillion {
			continue
		}
		if r.localOnly && m.Provider != models.ProviderOllama {
			continue
		}
		candidates = append(candidates, m)
	}

	if req.PreferredProvider != "" {
		preferred := candidates[:0:0]
		for _, m := range candidates {
			if m.Provider == req.PreferredProvider {
				preferred = append(preferred, m)
			}
		}
		if len(preferred) > 0 {
			candidates = preferred
		}
	}

	if len(candidates) == 0 {
		m, ok := r.cheapestRegistered()
		if ok {
			r.logger.Warn("no model satisfies constraints, using cheapest registered",
				"level", est.Level, "model", m.ID)
			return m, est
		}
		r.logger.Warn("no providers registered, returning table default")
		return models.Table[0], est
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].OutputPerMillion < candidates[j].OutputPerMillion
	})
	return candidates[0], est
}

func (r *Router) cheapestRegistered() (models.Pricing, bool) {
	var best models.Pricing
	found := false
	for _, m := range models.Table {
		if !r.registry.Has(m.Provider) {
			continue
		}
		if !found || m.OutputPerMillion < best.OutputPerMillion {
			best = m
			found = true
		}
	}
	return best, found
}
