package router

import (
	"github.com/CorvidLabs/corvid-agent/internal/complexity"
	"github.com/CorvidLabs/corvid-agent/internal/fallback"
	"github.com/CorvidLabs/corvid-agent/internal/models"
)

// Named fallback chains, strongest entry first.
const (
	ChainHighCapability = "high-capability"
	ChainBalanced       = "balanced"
	ChainCostOptimized  = "cost-optimized"
	ChainLocal          = "local"
	ChainCloud          = "cloud"
)

var chains = map[string][]fallback.ChainEntry{
	ChainHighCapability: {
		{Provider: models.ProviderAnthropic, Model: "claude-opus-4"},
		{Provider: models.ProviderOpenAI, Model: "o3"},
		{Provider: models.ProviderAnthropic, Model: "claude-sonnet-4"},
	},
	ChainBalanced: {
		{Provider: models.ProviderAnthropic, Model: "claude-sonnet-4"},
		{Provider: models.ProviderOpenAI, Model: "gpt-4.1"},
		{Provider: models.ProviderOllama, Model: "llama3.1:70b"},
	},
	ChainCostOptimized: {
		{Provider: models.ProviderAnthropic, Model: "claude-haiku-3-5"},
		{Provider: models.ProviderOpenAI, Model: "gpt-4.1-mini"},
		{Provider: models.ProviderOllama, Model: "llama3.1:8b"},
	},
	ChainLocal: {
		{Provider: models.ProviderOllama, Model: "llama3.1:70b"},
		{Provider: models.ProviderOllama, Model: "llama3.1:8b"},
		{Provider: models.ProviderOllama, Model: "qwen2.5:7b"},
	},
	ChainCloud: {
		{Provider: models.ProviderAnthropic, Model: "claude-sonnet-4"},
		{Provider: models.ProviderOpenAI, Model: "gpt-4.1"},
	},
}

// Chain returns the entries of a named chain, or nil for unknown names.
func Chain(name string) []fallback.ChainEntry {
	return chains[name]
}

// ChainFor maps a complexity level to a chain name. In local-only mode
// every level routes to the local chain unless the caller asks for cloud.
func (r *Router) ChainFor(level complexity.Level, preferCloud bool) string {
	if r.localOnly {
		if preferCloud {
			return ChainCloud
		}
		return ChainLocal
	}
	switch level {
	case complexity.Expert:
		return ChainHighCapability
	case complexity.Complex:
		return ChainBalanced
	default:
		return ChainCostOptimized
	}
}
