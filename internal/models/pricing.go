// Package models holds the compile-time model pricing table the router
// selects from: capability tiers, per-million-token prices, context limits,
// and feature flags per model.
package models

// Provider tags used throughout the dispatch core.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
)

// Pricing is one immutable row of the model table. Tier orders capability,
// 1 strongest. Prices are USD per million tokens.
type Pricing struct {
	ID          string
	Provider    string
	DisplayName string

	InputPerMillion  float64
	OutputPerMillion float64

	MaxContextTokens int
	MaxOutputTokens  int

	Tier int // 1..4

	SupportsTools     bool
	SupportsThinking  bool
	SupportsSubagents bool
	SupportsWebSearch bool
	Cloud             bool
}

// Table is the model catalogue. Model identifiers are unique.
var Table = []Pricing{
	{
		ID: "claude-opus-4", Provider: ProviderAnthropic, DisplayName: "Claude Opus 4",
		InputPerMillion: 15, OutputPerMillion: 75,
		MaxContextTokens: 200_000, MaxOutputTokens: 32_000,
		Tier:          1,
		SupportsTools: true, SupportsThinking: true, SupportsSubagents: true, SupportsWebSearch: true,
		Cloud: true,
	},
	{
		ID: "claude-sonnet-4", Provider: ProviderAnthropic, DisplayName: "Claude Sonnet 4",
		InputPerMillion: 3, OutputPerMillion: 15,
		MaxContextTokens: 200_000, MaxOutputTokens: 64_000,
		Tier:          2,
		SupportsTools: true, SupportsThinking: true, SupportsSubagents: true, SupportsWebSearch: true,
		Cloud: true,
	},
	{
		ID: "claude-haiku-3-5", Provider: ProviderAnthropic, DisplayName: "Claude Haiku 3.5",
		InputPerMillion: 0.8, OutputPerMillion: 4,
		MaxContextTokens: 200_000, MaxOutputTokens: 8_192,
		Tier:          3,
		SupportsTools: true,
		Cloud:         true,
	},
	{
		ID: "o3", Provider: ProviderOpenAI, DisplayName: "OpenAI o3",
		InputPerMillion: 10, OutputPerMillion: 40,
		MaxContextTokens: 200_000, MaxOutputTokens: 100_000,
		Tier:          1,
		SupportsTools: true, SupportsThinking: true,
		Cloud: true,
	},
	{
		ID: "gpt-4.1", Provider: ProviderOpenAI, DisplayName: "GPT-4.1",
		InputPerMillion: 2, OutputPerMillion: 8,
		MaxContextTokens: 1_000_000, MaxOutputTokens: 32_768,
		Tier:          2,
		SupportsTools: true,
		Cloud:         true,
	},
	{
		ID: "gpt-4.1-mini", Provider: ProviderOpenAI, DisplayName: "GPT-4.1 mini",
		InputPerMillion: 0.4, OutputPerMillion: 1.6,
		MaxContextTokens: 1_000_000, MaxOutputTokens: 32_768,
		Tier:          3,
		SupportsTools: true,
		Cloud:         true,
	},
	{
		ID: "gpt-4.1-nano", Provider: ProviderOpenAI, DisplayName: "GPT-4.1 nano",
		InputPerMillion: 0.1, OutputPerMillion: 0.4,
		MaxContextTokens: 1_000_000, MaxOutputTokens: 32_768,
		Tier:  4,
		Cloud: true,
	},
	{
		ID: "llama3.1:70b", Provider: ProviderOllama, DisplayName: "Llama 3.1 70B",
		MaxContextTokens: 128_000, MaxOutputTokens: 8_192,
		Tier:          2,
		SupportsTools: true, SupportsThinking: true,
	},
	{
		ID: "qwen2.5-coder:14b", Provider: ProviderOllama, DisplayName: "Qwen 2.5 Coder 14B",
		MaxContextTokens: 32_768, MaxOutputTokens: 8_192,
		Tier:          3,
		SupportsTools: true,
	},
	{
		ID: "llama3.1:8b", Provider: ProviderOllama, DisplayName: "Llama 3.1 8B",
		MaxContextTokens: 128_000, MaxOutputTokens: 8_192,
		Tier:          3,
		SupportsTools: true,
	},
	{
		ID: "qwen2.5:7b", Provider: ProviderOllama, DisplayName: "Qwen 2.5 7B",
		MaxContextTokens: 32_768, MaxOutputTokens: 8_192,
		Tier: 4,
	},
	{
		ID: "llama3.2:3b", Provider: ProviderOllama, DisplayName: "Llama 3.2 3B",
		MaxContextTokens: 128_000, MaxOutputTokens: 8_192,
		Tier: 4,
	},
}

var byID = func() map[string]Pricing {
	m := make(map[string]Pricing, len(Table))
	for _, p := range Table {
		m[p.ID] = p
	}
	return m
}()

// ByID looks up a pricing row by model identifier.
func ByID(id string) (Pricing, bool) {
	p, ok := byID[id]
	return p, ok
}

// EstimateCost returns the USD cost for the given token counts.
func EstimateCost(p Pricing, inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1_000_000*p.InputPerMillion +
		float64(outputTokens)/1_000_000*p.OutputPerMillion
}
