// Package providers implements the LLM provider adapters and their shared
// registry. Each adapter speaks one upstream API (Anthropic, OpenAI, Ollama)
// behind a common Provider interface.
package providers

import (
	"context"
	"fmt"
	"sync"
)

// Provider is the contract every model backend implements.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
	Available(ctx context.Context) bool
	Info() Info
}

// Info describes a provider for the admin surface.
type Info struct {
	Name    string   `json:"name"`
	Local   bool     `json:"local"`
	BaseURL string   `json:"baseUrl,omitempty"`
	Models  []string `json:"models,omitempty"`
}

// CompletionRequest is a single inference request.
type CompletionRequest struct {
	Model       string
	Prompt      string
	System      string
	MaxTokens   int
	Temperature float64
}

// CompletionResponse is the result of a completion call.
type CompletionResponse struct {
	Text         string
	InputTokens  int
	OutputTokens int
	FinishReason string
}

func validateRequest(req *CompletionRequest) error {
	if req == nil {
		return &ValidationError{Field: "request", Reason: "missing"}
	}
	if req.Model == "" {
		return &ValidationError{Field: "model", Reason: "must not be empty"}
	}
	if req.Prompt == "" {
		return &ValidationError{Field: "prompt", Reason: "must not be empty"}
	}
	if req.MaxTokens < 0 {
		return &ValidationError{Field: "maxTokens", Reason: "must be non-negative"}
	}
	return nil
}

// Registry maps provider names to adapters. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds or replaces a provider under its own name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not found: %s", name)
	}
	return p, nil
}

// Has reports whether a provider is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[name]
	return ok
}

// List returns the registered provider names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
