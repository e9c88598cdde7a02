package router

import (
	"context"
	"log/slog"
	"testing"

	"github.com/CorvidLabs/corvid-agent/internal/complexity"
	"github.com/CorvidLabs/corvid-agent/internal/fallback"
	"github.com/CorvidLabs/corvid-agent/internal/models"
	"github.com/CorvidLabs/corvid-agent/internal/providers"
)

type stubProvider struct{ name string }

func (s *stubProvider) Name() string { return s.name }
func (s *stubProvider) Complete(context.Context, *providers.CompletionRequest) (*providers.CompletionResponse, error) {
	return &providers.CompletionResponse{}, nil
}
func (s *stubProvider) Available(context.Context) bool { return true }
func (s *stubProvider) Info() providers.Info           { return providers.Info{Name: s.name} }

func testRouter(localOnly bool, names ...string) *Router {
	reg := providers.NewRegistry()
	for _, name := range names {
		reg.Register(&stubProvider{name: name})
	}
	return New(reg, fallback.NewHealthTracker(), localOnly, slog.New(slog.DiscardHandler))
}

func TestSimplePromptGetsCheaperModelThanComplex(t *testing.T) {
	r := testRouter(false, models.ProviderAnthropic, models.ProviderOpenAI)

	simple, est := r.Select(Request{Prompt: "list files"})
	if est.Level != complexity.Simple {
		t.Fatalf("level = %q, want simple", est.Level)
	}

	loaded, est := r.Select(Request{Prompt: "Refactor the authentication system, migrate to JWT, and optimize database queries"})
	if est.Level != complexity.Complex && est.Level != complexity.Expert {
		t.Fatalf("level = %q, want complex or expert", est.Level)
	}

	if simple.OutputPerMillion > loaded.OutputPerMillion {
		t.Errorf("simple prompt routed to %s ($%v) costlier than %s ($%v)",
			simple.ID, simple.OutputPerMillion, loaded.ID, loaded.OutputPerMillion)
	}
}

func TestSelectSkipsUnregisteredProviders(t *testing.T) {
	r := testRouter(false, models.ProviderOpenAI)
	m, _ := r.Select(Request{Prompt: "list files"})
	if m.Provider != models.ProviderOpenAI {
		t.Errorf("selected %s from unregistered provider %s", m.ID, m.Provider)
	}
}

func TestSelectSkipsCoolingProviders(t *testing.T) {
	r := testRouter(false, models.ProviderAnthropic, models.ProviderOpenAI)
	for i := 0; i < 3; i++ {
		r.health.MarkFailure(models.ProviderOpenAI)
	}

	m, _ := r.Select(Request{Prompt: "list files"})
	if m.Provider == models.ProviderOpenAI {
		t.Errorf("selected %s from cooling provider", m.ID)
	}
}

func TestLocalOnlyRestrictsToOllama(t *testing.T) {
	r := testRouter(true, models.ProviderAnthropic, models.ProviderOllama)
	m, _ := r.Select(Request{Prompt: "list files"})
	if m.Provider != models.ProviderOllama {
		t.Errorf("local-only selected %s/%s", m.Provider, m.ID)
	}
}

func TestPreferredProviderNarrowsWhenPossible(t *testing.T) {
	r := testRouter(false, models.ProviderAnthropic, models.ProviderOpenAI)

	m, _ := r.Select(Request{Prompt: "list files", PreferredProvider: models.ProviderAnthropic})
	if m.Provider != models.ProviderAnthropic {
		t.Errorf("preferred anthropic, got %s", m.Provider)
	}

	// A preference that matches nothing falls back to the full candidate set.
	m, _ = r.Select(Request{Prompt: "list files", PreferredProvider: models.ProviderOllama})
	if m.ID == "" {
		t.Error("unsatisfiable preference returned nothing")
	}
}

func TestPriceCapFilters(t *testing.T) {
	r := testRouter(false, models.ProviderAnthropic, models.ProviderOpenAI)
	m, _ := r.Select(Request{Prompt: "list files", MaxOutputPricePerMillion: 2})
	if m.OutputPerMillion > 2 {
		t.Errorf("selected %s at $%v over the $2 cap", m.ID, m.OutputPerMillion)
	}
}

func TestNoCandidateFallsBackToCheapestRegistered(t *testing.T) {
	// OpenAI models carry no web-search flag, so the constraint filters
	// everything out and the cheapest registered model wins.
	r := testRouter(false, models.ProviderOpenAI)
	m, _ := r.Select(Request{Prompt: "list files", RequestWebSearch: true})
	if m.Provider != models.ProviderOpenAI {
		t.Fatalf("fallback model from %s, want openai", m.Provider)
	}
	for _, row := range models.Table {
		if row.Provider == models.ProviderOpenAI && row.OutputPerMillion < m.OutputPerMillion {
			t.Errorf("fallback %s not cheapest (found %s)", m.ID, row.ID)
		}
	}
}

func TestThinkingRequirementFilters(t *testing.T) {
	r := testRouter(false, models.ProviderAnthropic, models.ProviderOpenAI)
	m, _ := r.Select(Request{Prompt: "list files", RequireThinking: true})
	if !m.SupportsThinking {
		t.Errorf("selected %s without thinking support", m.ID)
	}
}

func TestChainEntriesExistInPricingTable(t *testing.T) {
	for name, entries := range chains {
		if len(entries) == 0 {
			t.Errorf("chain %s is empty", name)
		}
		for _, e := range entries {
			m, ok := models.ByID(e.Model)
			if !ok {
				t.Errorf("chain %s references unknown model %s", name, e.Model)
				continue
			}
			if m.Provider != e.Provider {
				t.Errorf("chain %s pairs %s with %s, table says %s", name, e.Model, e.Provider, m.Provider)
			}
		}
	}
}

func TestChainFor(t *testing.T) {
	r := testRouter(false, models.ProviderAnthropic)
	tests := []struct {
		level complexity.Level
		want  string
	}{
		{complexity.Expert, ChainHighCapability},
		{complexity.Complex, ChainBalanced},
		{complexity.Moderate, ChainCostOptimized},
		{complexity.Simple, ChainCostOptimized},
	}
	for _, tt := range tests {
		if got := r.ChainFor(tt.level, false); got != tt.want {
			t.Errorf("ChainFor(%s) = %s, want %s", tt.level, got, tt.want)
		}
	}

	local := testRouter(true, models.ProviderOllama)
	if got := local.ChainFor(complexity.Expert, false); got != ChainLocal {
		t.Errorf("local-only ChainFor = %s, want %s", got, ChainLocal)
	}
	if got := local.ChainFor(complexity.Expert, true); got != ChainCloud {
		t.Errorf("local-only cloud preference = %s, want %s", got, ChainCloud)
	}
}
