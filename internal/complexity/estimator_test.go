package complexity

import (
	"strings"
	"testing"
)

func TestEstimateSimplePrompt(t *testing.T) {
	e := EstimatePrompt("list files")
	if e.Level != Simple {
		t.Errorf("level = %q, want simple", e.Level)
	}
	if !e.Signals.RequiresTools {
		t.Error("\"files\" should signal tool use")
	}
	if e.Signals.InputTokenEstimate != 3 {
		t.Errorf("token estimate = %d, want 3", e.Signals.InputTokenEstimate)
	}
}

func TestEstimateLoadedPrompt(t *testing.T) {
	e := EstimatePrompt("Refactor the authentication system, migrate to JWT, and optimize database queries")
	if e.Level != Complex && e.Level != Expert {
		t.Errorf("level = %q, want complex or expert", e.Level)
	}
	if e.Signals.ComplexityKeywords < 3 {
		t.Errorf("complexity keywords = %d, want >= 3", e.Signals.ComplexityKeywords)
	}
}

func TestEstimateLevels(t *testing.T) {
	tests := []struct {
		name   string
		prompt string
		want   Level
	}{
		{"empty", "", Moderate},
		{"plain question", "how does garbage collection work in go", Moderate},
		{"single keyword", "debug the flaky login test", Complex},
		{"multi step", "first build the image, then push it to the registry", Expert},
		{"numbered steps", "1. clone the repo 2. run the setup script", Expert},
		{"long prompt", strings.Repeat("describe the weather today ", 50), Complex},
		{"simple lookup", "show me the current config", Simple},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimatePrompt(tt.prompt).Level; got != tt.want {
				t.Errorf("EstimatePrompt(%q).Level = %q, want %q", tt.prompt, got, tt.want)
			}
		})
	}
}

func TestEstimateSignals(t *testing.T) {
	e := EstimatePrompt("think about why the cache misses, then reason through a fix")
	if !e.Signals.RequiresThinking {
		t.Error("requiresThinking = false")
	}
	if !e.Signals.MultiStep {
		t.Error("multiStep = false")
	}

	long := strings.Repeat("x", 2001)
	if !EstimatePrompt(long).Signals.RequiresThinking {
		t.Error("prompts over 2000 chars should require thinking")
	}
}

func TestMinTier(t *testing.T) {
	tiers := map[Level]int{Expert: 1, Complex: 2, Moderate: 3, Simple: 4}
	for level, want := range tiers {
		if got := MinTier(level); got != want {
			t.Errorf("MinTier(%s) = %d, want %d", level, got, want)
		}
	}
}
