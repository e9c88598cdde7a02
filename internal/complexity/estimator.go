// Package complexity classifies prompts so the router can pick a model
// tier that matches the work being asked for.
package complexity

import (
	"regexp"
	"strings"
)

// Level is the estimated difficulty of a prompt.
type Level string

const (
	Simple   Level = "simple"
	Moderate Level = "moderate"
	Complex  Level = "complex"
	Expert   Level = "expert"
)

// Signals are the raw measurements behind a classification, kept for
// logging and for capability filtering in the router.
type Signals struct {
	InputTokenEstimate int  `json:"inputTokenEstimate"`
	ComplexityKeywords int  `json:"complexityKeywords"`
	SimpleKeywords     int  `json:"simpleKeywords"`
	MultiStep          bool `json:"multiStep"`
	RequiresTools      bool `json:"requiresTools"`
	RequiresThinking   bool `json:"requiresThinking"`
}

// Estimate is the result of classifying one prompt.
type Estimate struct {
	Level   Level   `json:"level"`
	Signals Signals `json:"signals"`
}

var complexityKeywords = []string{
	"refactor", "architect", "redesign", "migrate", "optimize", "debug",
	"implement", "integrate", "analyze", "investigate", "benchmark",
	"security", "performance", "concurrent", "distributed", "algorithm",
	"tradeoff", "design a", "root cause",
}

var simpleKeywords = []string{
	"list", "show", "print", "display", "echo", "read", "get", "fetch",
	"what is", "where is", "rename", "count",
}

var toolKeywords = []string{"file", "code", "run", "execute", "create", "modify"}

var multiStepMarkers = []string{"then", "step", "first", "after that"}

var numberedItem = regexp.MustCompile(`\d\.`)

func countMatches(prompt string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(prompt, kw) {
			n++
		}
	}
	return n
}

func containsAny(prompt string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(prompt, kw) {
			return true
		}
	}
	return false
}

// EstimatePrompt classifies a prompt. It is a pure function of its input.
func EstimatePrompt(prompt string) Estimate {
	lower := strings.ToLower(prompt)

	s := Signals{
		InputTokenEstimate: (len(prompt) + 3) / 4,
		ComplexityKeywords: countMatches(lower, complexityKeywords),
		SimpleKeywords:     countMatches(lower, simpleKeywords),
	}
	s.MultiStep = containsAny(lower, multiStepMarkers) ||
		len(numberedItem.FindAllString(lower, 2)) >= 2
	s.RequiresTools = containsAny(lower, toolKeywords)
	s.RequiresThinking = s.ComplexityKeywords >= 3 || s.MultiStep ||
		len(prompt) > 2000 ||
		strings.Contains(lower, "reason") || strings.Contains(lower, "think")

	var level Level
	switch {
	case s.ComplexityKeywords >= 3 || (s.MultiStep && s.RequiresThinking):
		level = Expert
	case s.ComplexityKeywords >= 1 || s.MultiStep || len(prompt) > 1000:
		level = Complex
	case s.SimpleKeywords > s.ComplexityKeywords && len(prompt) < 200:
		level = Simple
	default:
		level = Moderate
	}

	return Estimate{Level: level, Signals: s}
}

// MinTier maps a level to the strongest capability tier the router may
// require. Lower tier numbers mean stronger models.
func MinTier(level Level) int {
	switch level {
	case Expert:
		return 1
	case Complex:
		return 2
	case Moderate:
		return 3
	default:
		return 4
	}
}
