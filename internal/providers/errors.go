package providers

import (
	"fmt"
	"strings"
)

// ValidationError reports a malformed completion request. Validation
// failures reflect caller input, so the fallback manager never counts
// them against provider health.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Reason)
}

// StatusError is a non-2xx response from an upstream API.
type StatusError struct {
	Provider string
	Status   int
	Message  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.Status, e.Message)
}

// transientMarkers are the substrings that classify a provider error as
// transient. Matching is case-insensitive over the full error message.
var transientMarkers = []string{
	"rate limit",
	"429",
	"503",
	"502",
	"timeout",
	"econnrefused",
	"fetch failed",
	"overloaded",
}

// IsTransient reports whether an error looks like a temporary provider
// condition (worth a cooldown) rather than a caller mistake.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
