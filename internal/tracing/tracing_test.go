package tracing

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(Config{Enabled: false})
	if err != nil {
		t.Fatalf("Setup(disabled) returned error: %v", err)
	}
	if shutdown == nil {
		t.Fatal("Setup(disabled) returned nil shutdown func")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown returned error: %v", err)
	}
}

func TestSetupEnabled(t *testing.T) {
	// Use a dummy endpoint; the exporter will fail to connect but
	// Setup should still succeed (batching is async).
	shutdown, err := Setup(Config{
		Enabled:     true,
		Endpoint:    "localhost:4318",
		ServiceName: "corvid-agent-test",
	})
	if err != nil {
		t.Fatalf("Setup(enabled) returned error: %v", err)
	}
	if shutdown == nil {
		t.Fatal("Setup(enabled) returned nil shutdown func")
	}
	// Shutdown should not block indefinitely even with no collector.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = shutdown(ctx)
}

func TestHTTPTransportDefaultsBase(t *testing.T) {
	rt := HTTPTransport(nil)
	if rt == nil {
		t.Fatal("expected non-nil RoundTripper")
	}
	if rt == http.DefaultTransport {
		t.Fatal("expected wrapped transport, got the default transport itself")
	}
}
