package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/CorvidLabs/corvid-agent/internal/auth"
	"github.com/CorvidLabs/corvid-agent/internal/fallback"
	"github.com/CorvidLabs/corvid-agent/internal/models"
	"github.com/CorvidLabs/corvid-agent/internal/providers"
	"github.com/CorvidLabs/corvid-agent/internal/router"
	"github.com/CorvidLabs/corvid-agent/internal/store"
	"github.com/CorvidLabs/corvid-agent/internal/sysstate"
	"github.com/CorvidLabs/corvid-agent/internal/tenant"
)

type stubProvider struct {
	name  string
	local bool
	fn    func(ctx context.Context, req *providers.CompletionRequest) (*providers.CompletionResponse, error)
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Complete(ctx context.Context, req *providers.CompletionRequest) (*providers.CompletionResponse, error) {
	if s.fn != nil {
		return s.fn(ctx, req)
	}
	return &providers.CompletionResponse{Text: "ok from " + s.name, InputTokens: 10, OutputTokens: 20}, nil
}

func (s *stubProvider) Available(context.Context) bool { return true }

func (s *stubProvider) Info() providers.Info {
	return providers.Info{Name: s.name, Local: s.local}
}

func testDeps(t *testing.T, ps ...providers.Provider) Dependencies {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	registry := providers.NewRegistry()
	for _, p := range ps {
		registry.Register(p)
	}
	health := fallback.NewHealthTracker()
	return Dependencies{
		Logger:   logger,
		Registry: registry,
		Router:   router.New(registry, health, false, logger),
		Fallback: fallback.NewManager(registry, health, logger, nil),
		Detector: sysstate.NewDetector(logger),
		Version:  "test",
	}
}

func serve(t *testing.T, d Dependencies, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	mux := chi.NewRouter()
	MountRoutes(mux, d)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rr.Body.String())
	}
	return out
}

func TestHealthHandler(t *testing.T) {
	d := testDeps(t, &stubProvider{name: "anthropic"})
	rr := serve(t, d, http.MethodGet, "/api/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["status"] != "ok" || body["providers"] != float64(1) {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestHealthHandlerNoProviders(t *testing.T) {
	d := testDeps(t)
	rr := serve(t, d, http.MethodGet, "/api/health", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
	if body := decodeBody(t, rr); body["status"] != "unhealthy" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestAgentCardHandler(t *testing.T) {
	d := testDeps(t)
	rr := serve(t, d, http.MethodGet, "/.well-known/agent-card.json", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["name"] != "corvid-agent" {
		t.Fatalf("name = %v", body["name"])
	}
	if _, ok := body["capabilities"].(map[string]any); !ok {
		t.Fatalf("capabilities missing: %v", body)
	}
}

func TestCompleteHandlerPinned(t *testing.T) {
	d := testDeps(t, &stubProvider{name: "anthropic"})
	rr := serve(t, d, http.MethodPost, "/api/complete",
		`{"prompt":"hello","provider":"anthropic","model":"claude-sonnet-4"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["usedProvider"] != "anthropic" || body["usedModel"] != "claude-sonnet-4" {
		t.Fatalf("unexpected routing: %v", body)
	}
	if body["content"] != "ok from anthropic" {
		t.Fatalf("content = %v", body["content"])
	}
	pricing, ok := models.ByID("claude-sonnet-4")
	if !ok {
		t.Fatal("claude-sonnet-4 missing from pricing table")
	}
	want := models.EstimateCost(pricing, 10, 20)
	if got := body["costUsd"].(float64); got != want {
		t.Fatalf("costUsd = %v, want %v", got, want)
	}
}

func TestCompleteHandlerRouted(t *testing.T) {
	d := testDeps(t, &stubProvider{name: "openai"})
	rr := serve(t, d, http.MethodPost, "/api/complete", `{"prompt":"list files in the repo"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["usedProvider"] != "openai" {
		t.Fatalf("usedProvider = %v", body["usedProvider"])
	}
	if body["complexity"] != "simple" {
		t.Fatalf("complexity = %v", body["complexity"])
	}
}

func TestCompleteHandlerCouncilOverride(t *testing.T) {
	d := testDeps(t, &stubProvider{name: "anthropic"})
	d.CouncilModel = "claude-opus-4"

	rr := serve(t, d, http.MethodPost, "/api/complete", `{"prompt":"hi","agentRole":"council"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if body := decodeBody(t, rr); body["usedModel"] != "claude-opus-4" {
		t.Fatalf("usedModel = %v", body["usedModel"])
	}

	// Other roles still route normally.
	rr = serve(t, d, http.MethodPost, "/api/complete", `{"prompt":"list files"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if body := decodeBody(t, rr); body["usedModel"] == "claude-opus-4" {
		t.Fatalf("council override leaked into routed traffic: %v", body)
	}
}

func TestCompleteHandlerBadRequests(t *testing.T) {
	d := testDeps(t, &stubProvider{name: "anthropic"})

	if rr := serve(t, d, http.MethodPost, "/api/complete", `{not json`); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad json status = %d", rr.Code)
	}
	if rr := serve(t, d, http.MethodPost, "/api/complete", `{"prompt":""}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("empty prompt status = %d", rr.Code)
	}
}

func TestCompleteHandlerAllFail(t *testing.T) {
	failing := &stubProvider{
		name: "anthropic",
		fn: func(context.Context, *providers.CompletionRequest) (*providers.CompletionResponse, error) {
			return nil, &providers.StatusError{Provider: "anthropic", Status: 500, Message: "boom"}
		},
	}
	d := testDeps(t, failing)
	rr := serve(t, d, http.MethodPost, "/api/complete",
		`{"prompt":"hi","provider":"anthropic","model":"claude-sonnet-4"}`)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rr.Code)
	}
	if body := decodeBody(t, rr); !strings.Contains(body["error"].(string), "fallback chain failed") {
		t.Fatalf("error = %v", body["error"])
	}
}

func TestSchedulesValidateHandler(t *testing.T) {
	d := testDeps(t)

	rr := serve(t, d, http.MethodPost, "/api/schedules/validate", `{"cron":"0 9 * * 1"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["valid"] != true {
		t.Fatalf("valid = %v", body["valid"])
	}
	if _, ok := body["nextFire"].(string); !ok {
		t.Fatalf("nextFire missing: %v", body)
	}

	rr = serve(t, d, http.MethodPost, "/api/schedules/validate", `{"intervalMs":60000}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("short interval status = %d", rr.Code)
	}
	body = decodeBody(t, rr)
	if body["valid"] != false || !strings.Contains(body["error"].(string), "too short") {
		t.Fatalf("unexpected body: %v", body)
	}

	rr = serve(t, d, http.MethodPost, "/api/schedules/validate", `{"cron":"* * * * *"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("dense cron status = %d", rr.Code)
	}
	body = decodeBody(t, rr)
	if !strings.Contains(body["error"].(string), "fires every") {
		t.Fatalf("error = %v", body["error"])
	}

	if rr := serve(t, d, http.MethodPost, "/api/schedules/validate", `{}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("empty body status = %d", rr.Code)
	}
}

func TestSchedulesEvaluateHandler(t *testing.T) {
	d := testDeps(t) // detector with no probes reports healthy
	rr := serve(t, d, http.MethodPost, "/api/schedules/evaluate", `{"actionType":"implement_feature"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["category"] != "feature_work" || body["decision"] != "run" {
		t.Fatalf("unexpected evaluation: %v", body)
	}

	if rr := serve(t, d, http.MethodPost, "/api/schedules/evaluate", `{}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("missing actionType status = %d", rr.Code)
	}
}

func TestAdminProvidersHandler(t *testing.T) {
	d := testDeps(t, &stubProvider{name: "ollama", local: true})
	rr := serve(t, d, http.MethodGet, "/api/admin/providers", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	list := body["providers"].([]any)
	if len(list) != 1 {
		t.Fatalf("providers = %v", list)
	}
	entry := list[0].(map[string]any)
	if entry["name"] != "ollama" || entry["local"] != true || entry["healthy"] != true {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestAdminStateHandlers(t *testing.T) {
	d := testDeps(t)
	rr := serve(t, d, http.MethodGet, "/api/admin/state", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	states := body["states"].([]any)
	if len(states) != 1 || states[0] != "healthy" {
		t.Fatalf("states = %v", states)
	}
	if _, ok := body["slots"].(map[string]any); !ok {
		t.Fatalf("slots missing: %v", body)
	}
	if body["cached"] != false {
		t.Fatalf("cached = %v on first evaluation", body["cached"])
	}
	if _, ok := body["evaluatedAt"].(string); !ok {
		t.Fatalf("evaluatedAt missing: %v", body)
	}

	rr = serve(t, d, http.MethodGet, "/api/admin/state", "")
	if body := decodeBody(t, rr); body["cached"] != true {
		t.Fatalf("cached = %v on repeat call within TTL", body["cached"])
	}

	if rr := serve(t, d, http.MethodPost, "/api/admin/state/invalidate", ""); rr.Code != http.StatusOK {
		t.Fatalf("invalidate status = %d", rr.Code)
	}
}

func TestAdminRotateKeyHandler(t *testing.T) {
	d := testDeps(t)
	d.Auth = auth.NewConfig("old-key-value-1234", "", "127.0.0.1", nil)

	rr := serve(t, d, http.MethodPost, "/api/admin/rotate-key", `{"graceSeconds":60}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	newKey, _ := body["apiKey"].(string)
	if newKey == "" || newKey == "old-key-value-1234" {
		t.Fatalf("apiKey = %q", newKey)
	}
	if body["graceSeconds"] != float64(60) {
		t.Fatalf("graceSeconds = %v", body["graceSeconds"])
	}
	if valid, _ := d.Auth.ValidateKey(newKey); !valid {
		t.Fatal("new key should validate")
	}
	if valid, _ := d.Auth.ValidateKey("old-key-value-1234"); !valid {
		t.Fatal("old key should validate during the grace window")
	}
}

func TestTenantLifecycleHandlers(t *testing.T) {
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	d := testDeps(t)
	d.Tenants = tenant.NewManager(s)
	d.Store = s

	rr := serve(t, d, http.MethodPost, "/api/tenants/register", `{"tenantId":"acme"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	apiKey, _ := body["apiKey"].(string)
	keyID, _ := body["keyId"].(string)
	if !strings.HasPrefix(apiKey, "ca_") || keyID == "" {
		t.Fatalf("unexpected register body: %v", body)
	}

	rr = serve(t, d, http.MethodGet, "/api/admin/tenants", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d", rr.Code)
	}
	list := decodeBody(t, rr)["tenantKeys"].([]any)
	if len(list) != 1 {
		t.Fatalf("tenantKeys = %v", list)
	}
	entry := list[0].(map[string]any)
	if entry["tenantId"] != "acme" || entry["enabled"] != true {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if _, leaked := entry["keyHash"]; leaked {
		t.Fatal("key hash must not appear in the admin listing")
	}

	rr = serve(t, d, http.MethodDelete, "/api/admin/tenants/"+keyID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("revoke status = %d", rr.Code)
	}
	if _, ok := d.Tenants.ValidateTenantKey(apiKey); ok {
		t.Fatal("revoked key should no longer validate")
	}
}

func TestTenantRegisterHandlerValidation(t *testing.T) {
	d := testDeps(t)
	if rr := serve(t, d, http.MethodPost, "/api/tenants/register", `{"tenantId":"x"}`); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("nil manager status = %d", rr.Code)
	}

	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	d.Tenants = tenant.NewManager(s)

	for _, id := range []string{"", "X", "a", "-bad", "has space"} {
		body, _ := json.Marshal(map[string]string{"tenantId": id})
		if rr := serve(t, d, http.MethodPost, "/api/tenants/register", string(body)); rr.Code != http.StatusBadRequest {
			t.Errorf("tenantId %q: status = %d, want 400", id, rr.Code)
		}
	}
}

func TestAdminCompletionsHandler(t *testing.T) {
	d := testDeps(t)
	if rr := serve(t, d, http.MethodGet, "/api/admin/completions", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("nil store status = %d", rr.Code)
	}

	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	d.Store = s
	d.Tenants = tenant.NewManager(s)
	d.Registry.Register(&stubProvider{name: "anthropic"})

	rr := serve(t, d, http.MethodPost, "/api/complete",
		`{"prompt":"hello","provider":"anthropic","model":"claude-sonnet-4"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("complete status = %d", rr.Code)
	}

	rr = serve(t, d, http.MethodGet, "/api/admin/completions?limit=10", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("completions status = %d", rr.Code)
	}
	list := decodeBody(t, rr)["completions"].([]any)
	if len(list) != 1 {
		t.Fatalf("completions = %v", list)
	}
	entry := list[0].(map[string]any)
	if entry["model"] != "claude-sonnet-4" || entry["status"] != "ok" {
		t.Fatalf("unexpected log entry: %v", entry)
	}
}
