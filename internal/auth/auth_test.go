package auth

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/CorvidLabs/corvid-agent/internal/pipeline"
)

func TestTimingSafeEqual(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"secret", "secret", true},
		{"secret", "secreT", false},
		{"secret", "secrets", false}, // unequal length must compare unequal
		{"", "", true},
		{"", "x", false},
		{"long-key-value-here", "long", false},
	}
	for _, tc := range cases {
		if got := TimingSafeEqual(tc.a, tc.b); got != tc.want {
			t.Errorf("TimingSafeEqual(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestValidateKeyRoles(t *testing.T) {
	cfg := NewConfig("user-key", "admin-key", "0.0.0.0", nil)

	if valid, admin := cfg.ValidateKey("admin-key"); !valid || !admin {
		t.Errorf("admin key: valid=%v admin=%v", valid, admin)
	}
	if valid, admin := cfg.ValidateKey("user-key"); !valid || admin {
		t.Errorf("user key: valid=%v admin=%v", valid, admin)
	}
	if valid, _ := cfg.ValidateKey("wrong"); valid {
		t.Error("wrong key accepted")
	}
}

func TestRotateKeepsPreviousDuringGrace(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	cfg := NewConfig("old-key", "", "0.0.0.0", nil, WithClock(func() time.Time { return now }))

	newKey, err := cfg.RotateAPIKey(time.Minute)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if newKey == "old-key" || newKey == "" {
		t.Fatalf("unexpected new key %q", newKey)
	}

	if valid, _ := cfg.ValidateKey(newKey); !valid {
		t.Error("new key rejected")
	}
	if valid, _ := cfg.ValidateKey("old-key"); !valid {
		t.Error("previous key rejected within grace period")
	}

	now = now.Add(2 * time.Minute)
	if valid, _ := cfg.ValidateKey("old-key"); valid {
		t.Error("previous key accepted after grace expiry")
	}
	if valid, _ := cfg.ValidateKey(newKey); !valid {
		t.Error("new key rejected after grace expiry")
	}
}

func TestGenerateKeyEntropy(t *testing.T) {
	a, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	b, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("two generated keys collided")
	}
	if len(a) < 40 { // 32 bytes base64url ≈ 43 chars
		t.Errorf("key too short: %d chars", len(a))
	}
}

func TestIsPublicPath(t *testing.T) {
	for _, p := range []string{"/api/health", "/.well-known/agent-card.json", "/api/tenants/register"} {
		if !IsPublicPath(p) {
			t.Errorf("%s should be public", p)
		}
	}
	for _, p := range []string{"/api/complete", "/api/admin/rotate-key", "/api/healthz"} {
		if IsPublicPath(p) {
			t.Errorf("%s should not be public", p)
		}
	}
}

func TestEnsureKeyLocalhostNoop(t *testing.T) {
	key, err := EnsureKey("", "127.0.0.1", filepath.Join(t.TempDir(), ".env"), slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "" {
		t.Errorf("localhost bind should not generate a key, got %q", key)
	}
}

func TestEnsureKeyGeneratesAndAppends(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	key, err := EnsureKey("", "0.0.0.0", envPath, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key == "" {
		t.Fatal("expected a generated key")
	}

	data, err := os.ReadFile(envPath)
	if err != nil {
		t.Fatalf("read .env: %v", err)
	}
	want := "API_KEY=" + key + "\n"
	if string(data) != want {
		t.Errorf(".env content = %q, want %q", data, want)
	}
}

func TestEnsureKeyRefusesExistingLine(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envPath, []byte("API_KEY=existing\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := EnsureKey("", "0.0.0.0", envPath, slog.New(slog.DiscardHandler))
	if err == nil {
		t.Fatal("expected refusal when .env already has API_KEY")
	}
}

func authPipeline(cfg *Config) (*pipeline.Pipeline, *bool) {
	p := pipeline.New(slog.New(slog.DiscardHandler))
	p.Use(Stage(cfg, nil, slog.New(slog.DiscardHandler)))
	reached := false
	p.Use(pipeline.Stage{Name: "h", Order: pipeline.OrderHandler, Handler: func(c *pipeline.Context, next func() error) error {
		reached = true
		c.Response = pipeline.JSONResponse(http.StatusOK, map[string]string{})
		return next()
	}})
	return p, &reached
}

func TestStageMissingHeader(t *testing.T) {
	p, reached := authPipeline(NewConfig("k", "", "0.0.0.0", nil))
	ctx := pipeline.NewContext(httptest.NewRequest("GET", "/api/complete", nil))
	p.Execute(ctx)
	if *reached {
		t.Error("handler reached without credentials")
	}
	if ctx.Response.Status != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", ctx.Response.Status)
	}
}

func TestStageWrongKey(t *testing.T) {
	p, _ := authPipeline(NewConfig("k", "", "0.0.0.0", nil))
	req := httptest.NewRequest("GET", "/api/complete", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	ctx := pipeline.NewContext(req)
	p.Execute(ctx)
	if ctx.Response.Status != http.StatusForbidden {
		t.Errorf("status = %d, want 403", ctx.Response.Status)
	}
}

func TestStageValidKeySetsRole(t *testing.T) {
	p, reached := authPipeline(NewConfig("k", "adm", "0.0.0.0", nil))
	req := httptest.NewRequest("GET", "/api/complete", nil)
	req.Header.Set("Authorization", "bearer adm") // scheme is case-insensitive
	ctx := pipeline.NewContext(req)
	p.Execute(ctx)
	if !*reached {
		t.Fatal("handler not reached with valid key")
	}
	if !ctx.Req.Authenticated || ctx.Req.Role != pipeline.RoleAdmin {
		t.Errorf("authenticated=%v role=%q", ctx.Req.Authenticated, ctx.Req.Role)
	}
}

func TestStagePublicPathBypasses(t *testing.T) {
	p, reached := authPipeline(NewConfig("k", "", "0.0.0.0", nil))
	ctx := pipeline.NewContext(httptest.NewRequest("GET", "/api/health", nil))
	p.Execute(ctx)
	if !*reached {
		t.Error("public path should bypass auth")
	}
}

func TestStageWebSocketQueryKey(t *testing.T) {
	p, reached := authPipeline(NewConfig("k", "", "0.0.0.0", nil))
	ctx := pipeline.NewContext(httptest.NewRequest("GET", "/ws?key=k", nil))
	p.Execute(ctx)
	if !*reached {
		t.Error("ws upgrade with query key should authenticate")
	}
	if ctx.Req.Role != pipeline.RoleUser {
		t.Errorf("role = %q, want user", ctx.Req.Role)
	}
}

func TestStageNoKeyConfiguredTrustsLocal(t *testing.T) {
	p, reached := authPipeline(NewConfig("", "", "127.0.0.1", nil))
	ctx := pipeline.NewContext(httptest.NewRequest("GET", "/api/admin/state", nil))
	p.Execute(ctx)
	if !*reached {
		t.Error("no-auth mode should pass requests through")
	}
	if ctx.Req.Role != pipeline.RoleAdmin {
		t.Errorf("local trusted mode should grant admin, got %q", ctx.Req.Role)
	}
}
