// Package app wires configuration, storage, providers, and the request
// pipeline into a runnable server.
package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

var knownProviders = map[string]bool{"anthropic": true, "openai": true, "ollama": true}

// Config is the full environment-driven configuration.
type Config struct {
	BindHost string
	Port     int
	LogLevel string

	DBPath  string
	EnvPath string

	APIKey         string
	AdminAPIKey    string
	AllowedOrigins []string

	RateLimitGet      int    // per-minute read budget per client
	RateLimitMutation int    // per-minute mutation budget per client
	RateLimitRules    string // optional YAML file with per-endpoint rules

	PayloadCapBytes int64

	EnabledProviders []string
	AnthropicAPIKey  string
	OpenAIAPIKey     string
	CouncilModel     string

	OllamaHost           string
	OllamaMaxParallel    int // 0 means probe VRAM on first release
	OllamaNumGPU         int // -1 auto, 0 forces CPU weights
	OllamaNumCtx         int
	OllamaNumPredict     int
	OllamaNumBatch       int
	OllamaRequestTimeout time.Duration

	OTelEnabled  bool
	OTelEndpoint string

	StateTTL        time.Duration
	GitHubRepo      string
	GitHubBranch    string
	GitHubToken     string
	ServerHealthURL string
}

// LoadConfig reads the environment and validates the result.
func LoadConfig() (Config, error) {
	cfg := Config{
		BindHost: getEnv("BIND_HOST", "127.0.0.1"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DBPath:  getEnv("DB_PATH", "corvid-agent.db"),
		EnvPath: getEnv("ENV_PATH", ".env"),

		APIKey:         os.Getenv("API_KEY"),
		AdminAPIKey:    os.Getenv("ADMIN_API_KEY"),
		AllowedOrigins: getEnvStringSlice("ALLOWED_ORIGINS", nil),

		RateLimitGet:      getEnvInt("RATE_LIMIT_GET", 60),
		RateLimitMutation: getEnvInt("RATE_LIMIT_MUTATION", 20),
		RateLimitRules:    os.Getenv("RATE_LIMIT_RULES"),

		PayloadCapBytes: int64(getEnvInt("PAYLOAD_CAP_BYTES", 1<<20)),

		EnabledProviders: getEnvStringSlice("ENABLED_PROVIDERS", nil),
		AnthropicAPIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		CouncilModel:     os.Getenv("COUNCIL_MODEL"),

		OllamaHost:           getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OllamaMaxParallel:    getEnvInt("OLLAMA_MAX_PARALLEL", 0),
		OllamaNumGPU:         getEnvInt("OLLAMA_NUM_GPU", -1),
		OllamaNumCtx:         getEnvInt("OLLAMA_NUM_CTX", 0),
		OllamaNumPredict:     getEnvInt("OLLAMA_NUM_PREDICT", 0),
		OllamaNumBatch:       getEnvInt("OLLAMA_NUM_BATCH", 0),
		OllamaRequestTimeout: getEnvDuration("OLLAMA_REQUEST_TIMEOUT", 0),

		OTelEnabled:  getEnvBool("OTEL_ENABLED", false),
		OTelEndpoint: getEnv("OTEL_ENDPOINT", "localhost:4318"),

		StateTTL:        getEnvDuration("STATE_TTL", 60*time.Second),
		GitHubRepo:      os.Getenv("GITHUB_REPO"),
		GitHubBranch:    getEnv("GITHUB_BRANCH", "main"),
		GitHubToken:     os.Getenv("GITHUB_TOKEN"),
		ServerHealthURL: os.Getenv("SERVER_HEALTH_URL"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects obviously broken settings before any subsystem starts.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be in 1..65535, got %d", c.Port)
	}
	if c.RateLimitGet <= 0 {
		return fmt.Errorf("RATE_LIMIT_GET must be > 0, got %d", c.RateLimitGet)
	}
	if c.RateLimitMutation <= 0 {
		return fmt.Errorf("RATE_LIMIT_MUTATION must be > 0, got %d", c.RateLimitMutation)
	}
	if c.PayloadCapBytes <= 0 {
		return fmt.Errorf("PAYLOAD_CAP_BYTES must be > 0, got %d", c.PayloadCapBytes)
	}
	for _, p := range c.EnabledProviders {
		if !knownProviders[p] {
			return fmt.Errorf("ENABLED_PROVIDERS contains unknown provider %q", p)
		}
	}
	return nil
}

// ListenAddr joins the bind host and port.
func (c Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.BindHost, c.Port)
}

// ProviderEnabled applies the ENABLED_PROVIDERS filter; an empty filter
// enables everything.
func (c Config) ProviderEnabled(name string) bool {
	if len(c.EnabledProviders) == 0 {
		return true
	}
	for _, p := range c.EnabledProviders {
		if p == name {
			return true
		}
	}
	return false
}

// LocalOnly reports whether routing must stay on local models because no
// cloud credential is configured or the filter excludes the cloud providers.
func (c Config) LocalOnly() bool {
	anthropic := c.AnthropicAPIKey != "" && c.ProviderEnabled("anthropic")
	openai := c.OpenAIAPIKey != "" && c.ProviderEnabled("openai")
	return !anthropic && !openai
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		// Bare integers read as seconds.
		if i, err := strconv.Atoi(v); err == nil {
			return time.Duration(i) * time.Second
		}
	}
	return def
}

func getEnvStringSlice(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
