package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/CorvidLabs/corvid-agent/internal/auth"
	"github.com/CorvidLabs/corvid-agent/internal/fallback"
	"github.com/CorvidLabs/corvid-agent/internal/httpapi"
	"github.com/CorvidLabs/corvid-agent/internal/logging"
	"github.com/CorvidLabs/corvid-agent/internal/metrics"
	"github.com/CorvidLabs/corvid-agent/internal/pipeline"
	"github.com/CorvidLabs/corvid-agent/internal/providers"
	"github.com/CorvidLabs/corvid-agent/internal/ratelimit"
	"github.com/CorvidLabs/corvid-agent/internal/router"
	"github.com/CorvidLabs/corvid-agent/internal/slots"
	"github.com/CorvidLabs/corvid-agent/internal/store"
	"github.com/CorvidLabs/corvid-agent/internal/sysstate"
	"github.com/CorvidLabs/corvid-agent/internal/tenant"
	"github.com/CorvidLabs/corvid-agent/internal/tracing"
)

// Server owns every subsystem and the assembled pipeline.
type Server struct {
	cfg    Config
	logger *slog.Logger

	store           *store.SQLiteStore
	globalLimiter   *ratelimit.GlobalLimiter
	endpointLimiter *ratelimit.EndpointLimiter
	pipeline        *pipeline.Pipeline
	tracingShutdown func(context.Context) error
}

// NewServer builds the full dependency graph from configuration.
func NewServer(cfg Config, version string) (*Server, error) {
	logger := logging.Setup(cfg.LogLevel)
	m := metrics.New()

	tracingShutdown, err := tracing.Setup(tracing.Config{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: "corvid-agent",
	})
	if err != nil {
		return nil, fmt.Errorf("tracing setup: %w", err)
	}

	db, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := db.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	tenants := tenant.NewManager(db)

	apiKey, err := auth.EnsureKey(cfg.APIKey, cfg.BindHost, cfg.EnvPath, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	authCfg := auth.NewConfig(apiKey, cfg.AdminAPIKey, cfg.BindHost, cfg.AllowedOrigins)

	registry := providers.NewRegistry()
	if cfg.AnthropicAPIKey != "" && cfg.ProviderEnabled("anthropic") {
		registry.Register(providers.NewAnthropic(cfg.AnthropicAPIKey))
	}
	if cfg.OpenAIAPIKey != "" && cfg.ProviderEnabled("openai") {
		registry.Register(providers.NewOpenAI(cfg.OpenAIAPIKey))
	}

	var sched *slots.Scheduler
	if cfg.ProviderEnabled("ollama") {
		// The scheduler probes VRAM through the Ollama client, which in
		// turn holds the scheduler; the closure breaks the cycle. The
		// probe cannot fire before the first completion releases a slot,
		// and by then the client exists.
		var ollama *providers.Ollama
		opts := []slots.Option{
			slots.WithMetrics(m),
			slots.WithProbe(func(ctx context.Context) (int64, error) {
				return ollama.VRAMBytes(ctx)
			}),
		}
		if cfg.OllamaMaxParallel > 0 {
			opts = append(opts, slots.WithMaxWeight(cfg.OllamaMaxParallel))
		}
		if cfg.OllamaNumGPU == 0 {
			opts = append(opts, slots.WithForceCPU(true))
		}
		sched = slots.New(logger, opts...)
		ollama = providers.NewOllama(providers.OllamaConfig{
			Host:           cfg.OllamaHost,
			NumCtx:         cfg.OllamaNumCtx,
			NumPredict:     cfg.OllamaNumPredict,
			NumBatch:       cfg.OllamaNumBatch,
			RequestTimeout: cfg.OllamaRequestTimeout,
		}, sched)
		registry.Register(ollama)
	}

	health := fallback.NewHealthTracker()
	fb := fallback.NewManager(registry, health, logger, m)
	rt := router.New(registry, health, cfg.LocalOnly(), logger)
	if cfg.LocalOnly() {
		logger.Info("no cloud credentials configured, routing local models only")
	}

	detectorOpts := []sysstate.DetectorOption{
		sysstate.WithTTL(cfg.StateTTL),
		sysstate.WithProbe(sysstate.StateDiskPressure, sysstate.DiskPressureProbe(".")),
	}
	if cfg.ServerHealthURL != "" {
		detectorOpts = append(detectorOpts,
			sysstate.WithProbe(sysstate.StateServerDegraded, sysstate.ServerHealthProbe(cfg.ServerHealthURL)))
	}
	if cfg.GitHubRepo != "" {
		detectorOpts = append(detectorOpts,
			sysstate.WithProbe(sysstate.StateCIBroken, sysstate.CIProbe(cfg.GitHubRepo, cfg.GitHubBranch, cfg.GitHubToken)),
			sysstate.WithProbe(sysstate.StateP0Open, sysstate.P0Probe(cfg.GitHubRepo, cfg.GitHubToken)))
	}
	detector := sysstate.NewDetector(logger, detectorOpts...)

	gl := ratelimit.NewGlobal(ratelimit.GlobalConfig{
		MaxGet:      cfg.RateLimitGet,
		MaxMutation: cfg.RateLimitMutation,
		Window:      time.Minute,
	})
	el, err := newEndpointLimiter(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	mux := chi.NewRouter()
	httpapi.MountRoutes(mux, httpapi.Dependencies{
		Logger:   logger,
		Metrics:  m,
		Auth:     authCfg,
		Tenants:  tenants,
		Registry: registry,
		Router:   rt,
		Fallback: fb,
		Slots:    sched,
		Detector: detector,
		Store:    db,
		Version:  version,

		CouncilModel: cfg.CouncilModel,
	})

	p := pipeline.New(logger)
	p.Use(pipeline.CORS(authCfg.AllowedOrigins()))
	p.Use(pipeline.RequestLog(logger, m))
	p.Use(pipeline.ErrorHandler(logger))
	p.Use(pipeline.PayloadCap(cfg.PayloadCapBytes))
	p.Use(ratelimit.GlobalStage(gl, ratelimit.DefaultExemptPaths, m))
	p.Use(auth.Stage(authCfg, tenants, logger))
	p.Use(ratelimit.EndpointStage(el, ratelimit.DefaultExemptPaths, m))
	p.Use(pipeline.RoleGuard([]string{"/api/admin", "/metrics"}))
	p.Use(pipeline.Mount(mux))

	return &Server{
		cfg:             cfg,
		logger:          logger,
		store:           db,
		globalLimiter:   gl,
		endpointLimiter: el,
		pipeline:        p,
		tracingShutdown: tracingShutdown,
	}, nil
}

func newEndpointLimiter(cfg Config) (*ratelimit.EndpointLimiter, error) {
	ecfg := ratelimit.EndpointConfig{
		Defaults: ratelimit.TierLimits{Public: 30, User: 120, Admin: 600},
		Window:   time.Minute,
	}
	if cfg.RateLimitRules != "" {
		data, err := os.ReadFile(cfg.RateLimitRules)
		if err != nil {
			return nil, fmt.Errorf("read rate-limit rules: %w", err)
		}
		rules, defaults, err := ratelimit.LoadRules(data)
		if err != nil {
			return nil, err
		}
		ecfg.Rules = rules
		if defaults != (ratelimit.TierLimits{}) {
			ecfg.Defaults = defaults
		}
	}
	return ratelimit.NewEndpoint(ecfg), nil
}

// Handler returns the pipeline as the server's HTTP entry point.
func (s *Server) Handler() http.Handler { return s.pipeline }

// Logger exposes the configured root logger for the process entry point.
func (s *Server) Logger() *slog.Logger { return s.logger }

// Close releases background resources. Safe after a completed Shutdown.
func (s *Server) Close() error {
	s.globalLimiter.Stop()
	s.endpointLimiter.Stop()
	if s.tracingShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.tracingShutdown(ctx); err != nil {
			s.logger.Warn("tracing shutdown failed", "error", err)
		}
	}
	return s.store.Close()
}
