package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CorvidLabs/corvid-agent/internal/app"
)

// version is set at build time via -ldflags.
var version = "dev"

// runHealthCheck performs an HTTP health check against the given address.
// Used as the container HEALTHCHECK where no curl is available.
func runHealthCheck(addr string) error {
	resp, err := http.Get(fmt.Sprintf("http://%s/api/health", addr))
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	if len(os.Args) > 1 && os.Args[1] == "-healthcheck" {
		if err := runHealthCheck(cfg.ListenAddr()); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}

	srv, err := app.NewServer(cfg, version)
	if err != nil {
		log.Fatalf("server init error: %v", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		WriteTimeout:      30 * time.Minute, // local-model completions can run long
	}

	go func() {
		srv.Logger().Info("corvid-agent listening", "addr", cfg.ListenAddr(), "version", version)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen error: %v", err)
		}
	}()

	// Graceful shutdown: drain in-flight requests, then close resources.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	srv.Logger().Info("shutting down, draining in-flight requests")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		srv.Logger().Error("http shutdown error", "error", err)
	}
	if err := srv.Close(); err != nil {
		srv.Logger().Error("server close error", "error", err)
	}
	srv.Logger().Info("shutdown complete")
}
