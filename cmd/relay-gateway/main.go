package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/handyboss/relay-gateway/internal/config"
	"github.com/handyboss/relay-gateway/internal/events"
	"github.com/handyboss/relay-gateway/internal/health"
	"github.com/handyboss/relay-gateway/internal/langdetect"
	"github.com/handyboss/relay-gateway/internal/logging"
	"github.com/handyboss/relay-gateway/internal/nlu"
	"github.com/handyboss/relay-gateway/internal/relay"
	"github.com/handyboss/relay-gateway/internal/server"
	"github.com/handyboss/relay-gateway/internal/storage"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	logger := logging.WithComponent("main")
	logger.Info("Starting relay gateway", "version", version)

	// Load configuration; a missing file falls back to defaults plus
	// environment overrides so the gateway runs out of the box.
	cfg, err := config.Load(*configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Error("Failed to load config", "error", err)
			os.Exit(1)
		}
		logger.Info("No config file, using defaults", "path", *configPath)
		cfg = config.Default()
		if err := cfg.Validate(); err != nil {
			logger.Error("Invalid default config", "error", err)
			os.Exit(1)
		}
	}
	logging.SetLevel(cfg.Logging.Level)
	logger = logging.WithComponent("main")

	// Storage: SQLite when a path is configured, in-memory otherwise.
	var store storage.Store
	if cfg.Storage.Path != "" {
		store, err = storage.OpenSQLite(cfg.Storage.Path)
		if err != nil {
			logger.Error("Failed to open database", "path", cfg.Storage.Path, "error", err)
			os.Exit(1)
		}
		logger.Info("SQLite store opened", "path", cfg.Storage.Path)
	} else {
		store = storage.NewMemory()
		logger.Info("Using in-memory store")
	}
	defer store.Close()

	// Optional Redis event fan-out.
	pub, err := events.NewPublisher(cfg.Redis.Addr, logging.WithComponent("events"))
	if err != nil {
		logger.Warn("Redis unavailable, events disabled", "error", err)
		pub = nil
	} else if pub != nil {
		logger.Info("Event publisher connected", "addr", cfg.Redis.Addr)
		defer pub.Close()
	}

	detector := langdetect.New(langdetect.Language(cfg.Languages.Default))
	orch, providers := nlu.Build(cfg, detector, logging.WithComponent("nlu"))
	for name, up := range providers.Status() {
		logger.Info("Provider status", "provider", name, "available", up)
	}

	hub := relay.NewHub(cfg.Relay, logging.WithComponent("relay"))
	relay.NewProtocol(orch, store, pub, detector, cfg.Languages, hub, logging.WithComponent("relay"))

	svc, err := health.New(providers, store, hub, pub, cfg.Alerts.Schedule, logging.WithComponent("health"))
	if err != nil {
		logger.Error("Invalid alert schedule", "schedule", cfg.Alerts.Schedule, "error", err)
		os.Exit(1)
	}
	svc.Start()
	logger.Info("Background service started", "alert_schedule", cfg.Alerts.Schedule)

	srv := server.New(cfg, orch, providers, hub, detector, logging.WithComponent("server"))
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")
	svc.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Shutdown complete")
}
