package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marketintel/dashboard-sync/internal/api"
	"github.com/marketintel/dashboard-sync/internal/config"
	"github.com/marketintel/dashboard-sync/internal/connection"
	"github.com/marketintel/dashboard-sync/internal/merge"
	"github.com/marketintel/dashboard-sync/internal/metrics"
	"github.com/marketintel/dashboard-sync/internal/model"
	"github.com/marketintel/dashboard-sync/internal/poller"
	"github.com/marketintel/dashboard-sync/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/syncd.local.yaml", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Set up structured logging
	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("starting syncd",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", cfg.Instance.ID,
		"config", *configPath,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	m := metrics.New()

	// Snapshot client (REST)
	snapClient := api.NewClient(
		cfg.Snapshot.BaseURL,
		api.WithLogger(logger),
		api.WithTimeout(cfg.Snapshot.Timeout),
		api.WithRetries(cfg.Snapshot.MaxRetries, time.Second),
	)

	// Merge coordinator: the single authoritative state holder
	coordinator := merge.New(m, logger)

	// Snapshot poller feeds the coordinator
	snapPoller := poller.New(poller.Config{
		Period:          cfg.Snapshot.Period,
		RefreshInterval: cfg.Snapshot.RefreshInterval,
		Timeout:         cfg.Snapshot.Timeout,
	}, snapClient, coordinator, m, logger)

	// An empty subscription list means everything the dashboard shows.
	subscriptions := cfg.Stream.Subscriptions
	if len(subscriptions) == 0 {
		subscriptions = model.AllTopics()
	}

	// Connection manager owns the stream
	mgrCfg := connection.ManagerConfig{
		URL:                  cfg.Stream.URL,
		ReconnectBaseDelay:   cfg.Stream.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.Stream.ReconnectMaxDelay,
		MaxReconnectAttempts: cfg.Stream.MaxReconnectAttempts,
		HeartbeatInterval:    cfg.Stream.HeartbeatInterval,
		HeartbeatTimeout:     cfg.Stream.HeartbeatTimeout,
		HeartbeatEnabled:     cfg.Stream.HeartbeatOn(),
		QueueEnabled:         cfg.Stream.QueueOn(),
		QueueLimit:           cfg.Stream.QueueLimit,
		WriteTimeout:         cfg.Stream.WriteTimeout,
		BufferSize:           cfg.Stream.BufferSize,
		InboundBufferSize:    cfg.Stream.BufferSize,
		Subscriptions:        subscriptions,
	}
	manager := connection.NewManager(mgrCfg, nil, m, logger)

	if err := manager.Start(ctx); err != nil {
		logger.Error("failed to start connection manager", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		manager.Stop(shutdownCtx)
	}()

	if err := snapPoller.Start(ctx); err != nil {
		logger.Error("failed to start snapshot poller", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		snapPoller.Stop(shutdownCtx)
	}()

	// Feed stream messages into the merge coordinator
	go func() {
		for msg := range manager.Inbound() {
			if err := coordinator.ApplyStream(msg); err != nil {
				logger.Warn("failed to apply stream message",
					"type", msg.Type,
					"error", err,
				)
			}
		}
	}()

	// Surface terminal connection errors
	go func() {
		for err := range manager.Errors() {
			logger.Error("stream connection gave up", "error", err)
		}
	}()

	manager.Connect()

	// Local HTTP surface: health, state, stats, metrics
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: newRouter(manager, coordinator, snapPoller, logger),
	}

	go func() {
		logger.Info("starting http server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	logger.Info("syncd running",
		"instance_id", cfg.Instance.ID,
		"stream_url", cfg.Stream.URL,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)

	logger.Info("syncd stopped")
}

// newRouter builds the read-only HTTP surface over the merged state and
// connection stats.
func newRouter(manager connection.Manager, coordinator *merge.Coordinator, snapPoller *poller.Poller, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		stats := manager.Stats()
		state := coordinator.State()

		status := "healthy"
		switch {
		case state == nil:
			status = "starting"
		case !stats.Connected:
			status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		if status == "starting" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status": status,
			"components": map[string]any{
				"stream": map[string]any{
					"connected": stats.Connected,
					"state":     stats.State,
					"attempts":  stats.Attempts,
					"queued":    stats.QueueDepth,
				},
				"snapshot": map[string]any{
					"has_state": state != nil,
				},
			},
		})
	})

	r.Get("/state", func(w http.ResponseWriter, req *http.Request) {
		state := coordinator.State()
		if state == nil {
			http.Error(w, "no snapshot received yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(state)
	})

	r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(manager.Stats())
	})

	// Switching the reporting period triggers an immediate snapshot refetch,
	// which wholesale-replaces the merged state.
	r.Put("/period/{id}", func(w http.ResponseWriter, req *http.Request) {
		period := chi.URLParam(req, "id")
		if period == "" {
			http.Error(w, "period is required", http.StatusBadRequest)
			return
		}
		snapPoller.SetPeriod(period)
		logger.Info("period switch requested", "period", period)
		w.WriteHeader(http.StatusAccepted)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
