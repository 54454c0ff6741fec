package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/MikeSquared-Agency/Cover/internal/anomaly"
	"github.com/MikeSquared-Agency/Cover/internal/api"
	"github.com/MikeSquared-Agency/Cover/internal/backend"
	"github.com/MikeSquared-Agency/Cover/internal/broker"
	"github.com/MikeSquared-Agency/Cover/internal/config"
	"github.com/MikeSquared-Agency/Cover/internal/engine"
	"github.com/MikeSquared-Agency/Cover/internal/hermes"
	"github.com/MikeSquared-Agency/Cover/internal/metrics"
	"github.com/MikeSquared-Agency/Cover/internal/objective"
	"github.com/MikeSquared-Agency/Cover/internal/solver"
	"github.com/MikeSquared-Agency/Cover/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	envFile := flag.String("env-file", ".env", "path to .env file with backend credentials")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := config.LoadEnvFile(*envFile); err != nil {
		logger.Error("failed to load env file", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger = newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := store.NewPostgresStore(ctx, cfg.Database.URL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		logger.Error("failed to create schema", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	// Hermes (optional)
	var hermesClient hermes.Client
	if cfg.Hermes.URL != "" {
		hc, err := hermes.NewNATSClient(ctx, cfg.Hermes.URL, logger)
		if err != nil {
			logger.Warn("failed to connect to hermes, running without events", "error", err)
		} else {
			hermesClient = hermes.NewPublisher(hc, logger)
			defer hc.Close()
			logger.Info("connected to hermes")
		}
	}

	// Scheduling backend
	backendClient := backend.NewHTTPClient(cfg.Backend.URL, cfg.Backend.User, cfg.Backend.Password, cfg.BackendTimeout(), cfg.Backend.DistanceCutoff)

	// Abnormality model (optional unless required)
	scorer, err := anomaly.Open(cfg.Abnormality.ModelPath, cfg.Abnormality.Enabled, cfg.Abnormality.Required, logger)
	if err != nil {
		logger.Error("failed to load abnormality model", "error", err)
		os.Exit(1)
	}

	eng, err := engine.New(&solver.BranchAndBound{MaxNodes: cfg.Cycle.MaxNodes, RelativeGap: cfg.Cycle.RelativeGap}, scorer, engine.Options{
		Weights:          objective.Weights(cfg.Objective.Weights),
		Iterations:       cfg.Cycle.Iterations,
		Ratchet:          cfg.Cycle.Ratchet,
		PreserveCoverage: cfg.Cycle.PreserveCoverage,
		SolveTimeout:     cfg.SolveTimeout(),
	}, logger)
	if err != nil {
		logger.Error("failed to build engine", "error", err)
		os.Exit(1)
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Broker
	b := broker.New(db, hermesClient, backendClient, eng, m, cfg, logger)
	b.Start(ctx)
	defer b.Stop()
	b.SetupSubscriptions(ctx)
	logger.Info("broker started", "tick_interval", cfg.TickInterval())

	// API server
	router := api.NewRouter(db, b, cfg.Server.AdminToken, logger)
	apiServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Metrics server
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: api.NewMetricsRouter(reg, db),
	}

	go func() {
		logger.Info("API server starting", "port", cfg.Server.Port)
		if err := apiServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("API server error", "error", err)
		}
	}()

	go func() {
		logger.Info("metrics server starting", "port", cfg.Server.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = apiServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)

	logger.Info("shutdown complete")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
