package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/storefront-engine/api"
	"github.com/angelmondragon/storefront-engine/api/routes"
	"github.com/angelmondragon/storefront-engine/internal/storefront"
	"github.com/angelmondragon/storefront-engine/pkg/config"
	"github.com/angelmondragon/storefront-engine/pkg/logger"
	"github.com/angelmondragon/storefront-engine/pkg/medusa"
	"github.com/angelmondragon/storefront-engine/pkg/metrics"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		registerer prometheus.Registerer
		gatherer   prometheus.Gatherer
	)
	if cfg.FeatureFlags.Metrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		registerer, gatherer = reg, reg
	}
	opMetrics := metrics.NewOperationMetrics(registerer)

	stack, err := buildStateStack(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap state backend", err)
		os.Exit(1)
	}
	defer stack.Close(context.Background(), logg)

	client, err := medusa.NewClient(cfg.Medusa.BaseURL, cfg.Medusa.PublishableKey,
		medusa.WithTimeout(cfg.Medusa.RequestTimeout),
		medusa.WithRateLimit(cfg.Medusa.RateLimitRPS, cfg.Medusa.RateLimitBurst),
		medusa.WithObserver(opMetrics),
	)
	if err != nil {
		logg.Error(ctx, "failed to create commerce client", err)
		os.Exit(1)
	}
	if err := waitForBackend(ctx, client, logg); err != nil {
		logg.Error(ctx, "commerce backend unreachable", err)
		os.Exit(1)
	}

	registry, err := storefront.NewRegistry(storefront.Dependencies{
		Client:         client,
		Backend:        stack.backend,
		DefaultCountry: cfg.Storefront.DefaultCountry,
		Logger:         logg,
		Metrics:        opMetrics,
	}, cfg.Storefront.SessionCacheSize)
	if err != nil {
		logg.Error(ctx, "failed to create session registry", err)
		os.Exit(1)
	}
	defer registry.Close()

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx = logg.WithFields(ctx, map[string]any{
		"env":          cfg.App.Env,
		"addr":         addr,
		"instance":     id,
		"state_driver": cfg.Storefront.Driver(),
	})
	logg.Info(ctx, "starting api server")

	handler := routes.NewRouter(cfg, logg, registry, stack.attempts, stack.replays, gatherer, stack.readiness)
	if err := api.NewServer(addr, handler, cfg.HTTP, logg).Run(ctx); err != nil {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
