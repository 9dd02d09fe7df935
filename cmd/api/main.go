package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/warehouse-allocator/api/routes"
	"github.com/angelmondragon/warehouse-allocator/internal/allocation"
	"github.com/angelmondragon/warehouse-allocator/internal/clients"
	"github.com/angelmondragon/warehouse-allocator/internal/inventory"
	"github.com/angelmondragon/warehouse-allocator/internal/orders"
	"github.com/angelmondragon/warehouse-allocator/internal/reoptimization"
	"github.com/angelmondragon/warehouse-allocator/pkg/config"
	"github.com/angelmondragon/warehouse-allocator/pkg/db"
	"github.com/angelmondragon/warehouse-allocator/pkg/logger"
	"github.com/angelmondragon/warehouse-allocator/pkg/metrics"
	"github.com/angelmondragon/warehouse-allocator/pkg/migrate"
	"github.com/angelmondragon/warehouse-allocator/pkg/outbox"
	"github.com/angelmondragon/warehouse-allocator/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

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

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.FeatureFlags.UseSQLite && !cfg.Redis.Configured() {
		logg.Warn(context.Background(), "redis not configured; idempotency and rate limiting disabled")
	} else {
		redisClient, err = redis.New(context.Background(), cfg.Redis, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	allocationMetrics := metrics.NewAllocationMetrics(registry)

	stockRepo := inventory.NewRepository(dbClient.DB())
	orderRepo := orders.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	engine, err := allocation.NewEngine(allocation.EngineParams{
		Stock:   stockRepo,
		Orders:  orderRepo,
		Metrics: allocationMetrics,
		Logger:  logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create allocation engine", err)
		os.Exit(1)
	}
	allocator, err := allocation.NewAllocator(dbClient, orderRepo, engine)
	if err != nil {
		logg.Error(context.Background(), "failed to create allocator", err)
		os.Exit(1)
	}

	reoptimizer, err := reoptimization.NewService(reoptimization.ServiceParams{
		Orders:     orderRepo,
		Allocator:  allocator,
		Outbox:     outboxService,
		Metrics:    allocationMetrics,
		Logger:     logg,
		BatchLimit: cfg.Allocation.ReoptimizeBatchLimit,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reoptimization service", err)
		os.Exit(1)
	}

	orderService, err := orders.NewService(orders.ServiceParams{
		Repository:         orderRepo,
		Stock:              stockRepo,
		TxRunner:           dbClient,
		Allocator:          engine,
		Reoptimizer:        reoptimizer,
		Outbox:             outboxService,
		Logger:             logg,
		ReoptimizeOnCancel: cfg.Allocation.ReoptimizeOnCancel,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create order service", err)
		os.Exit(1)
	}

	inventoryService, err := inventory.NewService(inventory.ServiceParams{
		Repository:          stockRepo,
		TxRunner:            dbClient,
		Outbox:              outboxService,
		Reoptimizer:         reoptimizer,
		Logger:              logg,
		ReoptimizeOnRestock: cfg.Allocation.ReoptimizeOnRestock,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create inventory service", err)
		os.Exit(1)
	}

	clientService, err := clients.NewService(clients.NewRepository(dbClient.DB()), cfg.Auth)
	if err != nil {
		logg.Error(context.Background(), "failed to create client service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, routes.Dependencies{
			DB:          dbClient,
			Redis:       redisClient,
			Gatherer:    registry,
			Auth:        clientService,
			Orders:      orderService,
			Inventory:   inventoryService,
			Products:    stockRepo,
			Reoptimizer: reoptimizer,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
		logg.Info(ctx, "api server shut down gracefully")
	}
}
