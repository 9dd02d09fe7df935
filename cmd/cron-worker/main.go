package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/warehouse-allocator/internal/allocation"
	"github.com/angelmondragon/warehouse-allocator/internal/cron"
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

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	var lock cron.Lock
	if cfg.FeatureFlags.UseSQLite && !cfg.Redis.Configured() {
		logg.Warn(context.Background(), "redis not configured; using in-process cron lock")
		lock = &cron.LocalLock{}
	} else {
		redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
		lock, err = cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker:"+cfg.App.Env), cfg.Cron.LockTTL)
		if err != nil {
			logg.Error(context.Background(), "failed to create cron lock", err)
			os.Exit(1)
		}
	}

	allocationMetrics := metrics.NewAllocationMetrics(prometheus.DefaultRegisterer)
	orderRepo := orders.NewRepository(dbClient.DB())
	engine, err := allocation.NewEngine(allocation.EngineParams{
		Stock:   inventory.NewRepository(dbClient.DB()),
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
	outboxRepo := outbox.NewRepository(dbClient.DB())
	reoptimizer, err := reoptimization.NewService(reoptimization.ServiceParams{
		Orders:     orderRepo,
		Allocator:  allocator,
		Outbox:     outbox.NewService(outboxRepo, logg),
		Metrics:    allocationMetrics,
		Logger:     logg,
		BatchLimit: cfg.Allocation.ReoptimizeBatchLimit,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reoptimization service", err)
		os.Exit(1)
	}

	reoptimizeJob, err := cron.NewReoptimizeJob(logg, reoptimizer)
	if err != nil {
		logg.Error(context.Background(), "failed to create reoptimize job", err)
		os.Exit(1)
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outboxRepo,
		Retention:  cfg.Cron.OutboxRetention,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry(reoptimizeJob, retentionJob)
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"interval":    cfg.Cron.Interval.String(),
		"jobs":        registry.Names(),
	})
	logg.Info(ctx, "starting cron worker")

	go func() {
		if err := metrics.Serve(ctx, cfg.App.MetricsAddr, prometheus.DefaultGatherer, logg); err != nil {
			logg.Error(ctx, "metrics listener failed", err)
		}
	}()

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}
