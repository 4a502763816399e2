package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/ledgergate-backend/internal/app"
	"github.com/angelmondragon/ledgergate-backend/internal/cron"
	"github.com/angelmondragon/ledgergate-backend/pkg/config"
	"github.com/angelmondragon/ledgergate-backend/pkg/db"
	"github.com/angelmondragon/ledgergate-backend/pkg/logger"
	"github.com/angelmondragon/ledgergate-backend/pkg/metrics"
	"github.com/angelmondragon/ledgergate-backend/pkg/migrate"
	"github.com/angelmondragon/ledgergate-backend/pkg/outbox"
	"github.com/angelmondragon/ledgergate-backend/pkg/redis"
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

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	core, err := app.NewCore(context.Background(), app.CoreParams{
		Config:   cfg,
		Logger:   logg,
		DB:       dbClient,
		Redis:    redisClient,
		Registry: prometheus.DefaultRegisterer,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to wire finance services", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, lockKey(redisClient, cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, logg, dbClient, core)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Tick:     time.Minute,
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
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(store *redis.Client, env string) string {
	if env == "" {
		env = "local"
	}
	return store.LockKey("cron-worker:" + env)
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, core *app.Core) (*cron.Registry, error) {
	timers, err := cron.NewApprovalTimersJob(cron.ApprovalTimersJobParams{
		Logger:  logg,
		Engine:  core.Engine,
		Cadence: cfg.Cron.Interval,
		Timeout: cfg.Approvals.SweepTimeout,
	})
	if err != nil {
		return nil, err
	}
	redrive, err := cron.NewMutationRedriveJob(cron.MutationRedriveJobParams{
		Logger:  logg,
		Finance: core.Finance,
		Cadence: cfg.Cron.Interval,
		Grace:   cfg.Approvals.RedriveGrace,
		Batch:   cfg.Approvals.SweepBatch,
	})
	if err != nil {
		return nil, err
	}
	integrity, err := cron.NewAuditIntegrityJob(cron.AuditIntegrityJobParams{
		Logger: logg,
		Audit:  core.Audit,
	})
	if err != nil {
		return nil, err
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:      logg,
		DB:          dbClient,
		Repository:  outbox.NewRepository(dbClient.DB()),
		MinAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}

	registry := cron.NewRegistry()
	for _, job := range []cron.Job{timers, redrive, integrity, retention} {
		if err := registry.Register(job); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
