package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/apotek-erp/apotek-erp/internal/app"
	jobmetrics "github.com/apotek-erp/apotek-erp/internal/jobs"
	"github.com/apotek-erp/apotek-erp/internal/platform/cache"
	platformdb "github.com/apotek-erp/apotek-erp/internal/platform/db"
	"github.com/apotek-erp/apotek-erp/internal/reconcile"
	"github.com/apotek-erp/apotek-erp/internal/shared"
	"github.com/apotek-erp/apotek-erp/internal/tenant"
	"github.com/apotek-erp/apotek-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	controlPool, err := platformdb.New(ctx, cfg.ControlPGDSN)
	if err != nil {
		logger.Error("connect control database", slog.Any("error", err))
		os.Exit(1)
	}
	defer controlPool.Close()

	sharedPool, err := platformdb.New(ctx, cfg.SharedPGDSN)
	if err != nil {
		logger.Error("connect shared database", slog.Any("error", err))
		os.Exit(1)
	}
	defer sharedPool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis connect", slog.Any("error", err))
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	registry := tenant.NewRegistry(controlPool, sharedPool, redisClient)
	defer registry.Close()

	metrics := jobmetrics.NewMetrics(nil)

	reconcileRepo := reconcile.NewRepository(registry)
	reconcileService := reconcile.NewService(reconcileRepo, logger, nil, cfg.Epsilon())
	reconcileRunner := jobs.NewReconcileRunner(registry, reconcileService, logger, metrics)

	idempotencyStore := shared.NewIdempotencyStore(registry)
	cleaner := jobs.NewIdempotencyCleaner(registry, idempotencyStore, logger, metrics)

	reconcileTask, err := jobs.NewReconcileTask(jobs.ReconcilePayload{})
	if err != nil {
		logger.Error("build reconcile task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(jobs.IdempotencyCleanupPayload{
		Retention: jobs.DefaultIdempotencyRetention,
	})
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskReconcileRun, Handler: reconcileRunner.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleaner.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ReconcileCron, Task: reconcileTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "45 2 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
