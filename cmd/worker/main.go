package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/gatehouse-app/gatehouse/internal/app"
	"github.com/gatehouse-app/gatehouse/internal/directory"
	jobmetrics "github.com/gatehouse-app/gatehouse/internal/jobs"
	"github.com/gatehouse-app/gatehouse/internal/platform/cache"
	"github.com/gatehouse-app/gatehouse/internal/platform/db"
	"github.com/gatehouse-app/gatehouse/internal/rbac"
	"github.com/gatehouse-app/gatehouse/internal/visibility"
	"github.com/gatehouse-app/gatehouse/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	dir := directory.NewRepository(pool, logger)
	resolver := rbac.NewResolver(dir, logger)
	visStore := visibility.NewStore(dir, logger)

	metrics := jobmetrics.NewMetrics(nil)

	sweepTask, err := jobs.NewPermissionSweepTask(jobs.PermissionSweepPayload{})
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskVisibilityRefresh, Handler: jobs.NewVisibilityRefreshHandler(visStore, metrics, logger)},
			{Type: jobs.TaskPermissionSweep, Handler: jobs.NewPermissionSweepHandler(resolver, metrics, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.RefreshCron, Task: jobs.NewVisibilityRefreshTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.RefreshCron, Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
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
