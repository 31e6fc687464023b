package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/gatehouse-app/gatehouse/internal/app"
	"github.com/gatehouse-app/gatehouse/internal/auth"
	"github.com/gatehouse-app/gatehouse/internal/directory"
	"github.com/gatehouse-app/gatehouse/internal/guard"
	"github.com/gatehouse-app/gatehouse/internal/observability"
	"github.com/gatehouse-app/gatehouse/internal/platform/cache"
	"github.com/gatehouse-app/gatehouse/internal/platform/db"
	"github.com/gatehouse-app/gatehouse/internal/rbac"
	"github.com/gatehouse-app/gatehouse/internal/shared"
	"github.com/gatehouse-app/gatehouse/internal/syncbus"
	"github.com/gatehouse-app/gatehouse/internal/visibility"
	"github.com/gatehouse-app/gatehouse/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	sessionManager := shared.NewSessionManager(redisClient, "gatehouse_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	dir := directory.NewRepository(pool, logger)

	resolver := rbac.NewResolver(dir, logger)
	if _, err := resolver.RefreshCatalog(ctx); err != nil {
		logger.Warn("initial catalog fetch", slog.Any("error", err))
	}

	visStore := visibility.NewStore(dir, logger)
	if err := visStore.Refresh(ctx); err != nil {
		logger.Warn("initial visibility fetch", slog.Any("error", err))
	}

	metrics := observability.NewMetrics()

	bus := syncbus.New(redisClient, logger)
	app.WireSync(bus, resolver, visStore, metrics, logger)
	go func() {
		if err := bus.Run(ctx); err != nil && err != context.Canceled {
			logger.Error("sync bus stopped", slog.Any("error", err))
			stop()
		}
	}()

	authRepo := auth.NewRepository(pool)
	authService := auth.NewService(authRepo, cfg.AllowTestIdentity)
	authHandler := auth.NewHandler(logger, authService, resolver, sessionManager)

	rbacService := rbac.NewService(dir, resolver, bus, logger)
	rbacHandler := rbac.NewHandler(logger, rbacService, resolver)

	visService := visibility.NewService(dir, visStore, bus, logger)
	visHandler := visibility.NewHandler(logger, visService)

	guards := guard.NewRegistry(guard.Config{
		RedirectTo:    cfg.GuardRedirectTo,
		LoginPath:     cfg.GuardLoginPath,
		FallbackPath:  cfg.GuardFallbackPath,
		MemberPath:    cfg.GuardMemberPath,
		Timeout:       cfg.GuardTimeout,
		LoopThreshold: cfg.GuardLoopThreshold,
		LoopWindow:    cfg.GuardLoopWindow,
	}, resolver, visStore, logger, metrics)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("job client init", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, jobClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		CSRFManager:        csrfManager,
		AuthHandler:        authHandler,
		PermissionsHandler: rbacHandler,
		PagesHandler:       visHandler,
		Guards:             guards,
		JobHandler:         jobHandler,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
