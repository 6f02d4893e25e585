package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/fencecraft/crmbridge/internal/app"
	"github.com/fencecraft/crmbridge/internal/bitrix"
	"github.com/fencecraft/crmbridge/internal/catalog"
	"github.com/fencecraft/crmbridge/internal/observability"
	"github.com/fencecraft/crmbridge/internal/platform/cache"
	"github.com/fencecraft/crmbridge/jobs"
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
	if cfg.BitrixWebhookURL == "" {
		logger.Error("BITRIX_WEBHOOK_URL is required for the worker")
		os.Exit(1)
	}

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	// Tasks run outside a placement, so the CRM is reached through the webhook.
	crm := bitrix.NewClient(cfg.BitrixWebhookURL, bitrix.WithObserver(observability.NewMetrics()))
	catalogService := catalog.NewService(catalog.Config{
		Cache:  cache.NewJSONCache(redisClient, "catalog", cfg.CatalogCacheTTL),
		Logger: logger,
	})

	estimateJob := jobs.NewDealEstimateJob(crm, cfg.EstimateField, logger, nil)
	refreshJob := jobs.NewCatalogRefreshJob(catalogService, logger, nil)

	refreshTask, err := jobs.NewCatalogRefreshTask("scheduled")
	if err != nil {
		logger.Error("build catalog refresh task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskDealEstimate, Handler: estimateJob.Handle},
			{Type: jobs.TaskCatalogRefresh, Handler: refreshJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: jobs.CatalogRefreshInterval, Task: refreshTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
