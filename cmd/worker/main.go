package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/stockledger/internal/app"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/inventory/compat"
	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/jobs"
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
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}

	viewCache := compat.NewCache(redisClient, cfg.ViewCacheTTL, logger)
	inventoryService := inventory.NewService(inventory.NewPGStore(pool), inventory.ServiceConfig{
		MaxRetries:              cfg.LedgerMaxRetries,
		RetryDelay:              cfg.LedgerRetryDelay,
		StrictSerialTransitions: cfg.SerialStrictTransitions,
	}, viewCache)

	metrics := jobmetrics.NewMetrics(nil)
	locker := redislock.New(redisClient)

	expiryJob := jobs.NewLotExpiryJob(inventoryService, viewCache, locker, metrics, logger)
	auditJob := jobs.NewBalanceAuditJob(inventoryService, locker, metrics, logger, cfg.AuditLookback)
	cleanupJob := jobs.NewIdempotencyCleanupJob(shared.NewIdempotencyStore(pool), locker, metrics, logger, cfg.IdempotencyRetention)

	expiryTask, err := jobs.NewLotExpiryTask(time.Time{})
	if err != nil {
		logger.Error("build lot expiry task", slog.Any("error", err))
		os.Exit(1)
	}
	auditTask, err := jobs.NewBalanceAuditTask(time.Time{})
	if err != nil {
		logger.Error("build balance audit task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerQueueSize,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskLotExpiry, Handler: expiryJob.Handle},
			{Type: jobs.TaskBalanceAudit, Handler: auditJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.LotExpiryCron, Task: expiryTask},
			{Spec: cfg.AuditCron, Task: auditTask},
			{Spec: cfg.IdempotencyCron, Task: jobs.NewIdempotencyCleanupTask()},
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
