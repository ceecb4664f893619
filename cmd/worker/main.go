package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/stockd/stockd/internal/app"
	"github.com/stockd/stockd/internal/batch"
	"github.com/stockd/stockd/internal/observability"
	"github.com/stockd/stockd/internal/platform/db"
	"github.com/stockd/stockd/internal/reservation"
	"github.com/stockd/stockd/internal/shared"
	"github.com/stockd/stockd/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
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

	metrics := observability.NewMetrics()
	idempotency := shared.NewIdempotencyStore(pool)

	costingCache := batch.NewCache(redisClient, cfg.CostingCacheTTL)
	batchService := batch.NewService(batch.NewRepository(pool), nil, costingCache)
	reservationService := reservation.NewService(reservation.NewRepository(pool), batchService, nil, nil, cfg.ReservationTTL)

	reservationSweep := jobs.NewReservationSweepJob(reservationService, redisClient, logger, metrics)
	batchSweep := jobs.NewBatchExpirySweepJob(batchService, redisClient, logger)
	idemCleanup := jobs.NewIdempotencyCleanupJob(idempotency, logger)

	reservationTask, err := jobs.NewReservationSweepTask(time.Now().UTC())
	if err != nil {
		logger.Error("build reservation sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	batchTask, err := jobs.NewBatchExpirySweepTask(time.Now().UTC())
	if err != nil {
		logger.Error("build batch sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(time.Now().UTC())
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskReservationSweep, Handler: reservationSweep.Handle},
			{Type: jobs.TaskBatchExpirySweep, Handler: batchSweep.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: idemCleanup.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/15 * * * *", Task: reservationTask, Options: []asynq.Option{asynq.MaxRetry(2)}},
			{Spec: "10 1 * * *", Task: batchTask, Options: []asynq.Option{asynq.MaxRetry(2)}},
			{Spec: "40 2 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(2)}},
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
