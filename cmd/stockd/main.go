package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stockd/stockd/internal/app"
	"github.com/stockd/stockd/internal/batch"
	"github.com/stockd/stockd/internal/ledger"
	"github.com/stockd/stockd/internal/observability"
	"github.com/stockd/stockd/internal/platform/cache"
	"github.com/stockd/stockd/internal/platform/db"
	"github.com/stockd/stockd/internal/reservation"
	"github.com/stockd/stockd/internal/serial"
	"github.com/stockd/stockd/internal/shared"
)

func main() {
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

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		// The service degrades without redis: no costing cache, no sweep locks.
		logger.Warn("redis unavailable", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient != nil {
			_ = redisClient.Close()
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	idempotency := shared.NewIdempotencyStore(pool)

	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo, auditLogger, idempotency, ledgerMetrics{metrics}, ledger.ServiceConfig{
		AllowNegativeStock: cfg.AllowNegativeStock,
	})
	ledgerHandler := ledger.NewHandler(logger, ledgerService)

	costingCache := batch.NewCache(redisClient, cfg.CostingCacheTTL)
	batchRepo := batch.NewRepository(pool)
	batchService := batch.NewService(batchRepo, auditLogger, costingCache)
	batchHandler := batch.NewHandler(logger, batchService)

	reservationRepo := reservation.NewRepository(pool)
	reservationService := reservation.NewService(reservationRepo, batchService, ledgerService, auditLogger, cfg.ReservationTTL)
	reservationHandler := reservation.NewHandler(logger, reservationService)

	serialRepo := serial.NewRepository(pool)
	serialService := serial.NewService(serialRepo, auditLogger, serialMetrics{metrics})
	serialHandler := serial.NewHandler(logger, serialService)

	router := app.NewRouter(app.RouterConfig{
		Config:      cfg,
		Metrics:     metrics,
		Pool:        pool,
		Redis:       redisClient,
		Ledger:      ledgerHandler,
		Batch:       batchHandler,
		Reservation: reservationHandler,
		Serial:      serialHandler,
		Middlewares: app.MiddlewareStack(app.MiddlewareConfig{
			Logger:  logger,
			Config:  cfg,
			Metrics: metrics,
		}),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
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
		logger.Error("http shutdown", slog.Any("error", err))
	}
}

type ledgerMetrics struct {
	m *observability.Metrics
}

func (a ledgerMetrics) CountTransaction(txType string) {
	a.m.TransactionsPosted.WithLabelValues(txType).Inc()
}

type serialMetrics struct {
	m *observability.Metrics
}

func (a serialMetrics) CountAllocations(n int) {
	a.m.SerialsAllocated.Add(float64(n))
}
