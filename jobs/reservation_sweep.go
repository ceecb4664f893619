package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/stockd/stockd/internal/observability"
	"github.com/stockd/stockd/internal/shared"
)

// sweepLockTTL bounds how long one sweeper instance can exclude the others.
const sweepLockTTL = 5 * time.Minute

// ReservationSweeper expires stale reservations.
type ReservationSweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// ReservationSweepJob flips overdue ACTIVE reservations to EXPIRED. Reads
// already treat them as expired; the sweep only settles stored state for
// reporting, so a skipped run is harmless.
type ReservationSweepJob struct {
	service ReservationSweeper
	redis   *redis.Client
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewReservationSweepJob initialises the sweep handler.
func NewReservationSweepJob(service ReservationSweeper, rdb *redis.Client, logger *slog.Logger, metrics *observability.Metrics) *ReservationSweepJob {
	return &ReservationSweepJob{service: service, redis: rdb, logger: logger, metrics: metrics}
}

// Handle executes one sweep under a best-effort distributed lock.
func (j *ReservationSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.service == nil {
		return errors.New("reservation sweep: handler not configured")
	}
	unlock, ok, err := acquireLock(ctx, j.redis, shared.ReservationSweepLockKey())
	if err != nil {
		return err
	}
	if !ok {
		j.logger.Info("reservation sweep already running elsewhere")
		return nil
	}
	defer unlock()

	start := time.Now()
	n, err := j.service.SweepExpired(ctx)
	if err != nil {
		j.logger.Error("reservation sweep failed", slog.Any("error", err))
		return err
	}
	if j.metrics != nil && n > 0 {
		j.metrics.ReservationsExpired.Add(float64(n))
	}
	j.logger.Info("reservation sweep completed",
		slog.Int64("expired", n),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

// acquireLock takes a redis lock; without redis it degrades to a no-op lock.
func acquireLock(ctx context.Context, rdb *redis.Client, key string) (func(), bool, error) {
	if rdb == nil {
		return func() {}, true, nil
	}
	ok, err := rdb.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), sweepLockTTL).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return func() {
		_ = rdb.Del(context.Background(), key).Err()
	}, true, nil
}
