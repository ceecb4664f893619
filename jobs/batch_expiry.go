package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/stockd/stockd/internal/shared"
)

// BatchSweeper expires overdue lots.
type BatchSweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// BatchExpirySweepJob marks batches past their expiry date as EXPIRED so
// costing stops drawing on them and listings reflect stored state.
type BatchExpirySweepJob struct {
	service BatchSweeper
	redis   *redis.Client
	logger  *slog.Logger
}

// NewBatchExpirySweepJob initialises the sweep handler.
func NewBatchExpirySweepJob(service BatchSweeper, rdb *redis.Client, logger *slog.Logger) *BatchExpirySweepJob {
	return &BatchExpirySweepJob{service: service, redis: rdb, logger: logger}
}

// Handle executes one sweep under a best-effort distributed lock.
func (j *BatchExpirySweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.service == nil {
		return errors.New("batch expiry sweep: handler not configured")
	}
	unlock, ok, err := acquireLock(ctx, j.redis, shared.BatchSweepLockKey())
	if err != nil {
		return err
	}
	if !ok {
		j.logger.Info("batch expiry sweep already running elsewhere")
		return nil
	}
	defer unlock()

	start := time.Now()
	n, err := j.service.SweepExpired(ctx)
	if err != nil {
		j.logger.Error("batch expiry sweep failed", slog.Any("error", err))
		return err
	}
	j.logger.Info("batch expiry sweep completed",
		slog.Int64("expired", n),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}
