package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
)

const idempotencyCleanupJob = "idempotency_cleanup"

// IdempotencyCleaner prunes claimed Idempotency-Key values.
type IdempotencyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyCleanupJob drops idempotency keys older than the retention.
type IdempotencyCleanupJob struct {
	store     IdempotencyCleaner
	locker    *redislock.Client
	metrics   *jobmetrics.Metrics
	logger    *slog.Logger
	retention time.Duration
}

// NewIdempotencyCleanupJob constructs IdempotencyCleanupJob.
func NewIdempotencyCleanupJob(store IdempotencyCleaner, locker *redislock.Client, metrics *jobmetrics.Metrics, logger *slog.Logger, retention time.Duration) *IdempotencyCleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	if retention <= 0 {
		retention = 72 * time.Hour
	}
	return &IdempotencyCleanupJob{store: store, locker: locker, metrics: metrics, logger: logger, retention: retention}
}

// Handle implements the Asynq handler signature.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, _ *asynq.Task) error {
	tracker := j.metrics.Track(idempotencyCleanupJob)
	err := runExclusive(ctx, j.locker, j.logger, idempotencyCleanupJob, 10*time.Minute, func(ctx context.Context) error {
		removed, err := j.store.Cleanup(ctx, j.retention)
		if err != nil {
			return err
		}
		j.logger.Info("idempotency keys pruned", slog.Int64("removed", removed), slog.Duration("retention", j.retention))
		return nil
	})
	if errors.Is(err, errSkipped) {
		return nil
	}
	return tracker.End(err)
}
