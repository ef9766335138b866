package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
)

const lotExpiryJob = "lot_expiry"

// LotExpirer is the slice of the inventory service the sweep needs.
type LotExpirer interface {
	ExpireLots(ctx context.Context, asOf time.Time) (int, error)
}

// ViewInvalidator drops cached read models after lot state changes.
type ViewInvalidator interface {
	Bump(ctx context.Context) error
}

// LotExpiryJob expires ACTIVE lots whose expiry date has passed.
type LotExpiryJob struct {
	lots    LotExpirer
	views   ViewInvalidator
	locker  *redislock.Client
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewLotExpiryJob constructs LotExpiryJob.
// A nil views skips cache invalidation.
func NewLotExpiryJob(lots LotExpirer, views ViewInvalidator, locker *redislock.Client, metrics *jobmetrics.Metrics, logger *slog.Logger) *LotExpiryJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &LotExpiryJob{
		lots:    lots,
		views:   views,
		locker:  locker,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Handle implements the Asynq handler signature.
func (j *LotExpiryJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload LotExpiryPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
	}
	asOf := payload.AsOf
	if asOf.IsZero() {
		asOf = j.now()
	}
	tracker := j.metrics.Track(lotExpiryJob)
	err := runExclusive(ctx, j.locker, j.logger, lotExpiryJob, 5*time.Minute, func(ctx context.Context) error {
		changed, err := j.lots.ExpireLots(ctx, asOf)
		j.metrics.AddExpiredLots(changed)
		if changed > 0 && j.views != nil {
			if bumpErr := j.views.Bump(ctx); bumpErr != nil {
				j.logger.Warn("view cache bump failed", slog.Any("error", bumpErr))
			}
		}
		if err != nil {
			return err
		}
		j.logger.Info("lot expiry sweep finished", slog.Int("expired", changed), slog.Time("as_of", asOf))
		return nil
	})
	if errors.Is(err, errSkipped) {
		return nil
	}
	return tracker.End(err)
}
