package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bsm/redislock"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// errSkipped reports that another runner holds the job lock.
var errSkipped = errors.New("jobs: lock held by another runner")

// runExclusive runs fn while holding the job's redis lock. A nil locker runs
// fn unguarded.
func runExclusive(ctx context.Context, locker *redislock.Client, logger *slog.Logger, job string, ttl time.Duration, fn func(context.Context) error) error {
	if locker == nil {
		return fn(ctx)
	}
	lock, err := locker.Obtain(ctx, shared.JobLockKey(job), ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		logger.Info("job skipped, lock held", slog.String("job", job))
		return errSkipped
	}
	if err != nil {
		return err
	}
	defer func() {
		if releaseErr := lock.Release(context.WithoutCancel(ctx)); releaseErr != nil && !errors.Is(releaseErr, redislock.ErrLockNotHeld) {
			logger.Warn("job lock release failed", slog.String("job", job), slog.Any("error", releaseErr))
		}
	}()
	return fn(ctx)
}
