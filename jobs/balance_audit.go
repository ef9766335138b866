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

	"github.com/odyssey-erp/stockledger/internal/inventory"
	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
)

const balanceAuditJob = "balance_audit"

// maxLoggedDrift caps the drifted rows written to the log per run.
const maxLoggedDrift = 20

// BalanceAuditor is the slice of the inventory service the audit needs.
type BalanceAuditor interface {
	AuditRunningBalances(ctx context.Context, since time.Time) (inventory.AuditReport, error)
}

// BalanceAuditJob reports ledger rows whose running balance cache drifted.
// It never repairs rows.
type BalanceAuditJob struct {
	auditor  BalanceAuditor
	locker   *redislock.Client
	metrics  *jobmetrics.Metrics
	logger   *slog.Logger
	lookback time.Duration
	now      func() time.Time
}

// NewBalanceAuditJob constructs BalanceAuditJob.
func NewBalanceAuditJob(auditor BalanceAuditor, locker *redislock.Client, metrics *jobmetrics.Metrics, logger *slog.Logger, lookback time.Duration) *BalanceAuditJob {
	if logger == nil {
		logger = slog.Default()
	}
	if lookback <= 0 {
		lookback = 2 * time.Hour
	}
	return &BalanceAuditJob{
		auditor:  auditor,
		locker:   locker,
		metrics:  metrics,
		logger:   logger,
		lookback: lookback,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Handle implements the Asynq handler signature.
func (j *BalanceAuditJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload BalanceAuditPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
	}
	since := payload.Since
	if since.IsZero() {
		since = j.now().Add(-j.lookback)
	}
	tracker := j.metrics.Track(balanceAuditJob)
	err := runExclusive(ctx, j.locker, j.logger, balanceAuditJob, 30*time.Minute, func(ctx context.Context) error {
		report, err := j.auditor.AuditRunningBalances(ctx, since)
		if err != nil {
			return err
		}
		j.metrics.AddDrift(len(report.Drifted))
		if len(report.Drifted) == 0 {
			j.logger.Info("balance audit clean", slog.Int("tuples", report.Tuples), slog.Int("rows", report.Rows))
			return nil
		}
		for i, d := range report.Drifted {
			if i == maxLoggedDrift {
				break
			}
			j.logger.Warn("running balance drift",
				slog.Int64("movement_id", d.MovementID),
				slog.Int64("cached", d.Cached),
				slog.Int64("computed", d.Computed))
		}
		j.logger.Warn("balance audit found drift", slog.Int("tuples", report.Tuples), slog.Int("drifted", len(report.Drifted)))
		return nil
	})
	if errors.Is(err, errSkipped) {
		return nil
	}
	return tracker.End(err)
}
