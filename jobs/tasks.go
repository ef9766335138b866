package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLotExpiry moves lots past their expiry date to EXPIRED.
	TaskLotExpiry = "inventory:lot_expiry"
	// TaskBalanceAudit compares cached running balances with the ledger.
	TaskBalanceAudit = "inventory:balance_audit"
	// TaskIdempotencyCleanup prunes expired Idempotency-Key claims.
	TaskIdempotencyCleanup = "platform:idempotency_cleanup"
)

// LotExpiryPayload carries the day the sweep evaluates. A zero AsOf means now.
type LotExpiryPayload struct {
	AsOf time.Time `json:"as_of"`
}

// BalanceAuditPayload bounds the audit to tuples written after Since.
// A zero Since falls back to the configured lookback.
type BalanceAuditPayload struct {
	Since time.Time `json:"since"`
}

// NewLotExpiryTask constructs an Asynq task for the expiry sweep.
func NewLotExpiryTask(asOf time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(LotExpiryPayload{AsOf: asOf})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLotExpiry, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// NewBalanceAuditTask constructs an Asynq task for the running balance audit.
func NewBalanceAuditTask(since time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(BalanceAuditPayload{Since: since})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBalanceAudit, body, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}

// NewIdempotencyCleanupTask constructs an Asynq task pruning idempotency keys.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(2))
}
