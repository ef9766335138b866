package inventory

import (
	"context"
	"errors"
	"time"
)

// Store abstracts persistence used by the service.
type Store interface {
	// WithStockLocks runs fn in one transaction holding exclusive locks on
	// every key. Keys are locked in a stable order.
	WithStockLocks(ctx context.Context, keys []StockKey, fn func(context.Context, TxStore) error) error

	SumMovements(ctx context.Context, q BalanceQuery) (MovementTotals, error)
	StockBalances(ctx context.Context, filter BalanceFilter) ([]BalanceRow, error)
	ListMovements(ctx context.Context, filter HistoryFilter) ([]Movement, int, error)
	GetMovement(ctx context.Context, id int64) (Movement, error)
	RecentTuples(ctx context.Context, since time.Time) ([]BalanceQuery, error)
	TupleMovements(ctx context.Context, q BalanceQuery) ([]Movement, error)

	InsertLot(ctx context.Context, lot Lot) (Lot, error)
	GetLot(ctx context.Context, id int64) (Lot, error)
	GetLotByNumber(ctx context.Context, lotNumber string, itemID int64) (Lot, error)
	ListLots(ctx context.Context, filter LotFilter) ([]Lot, error)
	UpdateLot(ctx context.Context, lot Lot) error

	InsertSerial(ctx context.Context, serial Serial) (Serial, error)
	GetSerial(ctx context.Context, id int64) (Serial, error)
	ListSerials(ctx context.Context, filter SerialFilter) ([]Serial, error)
	UpdateSerial(ctx context.Context, serial Serial) error
}

// TxStore exposes the operations available inside a locked transaction.
type TxStore interface {
	SumMovements(ctx context.Context, q BalanceQuery) (MovementTotals, error)
	InsertMovement(ctx context.Context, m Movement) (Movement, error)
	GetMovementForUpdate(ctx context.Context, id int64) (Movement, error)
	MarkReversed(ctx context.Context, id, reversedByID int64) error
	ListLots(ctx context.Context, filter LotFilter) ([]Lot, error)
	StockBalances(ctx context.Context, filter BalanceFilter) ([]BalanceRow, error)
}

// IntegrationHandler receives movements after they are committed.
type IntegrationHandler interface {
	HandleMovementsPosted(ctx context.Context, evt MovementsPostedEvent)
}

// Service coordinates the ledger, balance, allocation and registry operations.
type Service struct {
	store        Store
	integration  IntegrationHandler
	maxRetries   int
	retryDelay   time.Duration
	strictSerial bool
	now          func() time.Time
	txnNo        func(time.Time) string
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// MaxRetries bounds local retries of a conflicting check-and-append.
	MaxRetries int
	RetryDelay time.Duration
	// StrictSerialTransitions enforces the serial transition table.
	StrictSerialTransitions bool
	Clock func() time.Time
}

// NewService builds Service.
func NewService(store Store, cfg ServiceConfig, integration IntegrationHandler) *Service {
	svc := &Service{
		store:        store,
		integration:  integration,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		strictSerial: cfg.StrictSerialTransitions,
		now:          cfg.Clock,
		txnNo:        NewTransactionNo,
	}
	if svc.maxRetries <= 0 {
		svc.maxRetries = 3
	}
	if svc.retryDelay <= 0 {
		svc.retryDelay = 20 * time.Millisecond
	}
	if svc.now == nil {
		svc.now = func() time.Time { return time.Now().UTC() }
	}
	return svc
}

// withRetry runs a locked unit of work, retrying only storage conflicts.
func (s *Service) withRetry(ctx context.Context, keys []StockKey, fn func(context.Context, TxStore) error) error {
	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.retryDelay * time.Duration(attempt)):
			}
		}
		err = s.store.WithStockLocks(ctx, keys, fn)
		if !errors.Is(err, ErrRetryable) {
			return err
		}
	}
	return errors.Join(ErrConcurrencyConflict, err)
}

func (s *Service) today() time.Time {
	now := s.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func (s *Service) publish(ctx context.Context, movements []Movement) {
	if s.integration == nil || len(movements) == 0 {
		return
	}
	s.integration.HandleMovementsPosted(ctx, MovementsPostedEvent{Movements: movements, PostedAt: s.now()})
}

func (s *Service) publishRegistry(ctx context.Context, kind string, id, tenantID int64) {
	rh, ok := s.integration.(RegistryHandler)
	if !ok {
		return
	}
	rh.HandleRegistryChanged(ctx, RegistryChangedEvent{Kind: kind, ID: id, TenantID: tenantID, ChangedAt: s.now()})
}
