package inventory

import (
	"errors"
	"fmt"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// InsufficientStockError reports a shortfall for an OUT/RESERVE or an allocation.
type InsufficientStockError struct {
	Available int64
	Required  int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock (available %d, required %d)", e.Available, e.Required)
}

// Is lets callers match with errors.Is(err, ErrInsufficientStock).
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

var (
	// ErrInsufficientStock is the sentinel matched by InsufficientStockError.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrNotFound wraps shared.ErrNotFound for lots, serials and movements.
	ErrNotFound = fmt.Errorf("inventory: %w", shared.ErrNotFound)
	// ErrDuplicateSerial is returned when (serialNumber, itemId) already exists.
	ErrDuplicateSerial = errors.New("inventory: serial already registered for item")
	// ErrAlreadyReversed guards double reversal.
	ErrAlreadyReversed = errors.New("inventory: movement already reversed")
	// ErrConcurrencyConflict is surfaced once storage conflicts exhaust the retry budget.
	ErrConcurrencyConflict = errors.New("inventory: concurrent update conflict")
	// ErrRetryable is returned by stores for serialization failures and deadlocks.
	ErrRetryable = errors.New("inventory: retryable storage conflict")
	// ErrDuplicateTransactionNo means a generated or supplied transaction number collided.
	ErrDuplicateTransactionNo = errors.New("inventory: transaction number already exists")
	// ErrDuplicateLot is returned when (lotNumber, itemId) already exists and
	// belongs to another tenant.
	ErrDuplicateLot = errors.New("inventory: lot already registered for item")
	// ErrScopeRequired rejects queries issued with the zero Scope.
	ErrScopeRequired = errors.New("inventory: tenant scope required")
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = errors.New("inventory: quantity must be greater than zero")
	// ErrInvalidUnitCost indicates a negative cost value.
	ErrInvalidUnitCost = errors.New("inventory: unit cost must be >= 0")
	// ErrInvalidMovement covers unknown or inconsistent movement/transaction types.
	ErrInvalidMovement = errors.New("inventory: invalid movement")
	// ErrInvalidStatusTransition rejects lot or serial transitions outside the allowed graph.
	ErrInvalidStatusTransition = errors.New("inventory: invalid status transition")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidMovement, fmt.Sprintf(format, args...))
}
