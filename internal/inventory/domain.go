package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// MovementType is the signed effect a ledger row has on stock.
type MovementType string

const (
	// MovementIn adds on-hand stock.
	MovementIn MovementType = "IN"
	// MovementOut removes on-hand stock.
	MovementOut MovementType = "OUT"
	// MovementReserve earmarks on-hand stock without removing it.
	MovementReserve MovementType = "RESERVE"
	// MovementRelease returns a reservation to available stock.
	MovementRelease MovementType = "RELEASE"
)

// Consumes reports whether the movement lowers available quantity and so
// must be checked against the balance before it is written.
func (m MovementType) Consumes() bool {
	return m == MovementOut || m == MovementReserve
}

// Opposite returns the compensating movement type used by reversals.
func (m MovementType) Opposite() MovementType {
	switch m {
	case MovementIn:
		return MovementOut
	case MovementOut:
		return MovementIn
	case MovementReserve:
		return MovementRelease
	case MovementRelease:
		return MovementReserve
	}
	return m
}

// TransactionType enumerates the business reasons for a movement.
type TransactionType string

const (
	TransactionReceipt            TransactionType = "RECEIPT"
	TransactionIssue              TransactionType = "ISSUE"
	TransactionReturnIn           TransactionType = "RETURN_IN"
	TransactionReturnOut          TransactionType = "RETURN_OUT"
	TransactionTransferIn         TransactionType = "TRANSFER_IN"
	TransactionTransferOut        TransactionType = "TRANSFER_OUT"
	TransactionAdjustmentIn       TransactionType = "ADJUSTMENT_IN"
	TransactionAdjustmentOut      TransactionType = "ADJUSTMENT_OUT"
	TransactionWriteOffDamage     TransactionType = "WRITE_OFF_DAMAGE"
	TransactionWriteOffExpiry     TransactionType = "WRITE_OFF_EXPIRY"
	TransactionWriteOffLoss       TransactionType = "WRITE_OFF_LOSS"
	TransactionReservation        TransactionType = "RESERVATION"
	TransactionReservationRelease TransactionType = "RESERVATION_RELEASE"
)

var transactionMovement = map[TransactionType]MovementType{
	TransactionReceipt:            MovementIn,
	TransactionIssue:              MovementOut,
	TransactionReturnIn:           MovementIn,
	TransactionReturnOut:          MovementOut,
	TransactionTransferIn:         MovementIn,
	TransactionTransferOut:        MovementOut,
	TransactionAdjustmentIn:       MovementIn,
	TransactionAdjustmentOut:      MovementOut,
	TransactionWriteOffDamage:     MovementOut,
	TransactionWriteOffExpiry:     MovementOut,
	TransactionWriteOffLoss:       MovementOut,
	TransactionReservation:        MovementReserve,
	TransactionReservationRelease: MovementRelease,
}

// MovementType returns the movement type bound to the transaction type.
func (t TransactionType) MovementType() (MovementType, bool) {
	mt, ok := transactionMovement[t]
	return mt, ok
}

// reversalTransaction picks the business reason recorded on a compensating row.
func reversalTransaction(mt MovementType) TransactionType {
	switch mt {
	case MovementIn:
		return TransactionAdjustmentIn
	case MovementOut:
		return TransactionAdjustmentOut
	case MovementReserve:
		return TransactionReservation
	default:
		return TransactionReservationRelease
	}
}

// MovementStatus tracks the lifecycle of a ledger row.
type MovementStatus string

const (
	MovementPending   MovementStatus = "PENDING"
	MovementCompleted MovementStatus = "COMPLETED"
	MovementCancelled MovementStatus = "CANCELLED"
	MovementReversed  MovementStatus = "REVERSED"
)

// ReferenceReversal marks rows appended by Reverse.
const ReferenceReversal = "REVERSAL"

// Movement is one immutable ledger row.
type Movement struct {
	ID              int64               `json:"id"`
	TransactionNo   string              `json:"transaction_no"`
	TransactionDate time.Time           `json:"transaction_date"`
	TransactionType TransactionType     `json:"transaction_type"`
	MovementType    MovementType        `json:"movement_type"`
	ItemID          int64               `json:"item_id"`
	LotID           int64               `json:"lot_id,omitempty"`
	SerialID        int64               `json:"serial_id,omitempty"`
	Quantity        int64               `json:"quantity"`
	WarehouseID     int64               `json:"warehouse_id"`
	ReferenceType   string              `json:"reference_type,omitempty"`
	ReferenceID     string              `json:"reference_id,omitempty"`
	ReferenceNo     string              `json:"reference_no,omitempty"`
	UnitCost        decimal.NullDecimal `json:"unit_cost"`
	TotalCost       decimal.NullDecimal `json:"total_cost"`
	// RunningBalance is an advisory cache of the tuple balance right after
	// this row; the live aggregate always wins.
	RunningBalance int64 `json:"running_balance"`
	Status       MovementStatus `json:"status"`
	IsReversed   bool           `json:"is_reversed"`
	ReversedByID int64          `json:"reversed_by_id,omitempty"`
	ReversalOfID int64          `json:"reversal_of_id,omitempty"`
	Notes        string         `json:"notes,omitempty"`
	TenantID     int64          `json:"tenant_id"`
	CreatedBy    int64          `json:"created_by,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Key returns the lock tuple the movement belongs to.
func (m Movement) Key() StockKey {
	return StockKey{ItemID: m.ItemID, WarehouseID: m.WarehouseID, TenantID: m.TenantID}
}

// Effect returns the signed contribution of the row to available quantity.
func (m Movement) Effect() int64 {
	switch m.MovementType {
	case MovementIn, MovementRelease:
		return m.Quantity
	case MovementOut, MovementReserve:
		return -m.Quantity
	}
	return 0
}

// MovementInput is the caller-declared shape of a movement to append.
type MovementInput struct {
	TransactionNo   string
	TransactionDate time.Time
	TransactionType TransactionType
	MovementType    MovementType
	ItemID          int64
	LotID           int64
	SerialID        int64
	Quantity        int64
	WarehouseID     int64
	ReferenceType   string
	ReferenceID     string
	ReferenceNo     string
	UnitCost        decimal.NullDecimal
	Notes           string
	TenantID        int64
	ActorID         int64
}

// StockKey identifies the critical section guarding check-and-append.
// TenantID zero means company stock.
type StockKey struct {
	ItemID      int64
	WarehouseID int64
	TenantID    int64
}

// MovementTotals holds per-type sums of COMPLETED quantities.
type MovementTotals struct {
	In      int64
	Out     int64
	Reserve int64
	Release int64
}

// Available applies the ledger identity.
func (t MovementTotals) Available() int64 {
	return t.In - t.Out - t.Reserve + t.Release
}

// OnHand is physical stock regardless of reservations.
func (t MovementTotals) OnHand() int64 {
	return t.In - t.Out
}

// Reserved is the net outstanding reservation.
func (t MovementTotals) Reserved() int64 {
	return t.Reserve - t.Release
}

// BalanceQuery selects the rows summed by AvailableQuantity.
type BalanceQuery struct {
	ItemID      int64
	WarehouseID int64
	LotID       int64
	Scope       Scope
}

// BalanceFilter narrows StockBalance; zero ids mean "any".
type BalanceFilter struct {
	ItemID      int64
	WarehouseID int64
	LotID       int64
	Scope       Scope
}

// BalanceRow is the raw grouped aggregate produced by storage, one per
// (tenant, item, warehouse, lot).
type BalanceRow struct {
	TenantID      int64
	ItemID        int64
	ItemName      string
	WarehouseID   int64
	WarehouseName string
	LotID         int64
	LotNumber     string
	ExpiryDate    *time.Time
	Totals        MovementTotals
	InCostQty     int64
	InCostTotal   decimal.Decimal
}

// StockBalance is the per (item, warehouse, lot) rollup. Rows of different
// tenants are never merged, so an all-tenant read yields one row per tenant.
type StockBalance struct {
	TenantID      int64               `json:"tenant_id"`
	ItemID        int64               `json:"item_id"`
	ItemName      string              `json:"item_name"`
	WarehouseID   int64               `json:"warehouse_id"`
	WarehouseName string              `json:"warehouse_name"`
	LotID         *int64              `json:"lot_id,omitempty"`
	LotNumber     *string             `json:"lot_number,omitempty"`
	ExpiryDate    *time.Time          `json:"expiry_date,omitempty"`
	OnHand        int64               `json:"on_hand"`
	Reserved      int64               `json:"reserved"`
	Available     int64               `json:"available"`
	AvgCost       decimal.NullDecimal `json:"avg_cost"`
}

// HistoryFilter narrows TransactionHistory.
type HistoryFilter struct {
	ItemID          int64
	WarehouseID     int64
	LotID           int64
	SerialID        int64
	TransactionType TransactionType
	From            time.Time
	To              time.Time
	Scope           Scope
	Limit           int
	Offset          int
}

// Strategy selects the lot ordering used by Allocate.
type Strategy string

const (
	StrategyFIFO Strategy = "FIFO"
	StrategyFEFO Strategy = "FEFO"
)

// AllocationRequest asks which lots should satisfy a quantity.
type AllocationRequest struct {
	ItemID      int64
	WarehouseID int64
	Quantity    int64
	Scope       Scope
	Strategy    Strategy
}

// Allocation is one proposed (lot, quantity) split.
type Allocation struct {
	LotID      int64               `json:"lot_id"`
	LotNumber  string              `json:"lot_number"`
	Quantity   int64               `json:"quantity"`
	ExpiryDate *time.Time          `json:"expiry_date,omitempty"`
	UnitCost   decimal.NullDecimal `json:"unit_cost"`
}

// TransferInput moves stock between two warehouses of the same tenant.
type TransferInput struct {
	TransactionNo   string
	ItemID          int64
	LotID           int64
	Quantity        int64
	FromWarehouseID int64
	ToWarehouseID   int64
	UnitCost        decimal.NullDecimal
	ReferenceType   string
	ReferenceID     string
	ReferenceNo     string
	Notes           string
	TenantID        int64
	ActorID         int64
}

// IssueInput drives IssueAllocated.
type IssueInput struct {
	ItemID          int64
	WarehouseID     int64
	Quantity        int64
	Strategy        Strategy
	TransactionType TransactionType
	ReferenceType   string
	ReferenceID     string
	ReferenceNo     string
	Notes           string
	TenantID        int64
	ActorID         int64
}
