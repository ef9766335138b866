package inventory

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LotStatus is the stored lifecycle state of a lot. Exhaustion is never
// stored; it is derived from the ledger.
type LotStatus string

const (
	LotActive   LotStatus = "ACTIVE"
	LotExpired  LotStatus = "EXPIRED"
	LotBlocked  LotStatus = "BLOCKED"
	LotConsumed LotStatus = "CONSUMED"
)

// QualityStatus records inspection results of a lot.
type QualityStatus string

const (
	QualityPending    QualityStatus = "PENDING"
	QualityApproved   QualityStatus = "APPROVED"
	QualityRejected   QualityStatus = "REJECTED"
	QualityQuarantine QualityStatus = "QUARANTINE"
)

// Lot is a batch-tracked receipt of an item.
type Lot struct {
	ID              int64               `json:"id"`
	LotNumber       string              `json:"lot_number"`
	ItemID          int64               `json:"item_id"`
	ManufactureDate *time.Time          `json:"manufacture_date,omitempty"`
	ExpiryDate      *time.Time          `json:"expiry_date,omitempty"`
	ReceivedDate    *time.Time          `json:"received_date,omitempty"`
	PurchaseOrderID string              `json:"purchase_order_id,omitempty"`
	GRNID           string              `json:"grn_id,omitempty"`
	UnitCost        decimal.NullDecimal `json:"unit_cost"`
	LandedCost      decimal.NullDecimal `json:"landed_cost"`
	QualityStatus   QualityStatus       `json:"quality_status"`
	Status          LotStatus           `json:"status"`
	StatusReason    string              `json:"status_reason,omitempty"`
	StatusChangedBy int64               `json:"status_changed_by,omitempty"`
	StatusChangedAt *time.Time          `json:"status_changed_at,omitempty"`
	TenantID        int64               `json:"tenant_id"`
	WarehouseID     int64               `json:"warehouse_id"`
	Attributes      map[string]string   `json:"attributes,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// LotInput describes a lot to register.
type LotInput struct {
	LotNumber       string
	ItemID          int64
	ManufactureDate *time.Time
	ExpiryDate      *time.Time
	ReceivedDate    *time.Time
	PurchaseOrderID string
	GRNID           string
	UnitCost        decimal.NullDecimal
	LandedCost      decimal.NullDecimal
	QualityStatus   QualityStatus
	TenantID        int64
	WarehouseID     int64
	Attributes      map[string]string
}

// LotFilter narrows lot listings; zero ids mean "any".
type LotFilter struct {
	IDs         []int64
	ItemID      int64
	WarehouseID int64
	Scope       Scope
	Statuses    []LotStatus
	// ExpiresOnOrBefore keeps lots with an expiry date at or before the value.
	ExpiresOnOrBefore *time.Time
	// UsableAfter keeps lots without expiry or expiring strictly after the value.
	UsableAfter *time.Time
}

var lotTransitions = map[LotStatus][]LotStatus{
	LotActive:  {LotBlocked, LotExpired, LotConsumed},
	LotBlocked: {LotActive, LotExpired, LotConsumed},
}

// CanTransitionLot reports whether a lot may move from one status to another.
// Only ACTIVE and BLOCKED toggle; EXPIRED and CONSUMED are terminal.
func CanTransitionLot(from, to LotStatus) bool {
	for _, next := range lotTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CreateLot registers a lot. A repeated (lotNumber, itemId) returns the
// existing lot instead of failing so receipt retries stay harmless.
func (s *Service) CreateLot(ctx context.Context, input LotInput) (Lot, error) {
	input.LotNumber = strings.TrimSpace(input.LotNumber)
	if input.LotNumber == "" || input.ItemID <= 0 {
		return Lot{}, invalidf("lot number and item required")
	}
	if input.WarehouseID <= 0 {
		return Lot{}, invalidf("warehouse required")
	}
	if input.UnitCost.Valid && input.UnitCost.Decimal.IsNegative() {
		return Lot{}, ErrInvalidUnitCost
	}
	if input.LandedCost.Valid && input.LandedCost.Decimal.IsNegative() {
		return Lot{}, ErrInvalidUnitCost
	}
	if input.ManufactureDate != nil && input.ExpiryDate != nil && input.ExpiryDate.Before(*input.ManufactureDate) {
		return Lot{}, invalidf("expiry date precedes manufacture date")
	}
	existing, err := s.store.GetLotByNumber(ctx, input.LotNumber, input.ItemID)
	if err == nil {
		return ownLot(existing, input.TenantID)
	}
	if !errors.Is(err, ErrNotFound) {
		return Lot{}, err
	}
	received := input.ReceivedDate
	if received == nil {
		today := s.today()
		received = &today
	}
	quality := input.QualityStatus
	if quality == "" {
		quality = QualityPending
	}
	lot, err := s.store.InsertLot(ctx, Lot{
		LotNumber:       input.LotNumber,
		ItemID:          input.ItemID,
		ManufactureDate: input.ManufactureDate,
		ExpiryDate:      input.ExpiryDate,
		ReceivedDate:    received,
		PurchaseOrderID: input.PurchaseOrderID,
		GRNID:           input.GRNID,
		UnitCost:        input.UnitCost,
		LandedCost:      input.LandedCost,
		QualityStatus:   quality,
		Status:          LotActive,
		TenantID:        input.TenantID,
		WarehouseID:     input.WarehouseID,
		Attributes:      input.Attributes,
	})
	if errors.Is(err, ErrDuplicateLot) {
		// lost a race with a concurrent receipt of the same batch
		existing, err := s.store.GetLotByNumber(ctx, input.LotNumber, input.ItemID)
		if err != nil {
			return Lot{}, err
		}
		return ownLot(existing, input.TenantID)
	}
	if err != nil {
		return Lot{}, err
	}
	s.publishRegistry(ctx, RecordLot, lot.ID, lot.TenantID)
	return lot, nil
}

// ownLot returns an existing lot only to the tenant that registered it. The
// number is taken for anyone else and nothing about the lot is disclosed.
func ownLot(existing Lot, tenantID int64) (Lot, error) {
	if !ScopeOf(tenantID).Includes(existing.TenantID) {
		return Lot{}, ErrDuplicateLot
	}
	return existing, nil
}

// GetLot loads a lot visible in the scope.
func (s *Service) GetLot(ctx context.Context, scope Scope, id int64) (Lot, error) {
	if err := requireScope(scope); err != nil {
		return Lot{}, err
	}
	lot, err := s.store.GetLot(ctx, id)
	if err != nil {
		return Lot{}, err
	}
	if !scope.Includes(lot.TenantID) {
		return Lot{}, ErrNotFound
	}
	return lot, nil
}

// ListLots lists lots matching the filter.
func (s *Service) ListLots(ctx context.Context, filter LotFilter) ([]Lot, error) {
	if err := requireScope(filter.Scope); err != nil {
		return nil, err
	}
	return s.store.ListLots(ctx, filter)
}

// BlockLot takes an active lot out of allocation.
func (s *Service) BlockLot(ctx context.Context, scope Scope, id int64, reason string, actorID int64) (Lot, error) {
	if strings.TrimSpace(reason) == "" {
		return Lot{}, invalidf("block reason required")
	}
	return s.transitionLot(ctx, scope, id, LotBlocked, reason, actorID)
}

// UnblockLot returns a blocked lot to ACTIVE.
func (s *Service) UnblockLot(ctx context.Context, scope Scope, id int64, reason string, actorID int64) (Lot, error) {
	return s.transitionLot(ctx, scope, id, LotActive, reason, actorID)
}

// MarkLotStatus applies a terminal status (EXPIRED or CONSUMED).
func (s *Service) MarkLotStatus(ctx context.Context, scope Scope, id int64, status LotStatus, reason string, actorID int64) (Lot, error) {
	if status != LotExpired && status != LotConsumed {
		return Lot{}, ErrInvalidStatusTransition
	}
	return s.transitionLot(ctx, scope, id, status, reason, actorID)
}

// SetLotQuality records an inspection result.
func (s *Service) SetLotQuality(ctx context.Context, scope Scope, id int64, quality QualityStatus, actorID int64) (Lot, error) {
	switch quality {
	case QualityPending, QualityApproved, QualityRejected, QualityQuarantine:
	default:
		return Lot{}, invalidf("unknown quality status %q", quality)
	}
	lot, err := s.GetLot(ctx, scope, id)
	if err != nil {
		return Lot{}, err
	}
	now := s.now()
	lot.QualityStatus = quality
	lot.StatusChangedBy = actorID
	lot.StatusChangedAt = &now
	if err := s.store.UpdateLot(ctx, lot); err != nil {
		return Lot{}, err
	}
	s.publishRegistry(ctx, RecordLot, lot.ID, lot.TenantID)
	return lot, nil
}

// ExpireLots marks every ACTIVE lot whose expiry date is not after asOf as
// EXPIRED and returns how many lots changed.
func (s *Service) ExpireLots(ctx context.Context, asOf time.Time) (int, error) {
	cutoff := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
	lots, err := s.store.ListLots(ctx, LotFilter{Scope: AllTenants(), Statuses: []LotStatus{LotActive}, ExpiresOnOrBefore: &cutoff})
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, lot := range lots {
		if _, err := s.transitionLot(ctx, ScopeOf(lot.TenantID), lot.ID, LotExpired, "expiry date reached", 0); err != nil {
			if errors.Is(err, ErrInvalidStatusTransition) {
				continue
			}
			return changed, err
		}
		changed++
	}
	return changed, nil
}

func (s *Service) transitionLot(ctx context.Context, scope Scope, id int64, to LotStatus, reason string, actorID int64) (Lot, error) {
	lot, err := s.GetLot(ctx, scope, id)
	if err != nil {
		return Lot{}, err
	}
	if !CanTransitionLot(lot.Status, to) {
		return Lot{}, ErrInvalidStatusTransition
	}
	now := s.now()
	lot.Status = to
	lot.StatusReason = reason
	lot.StatusChangedBy = actorID
	lot.StatusChangedAt = &now
	if err := s.store.UpdateLot(ctx, lot); err != nil {
		return Lot{}, err
	}
	s.publishRegistry(ctx, RecordLot, lot.ID, lot.TenantID)
	return lot, nil
}
