package inventory

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SerialStatus is the lifecycle state of a tracked unit.
type SerialStatus string

const (
	SerialAvailable SerialStatus = "AVAILABLE"
	SerialReserved  SerialStatus = "RESERVED"
	SerialSold      SerialStatus = "SOLD"
	SerialReturned  SerialStatus = "RETURNED"
	SerialDamaged   SerialStatus = "DAMAGED"
	SerialScrapped  SerialStatus = "SCRAPPED"
)

// OwnerType tells who currently holds a serialised unit.
type OwnerType string

const (
	OwnerCompany     OwnerType = "COMPANY"
	OwnerDistributor OwnerType = "DISTRIBUTOR"
	OwnerCustomer    OwnerType = "CUSTOMER"
)

// Serial is one individually tracked physical unit.
type Serial struct {
	ID                 int64               `json:"id"`
	SerialNumber       string              `json:"serial_number"`
	ItemID             int64               `json:"item_id"`
	LotID              int64               `json:"lot_id,omitempty"`
	Status             SerialStatus        `json:"status"`
	CurrentWarehouseID int64               `json:"current_warehouse_id,omitempty"`
	CurrentOwnerType   OwnerType           `json:"current_owner_type"`
	CurrentOwnerID     int64               `json:"current_owner_id,omitempty"`
	TenantID           int64               `json:"tenant_id"`
	UnitCost           decimal.NullDecimal `json:"unit_cost"`
	LandedCost         decimal.NullDecimal `json:"landed_cost"`
	WarrantyStart      *time.Time          `json:"warranty_start,omitempty"`
	WarrantyEnd        *time.Time          `json:"warranty_end,omitempty"`
	SoldAt             *time.Time          `json:"sold_at,omitempty"`
	ReturnedAt         *time.Time          `json:"returned_at,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// SerialInput describes a unit to register.
type SerialInput struct {
	SerialNumber  string
	ItemID        int64
	LotID         int64
	WarehouseID   int64
	OwnerType     OwnerType
	OwnerID       int64
	TenantID      int64
	UnitCost      decimal.NullDecimal
	LandedCost    decimal.NullDecimal
	WarrantyStart *time.Time
	WarrantyEnd   *time.Time
}

// SerialUpdate carries optional fields merged by UpdateSerialStatus.
type SerialUpdate struct {
	WarehouseID   *int64
	OwnerType     *OwnerType
	OwnerID       *int64
	SoldAt        *time.Time
	ReturnedAt    *time.Time
	WarrantyStart *time.Time
	WarrantyEnd   *time.Time
}

// SerialFilter narrows serial listings; zero ids mean "any".
type SerialFilter struct {
	ItemID      int64
	LotID       int64
	WarehouseID int64
	Status      SerialStatus
	Scope       Scope
}

var serialTransitions = map[SerialStatus][]SerialStatus{
	SerialAvailable: {SerialReserved, SerialSold, SerialDamaged, SerialScrapped},
	SerialReserved:  {SerialAvailable, SerialSold, SerialDamaged},
	SerialSold:      {SerialReturned, SerialAvailable},
	SerialReturned:  {SerialAvailable, SerialDamaged, SerialScrapped},
	SerialDamaged:   {SerialAvailable, SerialScrapped},
}

// CanTransitionSerial reports whether the transition is in the table used
// when strict serial transitions are enabled.
func CanTransitionSerial(from, to SerialStatus) bool {
	if from == to {
		return true
	}
	for _, next := range serialTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func validSerialStatus(st SerialStatus) bool {
	switch st {
	case SerialAvailable, SerialReserved, SerialSold, SerialReturned, SerialDamaged, SerialScrapped:
		return true
	}
	return false
}

// CreateSerial registers a unit. Unlike lots, a duplicate (serialNumber,
// itemId) fails with ErrDuplicateSerial.
func (s *Service) CreateSerial(ctx context.Context, input SerialInput) (Serial, error) {
	input.SerialNumber = strings.TrimSpace(input.SerialNumber)
	if input.SerialNumber == "" || input.ItemID <= 0 {
		return Serial{}, invalidf("serial number and item required")
	}
	if input.UnitCost.Valid && input.UnitCost.Decimal.IsNegative() {
		return Serial{}, ErrInvalidUnitCost
	}
	owner := input.OwnerType
	if owner == "" {
		owner = OwnerCompany
		if input.TenantID > 0 {
			owner = OwnerDistributor
		}
	}
	serial, err := s.store.InsertSerial(ctx, Serial{
		SerialNumber:       input.SerialNumber,
		ItemID:             input.ItemID,
		LotID:              input.LotID,
		Status:             SerialAvailable,
		CurrentWarehouseID: input.WarehouseID,
		CurrentOwnerType:   owner,
		CurrentOwnerID:     input.OwnerID,
		TenantID:           input.TenantID,
		UnitCost:           input.UnitCost,
		LandedCost:         input.LandedCost,
		WarrantyStart:      input.WarrantyStart,
		WarrantyEnd:        input.WarrantyEnd,
	})
	if err != nil {
		return Serial{}, err
	}
	s.publishRegistry(ctx, RecordSerial, serial.ID, serial.TenantID)
	return serial, nil
}

// GetSerial loads a serial visible in the scope.
func (s *Service) GetSerial(ctx context.Context, scope Scope, id int64) (Serial, error) {
	if err := requireScope(scope); err != nil {
		return Serial{}, err
	}
	serial, err := s.store.GetSerial(ctx, id)
	if err != nil {
		return Serial{}, err
	}
	if !scope.Includes(serial.TenantID) {
		return Serial{}, ErrNotFound
	}
	return serial, nil
}

// ListSerials lists serials matching the filter.
func (s *Service) ListSerials(ctx context.Context, filter SerialFilter) ([]Serial, error) {
	if err := requireScope(filter.Scope); err != nil {
		return nil, err
	}
	return s.store.ListSerials(ctx, filter)
}

// UpdateSerialStatus sets the status and merges any supplied owner and date
// fields. The transition table is only enforced in strict mode.
func (s *Service) UpdateSerialStatus(ctx context.Context, scope Scope, id int64, status SerialStatus, extra SerialUpdate) (Serial, error) {
	if !validSerialStatus(status) {
		return Serial{}, invalidf("unknown serial status %q", status)
	}
	serial, err := s.GetSerial(ctx, scope, id)
	if err != nil {
		return Serial{}, err
	}
	if s.strictSerial && !CanTransitionSerial(serial.Status, status) {
		return Serial{}, ErrInvalidStatusTransition
	}
	serial.Status = status
	if extra.WarehouseID != nil {
		serial.CurrentWarehouseID = *extra.WarehouseID
	}
	if extra.OwnerType != nil {
		serial.CurrentOwnerType = *extra.OwnerType
	}
	if extra.OwnerID != nil {
		serial.CurrentOwnerID = *extra.OwnerID
	}
	if extra.SoldAt != nil {
		serial.SoldAt = extra.SoldAt
	}
	if extra.ReturnedAt != nil {
		serial.ReturnedAt = extra.ReturnedAt
	}
	if extra.WarrantyStart != nil {
		serial.WarrantyStart = extra.WarrantyStart
	}
	if extra.WarrantyEnd != nil {
		serial.WarrantyEnd = extra.WarrantyEnd
	}
	serial.UpdatedAt = s.now()
	if err := s.store.UpdateSerial(ctx, serial); err != nil {
		return Serial{}, err
	}
	s.publishRegistry(ctx, RecordSerial, serial.ID, serial.TenantID)
	return serial, nil
}
