// Package compat reshapes ledger balances into the flat inventory records
// older callers expect: one row per item per tenant keyed by a composite id.
package compat

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/inventory"
)

// CompositeBase separates the tenant and item parts of a composite id.
const CompositeBase int64 = 1_000_000

// DefaultReorderLevel applies when the item master has no reorder level.
const DefaultReorderLevel int64 = 10

// CompositeID returns tenantID*1_000_000 + itemID. Legacy callers recover
// the item with id % 1_000_000, so the formula must not change.
func CompositeID(tenantID, itemID int64) int64 {
	return tenantID*CompositeBase + itemID
}

// ItemIDFromComposite recovers the item id.
func ItemIDFromComposite(id int64) int64 {
	return id % CompositeBase
}

// TenantIDFromComposite recovers the tenant id.
func TenantIDFromComposite(id int64) int64 {
	return id / CompositeBase
}

// Status is the legacy stock level label.
type Status string

const (
	StatusInStock    Status = "in_stock"
	StatusLowStock   Status = "low_stock"
	StatusOutOfStock Status = "out_of_stock"
)

// StockStatus labels a quantity against a reorder level.
func StockStatus(quantity, reorderLevel int64) Status {
	switch {
	case quantity <= 0:
		return StatusOutOfStock
	case quantity <= reorderLevel:
		return StatusLowStock
	default:
		return StatusInStock
	}
}

// InventoryView is the flat per item per tenant record.
type InventoryView struct {
	ID           int64               `json:"id"`
	ItemID       int64               `json:"item_id"`
	TenantID     int64               `json:"tenant_id"`
	SKU          string              `json:"sku"`
	Name         string              `json:"name"`
	Unit         string              `json:"unit"`
	Quantity     int64               `json:"quantity"`
	OnHand       int64               `json:"on_hand"`
	Reserved     int64               `json:"reserved"`
	ReorderLevel int64               `json:"reorder_level"`
	UnitPrice    decimal.NullDecimal `json:"unit_price"`
	AvgCost      decimal.NullDecimal `json:"avg_cost"`
	Status       Status              `json:"status"`
	HasBatches   bool                `json:"has_batches"`
	HasSerials   bool                `json:"has_serials"`
}

// BatchDetailsView is one lot of an inventory record.
type BatchDetailsView struct {
	InventoryID     int64               `json:"inventory_id"`
	LotID           int64               `json:"lot_id"`
	BatchNumber     string              `json:"batch_number"`
	WarehouseID     int64               `json:"warehouse_id"`
	Quantity        int64               `json:"quantity"`
	ManufactureDate *time.Time          `json:"manufacture_date,omitempty"`
	ExpiryDate      *time.Time          `json:"expiry_date,omitempty"`
	UnitCost        decimal.NullDecimal `json:"unit_cost"`
	Status          string              `json:"status"`
}

// SerialDetailsView is one serialised unit of an inventory record.
type SerialDetailsView struct {
	InventoryID  int64      `json:"inventory_id"`
	SerialID     int64      `json:"serial_id"`
	SerialNumber string     `json:"serial_number"`
	LotID        int64      `json:"lot_id,omitempty"`
	WarehouseID  int64      `json:"warehouse_id,omitempty"`
	Status       string     `json:"status"`
	OwnerType    string     `json:"owner_type"`
	WarrantyEnd  *time.Time `json:"warranty_end,omitempty"`
}

// Ledger is the slice of the inventory service the views read from.
type Ledger interface {
	StockBalance(ctx context.Context, filter inventory.BalanceFilter) ([]inventory.StockBalance, error)
	ListLots(ctx context.Context, filter inventory.LotFilter) ([]inventory.Lot, error)
	ListSerials(ctx context.Context, filter inventory.SerialFilter) ([]inventory.Serial, error)
}

// ViewService builds legacy views, optionally through a Cache.
type ViewService struct {
	ledger       Ledger
	catalog      ItemCatalog
	cache        *Cache
	reorderLevel int64
}

// NewViewService builds ViewService. cache may be nil.
func NewViewService(ledger Ledger, catalog ItemCatalog, cache *Cache, defaultReorderLevel int64) *ViewService {
	if defaultReorderLevel <= 0 {
		defaultReorderLevel = DefaultReorderLevel
	}
	return &ViewService{ledger: ledger, catalog: catalog, cache: cache, reorderLevel: defaultReorderLevel}
}

// InventoryViews lists one record per (tenant, item) with stock in scope.
func (s *ViewService) InventoryViews(ctx context.Context, scope inventory.Scope) ([]InventoryView, error) {
	if !scope.Valid() {
		return nil, inventory.ErrScopeRequired
	}
	var out []InventoryView
	err := s.cached(ctx, &out, func(ctx context.Context) (any, error) {
		return s.buildViews(ctx, scope, 0)
	}, "views", "list", scope.String())
	return out, err
}

// InventoryView loads the record behind a composite id. The tenant encoded
// in the id must be visible in scope.
func (s *ViewService) InventoryView(ctx context.Context, scope inventory.Scope, compositeID int64) (InventoryView, error) {
	tenantID, itemID, err := s.resolve(scope, compositeID)
	if err != nil {
		return InventoryView{}, err
	}
	var out InventoryView
	err = s.cached(ctx, &out, func(ctx context.Context) (any, error) {
		views, err := s.buildViews(ctx, inventory.ScopeOf(tenantID), itemID)
		if err != nil {
			return nil, err
		}
		if len(views) > 0 {
			return views[0], nil
		}
		items, err := s.catalog.Items(ctx, []int64{itemID})
		if err != nil {
			return nil, err
		}
		item, ok := items[itemID]
		if !ok {
			return nil, inventory.ErrNotFound
		}
		return s.newView(tenantID, item, inventory.StockBalance{}), nil
	}, "views", "item", fmt.Sprint(compositeID))
	return out, err
}

// BatchDetails lists the lots of a record with their derived quantity.
func (s *ViewService) BatchDetails(ctx context.Context, scope inventory.Scope, compositeID int64) ([]BatchDetailsView, error) {
	tenantID, itemID, err := s.resolve(scope, compositeID)
	if err != nil {
		return nil, err
	}
	var out []BatchDetailsView
	err = s.cached(ctx, &out, func(ctx context.Context) (any, error) {
		tenantScope := inventory.ScopeOf(tenantID)
		lots, err := s.ledger.ListLots(ctx, inventory.LotFilter{ItemID: itemID, Scope: tenantScope})
		if err != nil {
			return nil, err
		}
		balances, err := s.ledger.StockBalance(ctx, inventory.BalanceFilter{ItemID: itemID, Scope: tenantScope})
		if err != nil {
			return nil, err
		}
		available := make(map[int64]int64, len(balances))
		for _, b := range balances {
			if b.LotID != nil {
				available[*b.LotID] += b.Available
			}
		}
		views := make([]BatchDetailsView, 0, len(lots))
		for _, lot := range lots {
			views = append(views, BatchDetailsView{
				InventoryID:     compositeID,
				LotID:           lot.ID,
				BatchNumber:     lot.LotNumber,
				WarehouseID:     lot.WarehouseID,
				Quantity:        available[lot.ID],
				ManufactureDate: lot.ManufactureDate,
				ExpiryDate:      lot.ExpiryDate,
				UnitCost:        lot.UnitCost,
				Status:          string(lot.Status),
			})
		}
		return views, nil
	}, "views", "batches", fmt.Sprint(compositeID))
	return out, err
}

// SerialDetails lists the serialised units of a record.
func (s *ViewService) SerialDetails(ctx context.Context, scope inventory.Scope, compositeID int64) ([]SerialDetailsView, error) {
	tenantID, itemID, err := s.resolve(scope, compositeID)
	if err != nil {
		return nil, err
	}
	var out []SerialDetailsView
	err = s.cached(ctx, &out, func(ctx context.Context) (any, error) {
		serials, err := s.ledger.ListSerials(ctx, inventory.SerialFilter{ItemID: itemID, Scope: inventory.ScopeOf(tenantID)})
		if err != nil {
			return nil, err
		}
		views := make([]SerialDetailsView, 0, len(serials))
		for _, sr := range serials {
			views = append(views, SerialDetailsView{
				InventoryID:  compositeID,
				SerialID:     sr.ID,
				SerialNumber: sr.SerialNumber,
				LotID:        sr.LotID,
				WarehouseID:  sr.CurrentWarehouseID,
				Status:       string(sr.Status),
				OwnerType:    string(sr.CurrentOwnerType),
				WarrantyEnd:  sr.WarrantyEnd,
			})
		}
		return views, nil
	}, "views", "serials", fmt.Sprint(compositeID))
	return out, err
}

func (s *ViewService) resolve(scope inventory.Scope, compositeID int64) (int64, int64, error) {
	if !scope.Valid() {
		return 0, 0, inventory.ErrScopeRequired
	}
	if compositeID <= 0 {
		return 0, 0, inventory.ErrNotFound
	}
	tenantID, itemID := TenantIDFromComposite(compositeID), ItemIDFromComposite(compositeID)
	if itemID == 0 || !scope.Includes(tenantID) {
		return 0, 0, inventory.ErrNotFound
	}
	return tenantID, itemID, nil
}

type viewKey struct {
	tenantID int64
	itemID   int64
}

// buildViews folds balances across warehouses and lots into one record per
// (tenant, item). itemID zero keeps every item.
func (s *ViewService) buildViews(ctx context.Context, scope inventory.Scope, itemID int64) ([]InventoryView, error) {
	balances, err := s.ledger.StockBalance(ctx, inventory.BalanceFilter{ItemID: itemID, Scope: scope})
	if err != nil {
		return nil, err
	}
	totals := make(map[viewKey]inventory.StockBalance)
	costQty := make(map[viewKey]int64)
	costSum := make(map[viewKey]decimal.Decimal)
	batches := make(map[viewKey]bool)
	var order []viewKey
	for _, b := range balances {
		k := viewKey{tenantID: b.TenantID, itemID: b.ItemID}
		agg, seen := totals[k]
		if !seen {
			order = append(order, k)
			agg.TenantID, agg.ItemID, agg.ItemName = b.TenantID, b.ItemID, b.ItemName
		}
		agg.OnHand += b.OnHand
		agg.Reserved += b.Reserved
		agg.Available += b.Available
		if b.AvgCost.Valid && b.OnHand > 0 {
			costQty[k] += b.OnHand
			costSum[k] = costSum[k].Add(b.AvgCost.Decimal.Mul(decimal.NewFromInt(b.OnHand)))
		}
		if b.LotID != nil {
			batches[k] = true
		}
		totals[k] = agg
	}
	if len(order) == 0 {
		return []InventoryView{}, nil
	}

	ids := make([]int64, 0, len(order))
	for _, k := range order {
		ids = append(ids, k.itemID)
	}
	items, err := s.catalog.Items(ctx, ids)
	if err != nil {
		return nil, err
	}
	serials, err := s.ledger.ListSerials(ctx, inventory.SerialFilter{ItemID: itemID, Scope: scope})
	if err != nil {
		return nil, err
	}
	hasSerials := make(map[viewKey]bool, len(serials))
	for _, sr := range serials {
		hasSerials[viewKey{tenantID: sr.TenantID, itemID: sr.ItemID}] = true
	}

	views := make([]InventoryView, 0, len(order))
	for _, k := range order {
		item, ok := items[k.itemID]
		if !ok {
			item = Item{ID: k.itemID, Name: totals[k].ItemName}
		}
		agg := totals[k]
		if qty := costQty[k]; qty > 0 {
			agg.AvgCost = decimal.NewNullDecimal(costSum[k].Div(decimal.NewFromInt(qty)).Round(4))
		}
		v := s.newView(k.tenantID, item, agg)
		v.HasBatches = batches[k]
		v.HasSerials = hasSerials[k]
		views = append(views, v)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views, nil
}

func (s *ViewService) newView(tenantID int64, item Item, agg inventory.StockBalance) InventoryView {
	reorder := s.reorderLevel
	if item.ReorderLevel != nil {
		reorder = *item.ReorderLevel
	}
	return InventoryView{
		ID:           CompositeID(tenantID, item.ID),
		ItemID:       item.ID,
		TenantID:     tenantID,
		SKU:          item.SKU,
		Name:         item.Name,
		Unit:         item.Unit,
		Quantity:     agg.Available,
		OnHand:       agg.OnHand,
		Reserved:     agg.Reserved,
		ReorderLevel: reorder,
		UnitPrice:    item.UnitPrice,
		AvgCost:      agg.AvgCost,
		Status:       StockStatus(agg.Available, reorder),
	}
}

func (s *ViewService) cached(ctx context.Context, dest any, loader func(context.Context) (any, error), parts ...string) error {
	key, err := s.cache.BuildKey(ctx, parts...)
	if err != nil {
		return err
	}
	return s.cache.FetchJSON(ctx, key, dest, loader)
}
