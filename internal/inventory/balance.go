package inventory

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// AvailableQuantity returns ΣIN − ΣOUT − ΣRESERVE + ΣRELEASE over completed
// rows of the item in the warehouse. lotID zero sums every lot.
func (s *Service) AvailableQuantity(ctx context.Context, itemID, warehouseID int64, scope Scope, lotID int64) (int64, error) {
	if err := requireScope(scope); err != nil {
		return 0, err
	}
	if itemID <= 0 || warehouseID <= 0 {
		return 0, invalidf("item and warehouse required")
	}
	totals, err := s.store.SumMovements(ctx, BalanceQuery{ItemID: itemID, WarehouseID: warehouseID, LotID: lotID, Scope: scope})
	if err != nil {
		return 0, err
	}
	return totals.Available(), nil
}

// StockBalance rolls the ledger up per (item, warehouse, lot).
func (s *Service) StockBalance(ctx context.Context, filter BalanceFilter) ([]StockBalance, error) {
	if err := requireScope(filter.Scope); err != nil {
		return nil, err
	}
	rows, err := s.store.StockBalances(ctx, filter)
	if err != nil {
		return nil, err
	}
	return StockBalancesFromRows(rows), nil
}

// StockBalancesFromRows maps raw aggregates into StockBalance values,
// ordered by tenant, item, warehouse and lot.
func StockBalancesFromRows(rows []BalanceRow) []StockBalance {
	out := make([]StockBalance, 0, len(rows))
	for _, row := range rows {
		out = append(out, NewStockBalance(row))
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.TenantID != b.TenantID {
			return a.TenantID < b.TenantID
		}
		if a.ItemID != b.ItemID {
			return a.ItemID < b.ItemID
		}
		if a.WarehouseID != b.WarehouseID {
			return a.WarehouseID < b.WarehouseID
		}
		return lotOrder(a.LotID) < lotOrder(b.LotID)
	})
	return out
}

// NewStockBalance converts one aggregate row.
func NewStockBalance(row BalanceRow) StockBalance {
	sb := StockBalance{
		TenantID:      row.TenantID,
		ItemID:        row.ItemID,
		ItemName:      row.ItemName,
		WarehouseID:   row.WarehouseID,
		WarehouseName: row.WarehouseName,
		ExpiryDate:    row.ExpiryDate,
		OnHand:        row.Totals.OnHand(),
		Reserved:      row.Totals.Reserved(),
	}
	sb.Available = sb.OnHand - sb.Reserved
	if row.LotID != 0 {
		lotID := row.LotID
		lotNumber := row.LotNumber
		sb.LotID = &lotID
		sb.LotNumber = &lotNumber
	}
	if row.InCostQty > 0 {
		sb.AvgCost = decimal.NewNullDecimal(row.InCostTotal.Div(decimal.NewFromInt(row.InCostQty)).Round(4))
	}
	return sb
}

func lotOrder(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}

// TransactionHistory lists movements newest first within the scope.
func (s *Service) TransactionHistory(ctx context.Context, filter HistoryFilter, page shared.PageRequest) ([]Movement, shared.Pagination, error) {
	if err := requireScope(filter.Scope); err != nil {
		return nil, shared.Pagination{}, err
	}
	page = page.Normalize()
	filter.Limit = page.PerPage
	filter.Offset = page.Offset()
	rows, total, err := s.store.ListMovements(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return rows, shared.NewPagination(page.Page, page.PerPage, total), nil
}

// GetMovement loads a movement visible in the scope.
func (s *Service) GetMovement(ctx context.Context, scope Scope, id int64) (Movement, error) {
	if err := requireScope(scope); err != nil {
		return Movement{}, err
	}
	m, err := s.store.GetMovement(ctx, id)
	if err != nil {
		return Movement{}, err
	}
	if !scope.Includes(m.TenantID) {
		return Movement{}, ErrNotFound
	}
	return m, nil
}

// ExpiringLot pairs a lot with its remaining quantity in one warehouse.
type ExpiringLot struct {
	Lot               Lot   `json:"lot"`
	WarehouseID       int64 `json:"warehouse_id"`
	AvailableQuantity int64 `json:"available_quantity"`
	DaysToExpiry      int   `json:"days_to_expiry"`
}

// ExpiringLots lists lots expiring within daysThreshold that still hold
// stock, soonest expiry first. A lot split across warehouses by transfers
// yields one entry per warehouse holding it. Exhausted lots are excluded.
func (s *Service) ExpiringLots(ctx context.Context, scope Scope, daysThreshold int) ([]ExpiringLot, error) {
	if err := requireScope(scope); err != nil {
		return nil, err
	}
	if daysThreshold < 0 {
		return nil, invalidf("days threshold must not be negative")
	}
	today := s.today()
	cutoff := today.AddDate(0, 0, daysThreshold)
	lots, err := s.store.ListLots(ctx, LotFilter{Scope: scope, ExpiresOnOrBefore: &cutoff})
	if err != nil {
		return nil, err
	}
	var out []ExpiringLot
	for _, lot := range lots {
		if lot.ExpiryDate == nil || lot.ExpiryDate.After(cutoff) {
			continue
		}
		rows, err := s.store.StockBalances(ctx, BalanceFilter{
			ItemID: lot.ItemID,
			LotID:  lot.ID,
			Scope:  ScopeOf(lot.TenantID),
		})
		if err != nil {
			return nil, err
		}
		perWarehouse := make(map[int64]int64, len(rows))
		for _, row := range rows {
			if row.LotID == lot.ID {
				perWarehouse[row.WarehouseID] += row.Totals.Available()
			}
		}
		for warehouseID, available := range perWarehouse {
			if available <= 0 {
				continue
			}
			out = append(out, ExpiringLot{
				Lot:               lot,
				WarehouseID:       warehouseID,
				AvailableQuantity: available,
				DaysToExpiry:      daysBetween(today, *lot.ExpiryDate),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Lot.ExpiryDate.Equal(*b.Lot.ExpiryDate) {
			return a.Lot.ExpiryDate.Before(*b.Lot.ExpiryDate)
		}
		if a.Lot.ID != b.Lot.ID {
			return a.Lot.ID < b.Lot.ID
		}
		return a.WarehouseID < b.WarehouseID
	})
	return out, nil
}

func daysBetween(from, to time.Time) int {
	to = time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(math.Round(to.Sub(from).Hours() / 24))
}
