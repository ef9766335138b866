package inventory

import (
	"context"
	"sort"
	"time"
)

// LotAvailability is a candidate lot annotated with its derived quantity.
type LotAvailability struct {
	Lot       Lot
	Available int64
}

type lotReader interface {
	ListLots(ctx context.Context, filter LotFilter) ([]Lot, error)
	StockBalances(ctx context.Context, filter BalanceFilter) ([]BalanceRow, error)
}

// Allocate proposes which lots satisfy req.Quantity. It writes nothing; the
// caller turns each Allocation into OUT or RESERVE movements. If the eligible
// lots cannot cover the quantity no allocation is returned.
func (s *Service) Allocate(ctx context.Context, req AllocationRequest) ([]Allocation, error) {
	if err := validateAllocation(req); err != nil {
		return nil, err
	}
	candidates, err := eligibleLots(ctx, s.store, req.ItemID, req.WarehouseID, req.Scope, s.today())
	if err != nil {
		return nil, err
	}
	return PlanAllocation(candidates, req.Quantity, req.Strategy)
}

// IssueAllocated allocates and appends one movement per allocated lot inside
// a single locked transaction.
func (s *Service) IssueAllocated(ctx context.Context, input IssueInput) ([]Allocation, []Movement, error) {
	txType := input.TransactionType
	if txType == "" {
		txType = TransactionIssue
	}
	mt, ok := txType.MovementType()
	if !ok || !mt.Consumes() {
		return nil, nil, invalidf("transaction type %q does not consume stock", txType)
	}
	req := AllocationRequest{
		ItemID:      input.ItemID,
		WarehouseID: input.WarehouseID,
		Quantity:    input.Quantity,
		Scope:       ScopeOf(input.TenantID),
		Strategy:    input.Strategy,
	}
	if err := validateAllocation(req); err != nil {
		return nil, nil, err
	}
	key := StockKey{ItemID: input.ItemID, WarehouseID: input.WarehouseID, TenantID: input.TenantID}
	today := s.today()
	var (
		allocations []Allocation
		posted      []Movement
	)
	err := s.withRetry(ctx, []StockKey{key}, func(ctx context.Context, tx TxStore) error {
		posted = posted[:0]
		candidates, err := eligibleLots(ctx, tx, req.ItemID, req.WarehouseID, req.Scope, today)
		if err != nil {
			return err
		}
		allocations, err = PlanAllocation(candidates, req.Quantity, req.Strategy)
		if err != nil {
			return err
		}
		for _, a := range allocations {
			m, err := s.buildMovement(MovementInput{
				TransactionType: txType,
				ItemID:          input.ItemID,
				LotID:           a.LotID,
				Quantity:        a.Quantity,
				WarehouseID:     input.WarehouseID,
				ReferenceType:   input.ReferenceType,
				ReferenceID:     input.ReferenceID,
				ReferenceNo:     input.ReferenceNo,
				UnitCost:        a.UnitCost,
				Notes:           input.Notes,
				TenantID:        input.TenantID,
				ActorID:         input.ActorID,
			})
			if err != nil {
				return err
			}
			row, err := s.appendLocked(ctx, tx, m)
			if err != nil {
				return err
			}
			posted = append(posted, row)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	s.publish(ctx, posted)
	return allocations, posted, nil
}

func validateAllocation(req AllocationRequest) error {
	if err := requireScope(req.Scope); err != nil {
		return err
	}
	if req.ItemID <= 0 || req.WarehouseID <= 0 {
		return invalidf("item and warehouse required")
	}
	if req.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	if req.Strategy != StrategyFIFO && req.Strategy != StrategyFEFO {
		return invalidf("unknown allocation strategy %q", req.Strategy)
	}
	return nil
}

// eligibleLots returns ACTIVE, unexpired lots with positive derived quantity
// in the warehouse. Candidates come from the ledger rather than the lot's home
// warehouse, so transferred stock stays allocatable.
func eligibleLots(ctx context.Context, r lotReader, itemID, warehouseID int64, scope Scope, today time.Time) ([]LotAvailability, error) {
	rows, err := r.StockBalances(ctx, BalanceFilter{ItemID: itemID, WarehouseID: warehouseID, Scope: scope})
	if err != nil {
		return nil, err
	}
	available := make(map[int64]int64, len(rows))
	for _, row := range rows {
		if row.LotID != 0 {
			available[row.LotID] += row.Totals.Available()
		}
	}
	ids := make([]int64, 0, len(available))
	for id, qty := range available {
		if qty > 0 {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	lots, err := r.ListLots(ctx, LotFilter{
		IDs:         ids,
		ItemID:      itemID,
		Scope:       scope,
		Statuses:    []LotStatus{LotActive},
		UsableAfter: &today,
	})
	if err != nil {
		return nil, err
	}
	out := make([]LotAvailability, 0, len(lots))
	for _, lot := range lots {
		if lot.Status != LotActive {
			continue
		}
		if lot.ExpiryDate != nil && !lot.ExpiryDate.After(today) {
			continue
		}
		out = append(out, LotAvailability{Lot: lot, Available: available[lot.ID]})
	}
	return out, nil
}

// PlanAllocation orders candidates by strategy and greedily splits required
// across them. Shortfall yields InsufficientStockError and no allocations.
func PlanAllocation(candidates []LotAvailability, required int64, strategy Strategy) ([]Allocation, error) {
	if required <= 0 {
		return nil, ErrInvalidQuantity
	}
	ordered := make([]LotAvailability, 0, len(candidates))
	for _, c := range candidates {
		if c.Available > 0 {
			ordered = append(ordered, c)
		}
	}
	sortCandidates(ordered, strategy)

	remaining := required
	allocations := make([]Allocation, 0, len(ordered))
	for _, c := range ordered {
		if remaining == 0 {
			break
		}
		take := min(remaining, c.Available)
		allocations = append(allocations, Allocation{
			LotID:      c.Lot.ID,
			LotNumber:  c.Lot.LotNumber,
			Quantity:   take,
			ExpiryDate: c.Lot.ExpiryDate,
			UnitCost:   c.Lot.UnitCost,
		})
		remaining -= take
	}
	if remaining > 0 {
		return nil, &InsufficientStockError{Available: required - remaining, Required: required}
	}
	return allocations, nil
}

func sortCandidates(c []LotAvailability, strategy Strategy) {
	sortKey := func(l Lot) *time.Time {
		if strategy == StrategyFEFO {
			return l.ExpiryDate
		}
		return l.ReceivedDate
	}
	sort.SliceStable(c, func(i, j int) bool {
		a, b := sortKey(c[i].Lot), sortKey(c[j].Lot)
		switch {
		case a == nil && b == nil:
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.Before(*b)
		}
		return c[i].Lot.ID < c[j].Lot.ID
	})
}
