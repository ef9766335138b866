package inventory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NewTransactionNo builds a time-based transaction number with a random suffix.
// Uniqueness is enforced by storage; a collision fails the write.
func NewTransactionNo(at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
	return fmt.Sprintf("TXN-%s-%s", at.UTC().Format("20060102150405"), suffix)
}

// Append records one movement. OUT and RESERVE rows are rejected with
// InsufficientStockError when the declared tuple cannot cover the quantity.
func (s *Service) Append(ctx context.Context, input MovementInput) (Movement, error) {
	rows, err := s.AppendAll(ctx, []MovementInput{input})
	if err != nil {
		return Movement{}, err
	}
	return rows[0], nil
}

// AppendAll records several movements atomically: either every row is
// written or none is.
func (s *Service) AppendAll(ctx context.Context, inputs []MovementInput) ([]Movement, error) {
	if len(inputs) == 0 {
		return nil, invalidf("no movements supplied")
	}
	movements := make([]Movement, 0, len(inputs))
	for _, input := range inputs {
		m, err := s.buildMovement(input)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return s.appendBatch(ctx, movements)
}

// Transfer moves stock from one warehouse to another in a single transaction.
func (s *Service) Transfer(ctx context.Context, input TransferInput) (Movement, Movement, error) {
	if input.FromWarehouseID == 0 || input.ToWarehouseID == 0 {
		return Movement{}, Movement{}, invalidf("source and destination warehouse required")
	}
	if input.FromWarehouseID == input.ToWarehouseID {
		return Movement{}, Movement{}, invalidf("source and destination warehouse must differ")
	}
	base := input.TransactionNo
	if base == "" {
		base = s.txnNo(s.now())
	}
	common := MovementInput{
		ItemID:        input.ItemID,
		LotID:         input.LotID,
		Quantity:      input.Quantity,
		UnitCost:      input.UnitCost,
		ReferenceType: input.ReferenceType,
		ReferenceID:   input.ReferenceID,
		ReferenceNo:   input.ReferenceNo,
		TenantID:      input.TenantID,
		ActorID:       input.ActorID,
	}
	out := common
	out.TransactionNo = base + "-OUT"
	out.TransactionType = TransactionTransferOut
	out.WarehouseID = input.FromWarehouseID
	out.Notes = strings.TrimSpace(fmt.Sprintf("Transfer to %d %s", input.ToWarehouseID, input.Notes))

	in := common
	in.TransactionNo = base + "-IN"
	in.TransactionType = TransactionTransferIn
	in.WarehouseID = input.ToWarehouseID
	in.Notes = strings.TrimSpace(fmt.Sprintf("Transfer from %d %s", input.FromWarehouseID, input.Notes))

	rows, err := s.AppendAll(ctx, []MovementInput{out, in})
	if err != nil {
		return Movement{}, Movement{}, err
	}
	return rows[0], rows[1], nil
}

// Reverse appends the compensating row for a completed movement and flags
// the original as reversed.
func (s *Service) Reverse(ctx context.Context, movementID int64, reason string, actorID int64) (Movement, error) {
	if movementID <= 0 {
		return Movement{}, invalidf("movement id required")
	}
	orig, err := s.store.GetMovement(ctx, movementID)
	if err != nil {
		return Movement{}, err
	}
	if err := checkReversible(orig); err != nil {
		return Movement{}, err
	}
	txnNo := s.txnNo(s.now())
	var posted Movement
	err = s.withRetry(ctx, []StockKey{orig.Key()}, func(ctx context.Context, tx TxStore) error {
		locked, err := tx.GetMovementForUpdate(ctx, movementID)
		if err != nil {
			return err
		}
		if err := checkReversible(locked); err != nil {
			return err
		}
		mt := locked.MovementType.Opposite()
		comp := Movement{
			TransactionNo:   txnNo,
			TransactionDate: s.now(),
			TransactionType: reversalTransaction(mt),
			MovementType:    mt,
			ItemID:          locked.ItemID,
			LotID:           locked.LotID,
			SerialID:        locked.SerialID,
			Quantity:        locked.Quantity,
			WarehouseID:     locked.WarehouseID,
			ReferenceType:   ReferenceReversal,
			ReferenceID:     strconv.FormatInt(locked.ID, 10),
			ReferenceNo:     locked.TransactionNo,
			UnitCost:        locked.UnitCost,
			TotalCost:       locked.TotalCost,
			Status:          MovementCompleted,
			ReversalOfID:    locked.ID,
			Notes:           reason,
			TenantID:        locked.TenantID,
			CreatedBy:       actorID,
		}
		row, err := s.appendLocked(ctx, tx, comp)
		if err != nil {
			return err
		}
		if err := tx.MarkReversed(ctx, locked.ID, row.ID); err != nil {
			return err
		}
		posted = row
		return nil
	})
	if err != nil {
		return Movement{}, err
	}
	s.publish(ctx, []Movement{posted})
	return posted, nil
}

func checkReversible(m Movement) error {
	if m.IsReversed {
		return ErrAlreadyReversed
	}
	if m.ReversalOfID != 0 {
		return invalidf("movement %d is itself a reversal", m.ID)
	}
	if m.Status != MovementCompleted {
		return invalidf("movement %d is %s", m.ID, m.Status)
	}
	return nil
}

func (s *Service) appendBatch(ctx context.Context, movements []Movement) ([]Movement, error) {
	var posted []Movement
	err := s.withRetry(ctx, lockKeys(movements), func(ctx context.Context, tx TxStore) error {
		posted = posted[:0]
		for _, m := range movements {
			row, err := s.appendLocked(ctx, tx, m)
			if err != nil {
				return err
			}
			posted = append(posted, row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, posted)
	return posted, nil
}

// appendLocked must run while the movement's StockKey is held.
func (s *Service) appendLocked(ctx context.Context, tx TxStore, m Movement) (Movement, error) {
	scope := ScopeOf(m.TenantID)
	if m.LotID != 0 {
		if err := checkLot(ctx, tx, m); err != nil {
			return Movement{}, err
		}
	}
	tuple, err := tx.SumMovements(ctx, BalanceQuery{ItemID: m.ItemID, WarehouseID: m.WarehouseID, LotID: m.LotID, Scope: scope})
	if err != nil {
		return Movement{}, err
	}
	if m.MovementType.Consumes() {
		available := tuple.Available()
		if m.LotID != 0 {
			item, err := tx.SumMovements(ctx, BalanceQuery{ItemID: m.ItemID, WarehouseID: m.WarehouseID, Scope: scope})
			if err != nil {
				return Movement{}, err
			}
			available = min(available, item.Available())
		}
		if available < m.Quantity {
			return Movement{}, &InsufficientStockError{Available: max(available, 0), Required: m.Quantity}
		}
	}
	m.RunningBalance = tuple.Available() + m.Effect()
	return tx.InsertMovement(ctx, m)
}

// checkLot requires the referenced lot to exist, belong to the movement's
// tenant and carry the same item.
func checkLot(ctx context.Context, tx TxStore, m Movement) error {
	lots, err := tx.ListLots(ctx, LotFilter{IDs: []int64{m.LotID}, Scope: AllTenants()})
	if err != nil {
		return err
	}
	if len(lots) == 0 || !ScopeOf(m.TenantID).Includes(lots[0].TenantID) {
		return fmt.Errorf("lot %d: %w", m.LotID, ErrNotFound)
	}
	if lots[0].ItemID != m.ItemID {
		return invalidf("lot %d belongs to item %d, not %d", m.LotID, lots[0].ItemID, m.ItemID)
	}
	return nil
}

func (s *Service) buildMovement(input MovementInput) (Movement, error) {
	if input.ItemID <= 0 || input.WarehouseID <= 0 {
		return Movement{}, invalidf("item and warehouse required")
	}
	if input.Quantity <= 0 {
		return Movement{}, ErrInvalidQuantity
	}
	if input.TenantID < 0 || input.LotID < 0 || input.SerialID < 0 {
		return Movement{}, invalidf("ids must not be negative")
	}
	if input.SerialID != 0 && input.Quantity != 1 {
		return Movement{}, invalidf("serial movements carry quantity 1")
	}
	bound, ok := input.TransactionType.MovementType()
	if !ok {
		return Movement{}, invalidf("unknown transaction type %q", input.TransactionType)
	}
	mt := input.MovementType
	if mt == "" {
		mt = bound
	}
	if mt != bound {
		return Movement{}, invalidf("transaction type %s requires movement %s, got %s", input.TransactionType, bound, mt)
	}
	m := Movement{
		TransactionNo:   input.TransactionNo,
		TransactionDate: input.TransactionDate,
		TransactionType: input.TransactionType,
		MovementType:    mt,
		ItemID:          input.ItemID,
		LotID:           input.LotID,
		SerialID:        input.SerialID,
		Quantity:        input.Quantity,
		WarehouseID:     input.WarehouseID,
		ReferenceType:   input.ReferenceType,
		ReferenceID:     input.ReferenceID,
		ReferenceNo:     input.ReferenceNo,
		Status:          MovementCompleted,
		Notes:           input.Notes,
		TenantID:        input.TenantID,
		CreatedBy:       input.ActorID,
	}
	if input.UnitCost.Valid {
		if input.UnitCost.Decimal.IsNegative() {
			return Movement{}, ErrInvalidUnitCost
		}
		m.UnitCost = input.UnitCost
		m.TotalCost = decimal.NewNullDecimal(input.UnitCost.Decimal.Mul(decimal.NewFromInt(input.Quantity)))
	}
	if m.TransactionNo == "" {
		m.TransactionNo = s.txnNo(s.now())
	}
	if m.TransactionDate.IsZero() {
		m.TransactionDate = s.now()
	}
	return m, nil
}

func lockKeys(movements []Movement) []StockKey {
	seen := make(map[StockKey]struct{}, len(movements))
	keys := make([]StockKey, 0, len(movements))
	for _, m := range movements {
		k := m.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	SortKeys(keys)
	return keys
}

// SortKeys orders keys so concurrent writers acquire locks consistently.
func SortKeys(keys []StockKey) {
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.TenantID != b.TenantID {
			return a.TenantID < b.TenantID
		}
		if a.ItemID != b.ItemID {
			return a.ItemID < b.ItemID
		}
		return a.WarehouseID < b.WarehouseID
	})
}

// String renders the key used for advisory locks.
func (k StockKey) String() string {
	return fmt.Sprintf("stock:%d:%d:%d", k.TenantID, k.ItemID, k.WarehouseID)
}
