package inventory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// memoryStore is an in-memory Store. Locked units of work buffer their
// writes and publish them on success, so a failed batch leaves no rows.
type memoryStore struct {
	mu        sync.Mutex
	movements []Movement
	lots      map[int64]Lot
	serials   map[int64]Serial
	nextID    int64

	keyMu sync.Mutex
	locks map[StockKey]*sync.Mutex

	// conflicts makes the next n WithStockLocks calls fail with ErrRetryable.
	conflicts int
	attempts  int
	clock     func() time.Time
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		lots:    make(map[int64]Lot),
		serials: make(map[int64]Serial),
		locks:   make(map[StockKey]*sync.Mutex),
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *memoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memoryStore) keyLock(k StockKey) *sync.Mutex {
	s.keyMu.Lock()
	defer s.keyMu.Unlock()
	l, ok := s.locks[k]
	if !ok {
		l = &sync.Mutex{}
		s.locks[k] = l
	}
	return l
}

func (s *memoryStore) WithStockLocks(ctx context.Context, keys []StockKey, fn func(context.Context, TxStore) error) error {
	ordered := append([]StockKey(nil), keys...)
	SortKeys(ordered)
	for _, k := range ordered {
		l := s.keyLock(k)
		l.Lock()
		defer l.Unlock()
	}

	s.mu.Lock()
	s.attempts++
	if s.conflicts > 0 {
		s.conflicts--
		s.mu.Unlock()
		return ErrRetryable
	}
	s.mu.Unlock()

	tx := &memoryTx{store: s, reversed: map[int64]int64{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.movements = append(s.movements, tx.pending...)
	for id, by := range tx.reversed {
		for i := range s.movements {
			if s.movements[i].ID == id {
				s.movements[i].IsReversed = true
				s.movements[i].ReversedByID = by
			}
		}
	}
	return nil
}

func (s *memoryStore) snapshot() []Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Movement(nil), s.movements...)
}

func matchesBalance(m Movement, itemID, warehouseID, lotID int64, scope Scope) bool {
	if m.Status != MovementCompleted {
		return false
	}
	if itemID != 0 && m.ItemID != itemID {
		return false
	}
	if warehouseID != 0 && m.WarehouseID != warehouseID {
		return false
	}
	if lotID != 0 && m.LotID != lotID {
		return false
	}
	return scope.Includes(m.TenantID)
}

func totalsOf(rows []Movement, q BalanceQuery) MovementTotals {
	var t MovementTotals
	for _, m := range rows {
		if !matchesBalance(m, q.ItemID, q.WarehouseID, q.LotID, q.Scope) {
			continue
		}
		switch m.MovementType {
		case MovementIn:
			t.In += m.Quantity
		case MovementOut:
			t.Out += m.Quantity
		case MovementReserve:
			t.Reserve += m.Quantity
		case MovementRelease:
			t.Release += m.Quantity
		}
	}
	return t
}

type balanceGroup struct {
	tenant, item, warehouse, lot int64
}

func (s *memoryStore) balanceRows(rows []Movement, filter BalanceFilter) []BalanceRow {
	groups := map[balanceGroup]*BalanceRow{}
	var order []balanceGroup
	for _, m := range rows {
		if !matchesBalance(m, filter.ItemID, filter.WarehouseID, filter.LotID, filter.Scope) {
			continue
		}
		g := balanceGroup{m.TenantID, m.ItemID, m.WarehouseID, m.LotID}
		row, ok := groups[g]
		if !ok {
			row = &BalanceRow{TenantID: m.TenantID, ItemID: m.ItemID, WarehouseID: m.WarehouseID, LotID: m.LotID, InCostTotal: decimal.Zero}
			if lot, found := s.lots[m.LotID]; found {
				row.LotNumber = lot.LotNumber
				row.ExpiryDate = lot.ExpiryDate
			}
			groups[g] = row
			order = append(order, g)
		}
		switch m.MovementType {
		case MovementIn:
			row.Totals.In += m.Quantity
			if m.UnitCost.Valid {
				row.InCostQty += m.Quantity
				row.InCostTotal = row.InCostTotal.Add(m.UnitCost.Decimal.Mul(decimal.NewFromInt(m.Quantity)))
			}
		case MovementOut:
			row.Totals.Out += m.Quantity
		case MovementReserve:
			row.Totals.Reserve += m.Quantity
		case MovementRelease:
			row.Totals.Release += m.Quantity
		}
	}
	out := make([]BalanceRow, 0, len(order))
	for _, g := range order {
		out = append(out, *groups[g])
	}
	return out
}

func (s *memoryStore) SumMovements(_ context.Context, q BalanceQuery) (MovementTotals, error) {
	if err := requireScope(q.Scope); err != nil {
		return MovementTotals{}, err
	}
	return totalsOf(s.snapshot(), q), nil
}

func (s *memoryStore) StockBalances(_ context.Context, filter BalanceFilter) ([]BalanceRow, error) {
	if err := requireScope(filter.Scope); err != nil {
		return nil, err
	}
	rows := s.snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balanceRows(rows, filter), nil
}

func (s *memoryStore) ListMovements(_ context.Context, filter HistoryFilter) ([]Movement, int, error) {
	if err := requireScope(filter.Scope); err != nil {
		return nil, 0, err
	}
	var matched []Movement
	for _, m := range s.snapshot() {
		if filter.ItemID != 0 && m.ItemID != filter.ItemID {
			continue
		}
		if filter.WarehouseID != 0 && m.WarehouseID != filter.WarehouseID {
			continue
		}
		if filter.LotID != 0 && m.LotID != filter.LotID {
			continue
		}
		if filter.SerialID != 0 && m.SerialID != filter.SerialID {
			continue
		}
		if filter.TransactionType != "" && m.TransactionType != filter.TransactionType {
			continue
		}
		if !filter.From.IsZero() && m.TransactionDate.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && m.TransactionDate.After(filter.To) {
			continue
		}
		if !filter.Scope.Includes(m.TenantID) {
			continue
		}
		matched = append(matched, m)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].TransactionDate.Equal(matched[j].TransactionDate) {
			return matched[i].TransactionDate.After(matched[j].TransactionDate)
		}
		return matched[i].ID > matched[j].ID
	})
	total := len(matched)
	start := min(filter.Offset, total)
	end := total
	if filter.Limit > 0 {
		end = min(start+filter.Limit, total)
	}
	return matched[start:end], total, nil
}

func (s *memoryStore) GetMovement(_ context.Context, id int64) (Movement, error) {
	for _, m := range s.snapshot() {
		if m.ID == id {
			return m, nil
		}
	}
	return Movement{}, ErrNotFound
}

func (s *memoryStore) RecentTuples(_ context.Context, since time.Time) ([]BalanceQuery, error) {
	seen := map[balanceGroup]bool{}
	var out []BalanceQuery
	for _, m := range s.snapshot() {
		if m.CreatedAt.Before(since) {
			continue
		}
		g := balanceGroup{m.TenantID, m.ItemID, m.WarehouseID, m.LotID}
		if seen[g] {
			continue
		}
		seen[g] = true
		out = append(out, BalanceQuery{ItemID: m.ItemID, WarehouseID: m.WarehouseID, LotID: m.LotID, Scope: ScopeOf(m.TenantID)})
	}
	return out, nil
}

func (s *memoryStore) TupleMovements(_ context.Context, q BalanceQuery) ([]Movement, error) {
	var out []Movement
	for _, m := range s.snapshot() {
		if m.ItemID != q.ItemID || m.WarehouseID != q.WarehouseID || !q.Scope.Includes(m.TenantID) {
			continue
		}
		if q.LotID != 0 && m.LotID != q.LotID {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// setRunningBalance corrupts a cached running balance for audit tests.
func (s *memoryStore) setRunningBalance(id, value int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.movements {
		if s.movements[i].ID == id {
			s.movements[i].RunningBalance = value
		}
	}
}

func (s *memoryStore) InsertLot(_ context.Context, lot Lot) (Lot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.lots {
		if existing.LotNumber == lot.LotNumber && existing.ItemID == lot.ItemID {
			return Lot{}, ErrDuplicateLot
		}
	}
	lot.ID = s.id()
	lot.CreatedAt = s.clock()
	lot.UpdatedAt = lot.CreatedAt
	s.lots[lot.ID] = lot
	return lot, nil
}

func (s *memoryStore) GetLot(_ context.Context, id int64) (Lot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lot, ok := s.lots[id]
	if !ok {
		return Lot{}, ErrNotFound
	}
	return lot, nil
}

func (s *memoryStore) GetLotByNumber(_ context.Context, lotNumber string, itemID int64) (Lot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, lot := range s.lots {
		if lot.LotNumber == lotNumber && lot.ItemID == itemID {
			return lot, nil
		}
	}
	return Lot{}, ErrNotFound
}

func (s *memoryStore) ListLots(_ context.Context, filter LotFilter) ([]Lot, error) {
	if err := requireScope(filter.Scope); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return filterLots(s.lots, filter), nil
}

func filterLots(lots map[int64]Lot, filter LotFilter) []Lot {
	out := []Lot{}
	for _, lot := range lots {
		if len(filter.IDs) > 0 && !slices.Contains(filter.IDs, lot.ID) {
			continue
		}
		if filter.ItemID != 0 && lot.ItemID != filter.ItemID {
			continue
		}
		if filter.WarehouseID != 0 && lot.WarehouseID != filter.WarehouseID {
			continue
		}
		if !filter.Scope.Includes(lot.TenantID) {
			continue
		}
		if len(filter.Statuses) > 0 {
			found := false
			for _, st := range filter.Statuses {
				if lot.Status == st {
					found = true
				}
			}
			if !found {
				continue
			}
		}
		if filter.ExpiresOnOrBefore != nil && (lot.ExpiryDate == nil || lot.ExpiryDate.After(*filter.ExpiresOnOrBefore)) {
			continue
		}
		if filter.UsableAfter != nil && lot.ExpiryDate != nil && !lot.ExpiryDate.After(*filter.UsableAfter) {
			continue
		}
		out = append(out, lot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memoryStore) UpdateLot(_ context.Context, lot Lot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lots[lot.ID]; !ok {
		return ErrNotFound
	}
	lot.UpdatedAt = s.clock()
	s.lots[lot.ID] = lot
	return nil
}

func (s *memoryStore) InsertSerial(_ context.Context, serial Serial) (Serial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.serials {
		if existing.SerialNumber == serial.SerialNumber && existing.ItemID == serial.ItemID {
			return Serial{}, ErrDuplicateSerial
		}
	}
	serial.ID = s.id()
	serial.CreatedAt = s.clock()
	serial.UpdatedAt = serial.CreatedAt
	s.serials[serial.ID] = serial
	return serial, nil
}

func (s *memoryStore) GetSerial(_ context.Context, id int64) (Serial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	serial, ok := s.serials[id]
	if !ok {
		return Serial{}, ErrNotFound
	}
	return serial, nil
}

func (s *memoryStore) ListSerials(_ context.Context, filter SerialFilter) ([]Serial, error) {
	if err := requireScope(filter.Scope); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Serial{}
	for _, sr := range s.serials {
		if filter.ItemID != 0 && sr.ItemID != filter.ItemID {
			continue
		}
		if filter.LotID != 0 && sr.LotID != filter.LotID {
			continue
		}
		if filter.WarehouseID != 0 && sr.CurrentWarehouseID != filter.WarehouseID {
			continue
		}
		if filter.Status != "" && sr.Status != filter.Status {
			continue
		}
		if !filter.Scope.Includes(sr.TenantID) {
			continue
		}
		out = append(out, sr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) UpdateSerial(_ context.Context, serial Serial) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.serials[serial.ID]; !ok {
		return ErrNotFound
	}
	s.serials[serial.ID] = serial
	return nil
}

type memoryTx struct {
	store    *memoryStore
	pending  []Movement
	reversed map[int64]int64
}

func (t *memoryTx) visible() []Movement {
	return append(t.store.snapshot(), t.pending...)
}

func (t *memoryTx) SumMovements(_ context.Context, q BalanceQuery) (MovementTotals, error) {
	if err := requireScope(q.Scope); err != nil {
		return MovementTotals{}, err
	}
	return totalsOf(t.visible(), q), nil
}

func (t *memoryTx) StockBalances(_ context.Context, filter BalanceFilter) ([]BalanceRow, error) {
	if err := requireScope(filter.Scope); err != nil {
		return nil, err
	}
	rows := t.visible()
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return t.store.balanceRows(rows, filter), nil
}

func (t *memoryTx) ListLots(ctx context.Context, filter LotFilter) ([]Lot, error) {
	return t.store.ListLots(ctx, filter)
}

func (t *memoryTx) InsertMovement(_ context.Context, m Movement) (Movement, error) {
	for _, existing := range t.visible() {
		if existing.TransactionNo == m.TransactionNo {
			return Movement{}, ErrDuplicateTransactionNo
		}
	}
	t.store.mu.Lock()
	m.ID = t.store.id()
	m.CreatedAt = t.store.clock()
	t.store.mu.Unlock()
	t.pending = append(t.pending, m)
	return m, nil
}

func (t *memoryTx) GetMovementForUpdate(_ context.Context, id int64) (Movement, error) {
	for _, m := range t.visible() {
		if m.ID == id {
			if by, ok := t.reversed[id]; ok {
				m.IsReversed = true
				m.ReversedByID = by
			}
			return m, nil
		}
	}
	return Movement{}, ErrNotFound
}

func (t *memoryTx) MarkReversed(ctx context.Context, id, reversedByID int64) error {
	m, err := t.GetMovementForUpdate(ctx, id)
	if err != nil {
		return err
	}
	if m.IsReversed {
		return ErrAlreadyReversed
	}
	t.reversed[id] = reversedByID
	return nil
}
