package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockledger/internal/platform/db"
)

const (
	constraintTransactionNo = "inventory_movements_transaction_no_key"
	constraintLotNumber     = "inventory_lots_lot_number_item_id_key"
	constraintSerialNumber  = "inventory_serials_serial_number_item_id_key"
)

// PGStore persists the ledger and registries in PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs PGStore.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgTxStore struct {
	q querier
}

// WithStockLocks opens a read-committed transaction, takes one advisory
// transaction lock per key and runs fn. Locks are released on commit or
// rollback.
func (s *PGStore) WithStockLocks(ctx context.Context, keys []StockKey, fn func(context.Context, TxStore) error) error {
	if s == nil || s.pool == nil {
		return errors.New("inventory store not initialised")
	}
	ordered := append([]StockKey(nil), keys...)
	SortKeys(ordered)

	err := db.WithTx(ctx, s.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		for _, key := range ordered {
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key.String()); err != nil {
				return err
			}
		}
		return fn(ctx, &pgTxStore{q: tx})
	})
	return mapPGError(err)
}

// mapPGError translates driver failures into ledger errors. Errors that are
// not PostgreSQL errors pass through untouched.
func mapPGError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03":
		return fmt.Errorf("%w: %s", ErrRetryable, pgErr.Message)
	case "23505":
		switch pgErr.ConstraintName {
		case constraintTransactionNo:
			return ErrDuplicateTransactionNo
		case constraintLotNumber:
			return ErrDuplicateLot
		case constraintSerialNumber:
			return ErrDuplicateSerial
		}
	}
	return err
}

// conditions accumulates AND-ed predicates with positional arguments.
type conditions struct {
	clauses []string
	args    []any
}

func (c *conditions) add(format string, arg any) {
	c.args = append(c.args, arg)
	c.clauses = append(c.clauses, fmt.Sprintf(format, len(c.args)))
}

func (c *conditions) raw(clause string) {
	c.clauses = append(c.clauses, clause)
}

func (c *conditions) scope(column string, scope Scope) error {
	if err := requireScope(scope); err != nil {
		return err
	}
	if id, ok := scope.TenantID(); ok {
		c.add(column+" = $%d", id)
	} else if scope.IsCompany() {
		c.raw(column + " IS NULL")
	}
	return nil
}

func (c *conditions) where() string {
	if len(c.clauses) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(c.clauses, " AND ")
}

func (c *conditions) next() int {
	return len(c.args) + 1
}

// ---- movements ----

const movementColumns = `m.id, m.transaction_no, m.transaction_date, m.transaction_type, m.movement_type,
m.item_id, COALESCE(m.lot_id, 0), COALESCE(m.serial_id, 0), m.quantity, m.warehouse_id,
COALESCE(m.reference_type, ''), COALESCE(m.reference_id, ''), COALESCE(m.reference_no, ''),
m.unit_cost, m.total_cost, m.running_balance, m.status, m.is_reversed,
COALESCE(m.reversed_by_id, 0), COALESCE(m.reversal_of_id, 0), COALESCE(m.notes, ''),
COALESCE(m.tenant_id, 0), COALESCE(m.created_by, 0), m.created_at`

func scanMovement(row pgx.Row) (Movement, error) {
	var m Movement
	err := row.Scan(&m.ID, &m.TransactionNo, &m.TransactionDate, &m.TransactionType, &m.MovementType,
		&m.ItemID, &m.LotID, &m.SerialID, &m.Quantity, &m.WarehouseID,
		&m.ReferenceType, &m.ReferenceID, &m.ReferenceNo,
		&m.UnitCost, &m.TotalCost, &m.RunningBalance, &m.Status, &m.IsReversed,
		&m.ReversedByID, &m.ReversalOfID, &m.Notes,
		&m.TenantID, &m.CreatedBy, &m.CreatedAt)
	return m, err
}

func collectMovements(rows pgx.Rows) ([]Movement, error) {
	defer rows.Close()
	out := []Movement{}
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func balanceConditions(itemID, warehouseID, lotID int64, scope Scope) (*conditions, error) {
	c := &conditions{}
	c.raw("m.status = 'COMPLETED'")
	if itemID != 0 {
		c.add("m.item_id = $%d", itemID)
	}
	if warehouseID != 0 {
		c.add("m.warehouse_id = $%d", warehouseID)
	}
	if lotID != 0 {
		c.add("m.lot_id = $%d", lotID)
	}
	if err := c.scope("m.tenant_id", scope); err != nil {
		return nil, err
	}
	return c, nil
}

const totalsColumns = `COALESCE(SUM(CASE WHEN m.movement_type = 'IN' THEN m.quantity END), 0)::bigint,
COALESCE(SUM(CASE WHEN m.movement_type = 'OUT' THEN m.quantity END), 0)::bigint,
COALESCE(SUM(CASE WHEN m.movement_type = 'RESERVE' THEN m.quantity END), 0)::bigint,
COALESCE(SUM(CASE WHEN m.movement_type = 'RELEASE' THEN m.quantity END), 0)::bigint`

func sumMovements(ctx context.Context, q querier, bq BalanceQuery) (MovementTotals, error) {
	c, err := balanceConditions(bq.ItemID, bq.WarehouseID, bq.LotID, bq.Scope)
	if err != nil {
		return MovementTotals{}, err
	}
	var t MovementTotals
	err = q.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM inventory_movements m %s`, totalsColumns, c.where()), c.args...).
		Scan(&t.In, &t.Out, &t.Reserve, &t.Release)
	return t, err
}

func stockBalances(ctx context.Context, q querier, filter BalanceFilter) ([]BalanceRow, error) {
	c, err := balanceConditions(filter.ItemID, filter.WarehouseID, filter.LotID, filter.Scope)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT COALESCE(m.tenant_id, 0), m.item_id, COALESCE(i.name, ''), m.warehouse_id, COALESCE(w.name, ''),
COALESCE(m.lot_id, 0), COALESCE(l.lot_number, ''), l.expiry_date,
%s,
COALESCE(SUM(CASE WHEN m.movement_type = 'IN' AND m.unit_cost IS NOT NULL THEN m.quantity END), 0)::bigint,
COALESCE(SUM(CASE WHEN m.movement_type = 'IN' AND m.unit_cost IS NOT NULL THEN m.quantity * m.unit_cost END), 0)
FROM inventory_movements m
LEFT JOIN items i ON i.id = m.item_id
LEFT JOIN warehouses w ON w.id = m.warehouse_id
LEFT JOIN inventory_lots l ON l.id = m.lot_id
%s
GROUP BY m.tenant_id, m.item_id, i.name, m.warehouse_id, w.name, m.lot_id, l.lot_number, l.expiry_date
ORDER BY m.tenant_id NULLS FIRST, m.item_id, m.warehouse_id, m.lot_id NULLS FIRST`, totalsColumns, c.where())
	rows, err := q.Query(ctx, query, c.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []BalanceRow{}
	for rows.Next() {
		var r BalanceRow
		if err := rows.Scan(&r.TenantID, &r.ItemID, &r.ItemName, &r.WarehouseID, &r.WarehouseName,
			&r.LotID, &r.LotNumber, &r.ExpiryDate,
			&r.Totals.In, &r.Totals.Out, &r.Totals.Reserve, &r.Totals.Release,
			&r.InCostQty, &r.InCostTotal); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SumMovements returns per-type sums for the query outside any lock.
func (s *PGStore) SumMovements(ctx context.Context, q BalanceQuery) (MovementTotals, error) {
	return sumMovements(ctx, s.pool, q)
}

// StockBalances returns grouped aggregates.
func (s *PGStore) StockBalances(ctx context.Context, filter BalanceFilter) ([]BalanceRow, error) {
	return stockBalances(ctx, s.pool, filter)
}

// ListMovements returns one page of movements newest first plus the total.
func (s *PGStore) ListMovements(ctx context.Context, filter HistoryFilter) ([]Movement, int, error) {
	c := &conditions{}
	if filter.ItemID != 0 {
		c.add("m.item_id = $%d", filter.ItemID)
	}
	if filter.WarehouseID != 0 {
		c.add("m.warehouse_id = $%d", filter.WarehouseID)
	}
	if filter.LotID != 0 {
		c.add("m.lot_id = $%d", filter.LotID)
	}
	if filter.SerialID != 0 {
		c.add("m.serial_id = $%d", filter.SerialID)
	}
	if filter.TransactionType != "" {
		c.add("m.transaction_type = $%d", string(filter.TransactionType))
	}
	if !filter.From.IsZero() {
		c.add("m.transaction_date >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		c.add("m.transaction_date <= $%d", filter.To)
	}
	if err := c.scope("m.tenant_id", filter.Scope); err != nil {
		return nil, 0, err
	}
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM inventory_movements m `+c.where(), c.args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	query := fmt.Sprintf(`SELECT %s FROM inventory_movements m %s
ORDER BY m.transaction_date DESC, m.id DESC
LIMIT $%d OFFSET $%d`, movementColumns, c.where(), c.next(), c.next()+1)
	rows, err := s.pool.Query(ctx, query, append(c.args, limit, filter.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	out, err := collectMovements(rows)
	return out, total, err
}

// GetMovement loads a movement by id.
func (s *PGStore) GetMovement(ctx context.Context, id int64) (Movement, error) {
	m, err := scanMovement(s.pool.QueryRow(ctx, `SELECT `+movementColumns+` FROM inventory_movements m WHERE m.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Movement{}, ErrNotFound
	}
	return m, err
}

// RecentTuples lists the distinct balance tuples touched since the given time.
func (s *PGStore) RecentTuples(ctx context.Context, since time.Time) ([]BalanceQuery, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT item_id, warehouse_id, COALESCE(lot_id, 0), COALESCE(tenant_id, 0)
FROM inventory_movements WHERE created_at >= $1
ORDER BY 4, 1, 2, 3`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []BalanceQuery{}
	for rows.Next() {
		var q BalanceQuery
		var tenantID int64
		if err := rows.Scan(&q.ItemID, &q.WarehouseID, &q.LotID, &tenantID); err != nil {
			return nil, err
		}
		q.Scope = ScopeOf(tenantID)
		out = append(out, q)
	}
	return out, rows.Err()
}

// TupleMovements returns every row of the item in the warehouse (restricted
// to the lot when one is set) in insertion order.
func (s *PGStore) TupleMovements(ctx context.Context, q BalanceQuery) ([]Movement, error) {
	c := &conditions{}
	c.add("m.item_id = $%d", q.ItemID)
	c.add("m.warehouse_id = $%d", q.WarehouseID)
	if q.LotID != 0 {
		c.add("m.lot_id = $%d", q.LotID)
	}
	if err := c.scope("m.tenant_id", q.Scope); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM inventory_movements m %s ORDER BY m.id`, movementColumns, c.where()), c.args...)
	if err != nil {
		return nil, err
	}
	return collectMovements(rows)
}

func (t *pgTxStore) SumMovements(ctx context.Context, q BalanceQuery) (MovementTotals, error) {
	return sumMovements(ctx, t.q, q)
}

func (t *pgTxStore) StockBalances(ctx context.Context, filter BalanceFilter) ([]BalanceRow, error) {
	return stockBalances(ctx, t.q, filter)
}

func (t *pgTxStore) ListLots(ctx context.Context, filter LotFilter) ([]Lot, error) {
	return listLots(ctx, t.q, filter)
}

func (t *pgTxStore) InsertMovement(ctx context.Context, m Movement) (Movement, error) {
	err := t.q.QueryRow(ctx, `INSERT INTO inventory_movements (transaction_no, transaction_date, transaction_type, movement_type,
item_id, lot_id, serial_id, quantity, warehouse_id, reference_type, reference_id, reference_no,
unit_cost, total_cost, running_balance, status, is_reversed, reversal_of_id, notes, tenant_id, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,FALSE,$17,$18,$19,$20,NOW())
RETURNING id, created_at`,
		m.TransactionNo, m.TransactionDate, string(m.TransactionType), string(m.MovementType),
		m.ItemID, nullInt(m.LotID), nullInt(m.SerialID), m.Quantity, m.WarehouseID,
		nullText(m.ReferenceType), nullText(m.ReferenceID), nullText(m.ReferenceNo),
		m.UnitCost, m.TotalCost, m.RunningBalance, string(m.Status), nullInt(m.ReversalOfID),
		nullText(m.Notes), nullInt(m.TenantID), nullInt(m.CreatedBy)).
		Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return Movement{}, mapPGError(err)
	}
	return m, nil
}

func (t *pgTxStore) GetMovementForUpdate(ctx context.Context, id int64) (Movement, error) {
	m, err := scanMovement(t.q.QueryRow(ctx, `SELECT `+movementColumns+` FROM inventory_movements m WHERE m.id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Movement{}, ErrNotFound
	}
	return m, err
}

func (t *pgTxStore) MarkReversed(ctx context.Context, id, reversedByID int64) error {
	tag, err := t.q.Exec(ctx, `UPDATE inventory_movements SET is_reversed = TRUE, reversed_by_id = $2
WHERE id = $1 AND NOT is_reversed`, id, reversedByID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyReversed
	}
	return nil
}

// ---- lots ----

const lotColumns = `id, lot_number, item_id, manufacture_date, expiry_date, received_date,
COALESCE(purchase_order_id, ''), COALESCE(grn_id, ''), unit_cost, landed_cost, quality_status, status,
COALESCE(status_reason, ''), COALESCE(status_changed_by, 0), status_changed_at,
COALESCE(tenant_id, 0), warehouse_id, COALESCE(attributes, '{}'::jsonb), created_at, updated_at`

func scanLot(row pgx.Row) (Lot, error) {
	var l Lot
	err := row.Scan(&l.ID, &l.LotNumber, &l.ItemID, &l.ManufactureDate, &l.ExpiryDate, &l.ReceivedDate,
		&l.PurchaseOrderID, &l.GRNID, &l.UnitCost, &l.LandedCost, &l.QualityStatus, &l.Status,
		&l.StatusReason, &l.StatusChangedBy, &l.StatusChangedAt,
		&l.TenantID, &l.WarehouseID, &l.Attributes, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}

func listLots(ctx context.Context, q querier, filter LotFilter) ([]Lot, error) {
	c := &conditions{}
	if len(filter.IDs) > 0 {
		c.add("id = ANY($%d)", filter.IDs)
	}
	if filter.ItemID != 0 {
		c.add("item_id = $%d", filter.ItemID)
	}
	if filter.WarehouseID != 0 {
		c.add("warehouse_id = $%d", filter.WarehouseID)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		c.add("status = ANY($%d)", statuses)
	}
	if filter.ExpiresOnOrBefore != nil {
		c.add("expiry_date IS NOT NULL AND expiry_date <= $%d", *filter.ExpiresOnOrBefore)
	}
	if filter.UsableAfter != nil {
		c.add("(expiry_date IS NULL OR expiry_date > $%d)", *filter.UsableAfter)
	}
	if err := c.scope("tenant_id", filter.Scope); err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, fmt.Sprintf(`SELECT %s FROM inventory_lots %s ORDER BY id`, lotColumns, c.where()), c.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Lot{}
	for rows.Next() {
		l, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// InsertLot stores a new lot.
func (s *PGStore) InsertLot(ctx context.Context, lot Lot) (Lot, error) {
	var attrs any
	if len(lot.Attributes) > 0 {
		attrs = lot.Attributes
	}
	err := s.pool.QueryRow(ctx, `INSERT INTO inventory_lots (lot_number, item_id, manufacture_date, expiry_date, received_date,
purchase_order_id, grn_id, unit_cost, landed_cost, quality_status, status, tenant_id, warehouse_id, attributes, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,NOW(),NOW())
RETURNING id, created_at, updated_at`,
		lot.LotNumber, lot.ItemID, lot.ManufactureDate, lot.ExpiryDate, lot.ReceivedDate,
		nullText(lot.PurchaseOrderID), nullText(lot.GRNID), lot.UnitCost, lot.LandedCost,
		string(lot.QualityStatus), string(lot.Status), nullInt(lot.TenantID), lot.WarehouseID, attrs).
		Scan(&lot.ID, &lot.CreatedAt, &lot.UpdatedAt)
	if err != nil {
		return Lot{}, mapPGError(err)
	}
	return lot, nil
}

// GetLot loads a lot by id.
func (s *PGStore) GetLot(ctx context.Context, id int64) (Lot, error) {
	lot, err := scanLot(s.pool.QueryRow(ctx, `SELECT `+lotColumns+` FROM inventory_lots WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Lot{}, ErrNotFound
	}
	return lot, err
}

// GetLotByNumber loads a lot by its natural key.
func (s *PGStore) GetLotByNumber(ctx context.Context, lotNumber string, itemID int64) (Lot, error) {
	lot, err := scanLot(s.pool.QueryRow(ctx, `SELECT `+lotColumns+` FROM inventory_lots WHERE lot_number = $1 AND item_id = $2`, lotNumber, itemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Lot{}, ErrNotFound
	}
	return lot, err
}

// ListLots lists lots ordered by id.
func (s *PGStore) ListLots(ctx context.Context, filter LotFilter) ([]Lot, error) {
	return listLots(ctx, s.pool, filter)
}

// UpdateLot writes the mutable status fields of a lot.
func (s *PGStore) UpdateLot(ctx context.Context, lot Lot) error {
	tag, err := s.pool.Exec(ctx, `UPDATE inventory_lots SET status = $2, status_reason = $3, status_changed_by = $4,
status_changed_at = $5, quality_status = $6, updated_at = NOW() WHERE id = $1`,
		lot.ID, string(lot.Status), nullText(lot.StatusReason), nullInt(lot.StatusChangedBy), lot.StatusChangedAt, string(lot.QualityStatus))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- serials ----

const serialColumns = `id, serial_number, item_id, COALESCE(lot_id, 0), status, COALESCE(current_warehouse_id, 0),
current_owner_type, COALESCE(current_owner_id, 0), COALESCE(tenant_id, 0), unit_cost, landed_cost,
warranty_start, warranty_end, sold_at, returned_at, created_at, updated_at`

func scanSerial(row pgx.Row) (Serial, error) {
	var sr Serial
	err := row.Scan(&sr.ID, &sr.SerialNumber, &sr.ItemID, &sr.LotID, &sr.Status, &sr.CurrentWarehouseID,
		&sr.CurrentOwnerType, &sr.CurrentOwnerID, &sr.TenantID, &sr.UnitCost, &sr.LandedCost,
		&sr.WarrantyStart, &sr.WarrantyEnd, &sr.SoldAt, &sr.ReturnedAt, &sr.CreatedAt, &sr.UpdatedAt)
	return sr, err
}

// InsertSerial stores a new serial; a repeated (serial_number, item_id)
// fails with ErrDuplicateSerial.
func (s *PGStore) InsertSerial(ctx context.Context, serial Serial) (Serial, error) {
	err := s.pool.QueryRow(ctx, `INSERT INTO inventory_serials (serial_number, item_id, lot_id, status, current_warehouse_id,
current_owner_type, current_owner_id, tenant_id, unit_cost, landed_cost, warranty_start, warranty_end, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NOW(),NOW())
RETURNING id, created_at, updated_at`,
		serial.SerialNumber, serial.ItemID, nullInt(serial.LotID), string(serial.Status), nullInt(serial.CurrentWarehouseID),
		string(serial.CurrentOwnerType), nullInt(serial.CurrentOwnerID), nullInt(serial.TenantID),
		serial.UnitCost, serial.LandedCost, serial.WarrantyStart, serial.WarrantyEnd).
		Scan(&serial.ID, &serial.CreatedAt, &serial.UpdatedAt)
	if err != nil {
		return Serial{}, mapPGError(err)
	}
	return serial, nil
}

// GetSerial loads a serial by id.
func (s *PGStore) GetSerial(ctx context.Context, id int64) (Serial, error) {
	sr, err := scanSerial(s.pool.QueryRow(ctx, `SELECT `+serialColumns+` FROM inventory_serials WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Serial{}, ErrNotFound
	}
	return sr, err
}

// ListSerials lists serials ordered by id.
func (s *PGStore) ListSerials(ctx context.Context, filter SerialFilter) ([]Serial, error) {
	c := &conditions{}
	if filter.ItemID != 0 {
		c.add("item_id = $%d", filter.ItemID)
	}
	if filter.LotID != 0 {
		c.add("lot_id = $%d", filter.LotID)
	}
	if filter.WarehouseID != 0 {
		c.add("current_warehouse_id = $%d", filter.WarehouseID)
	}
	if filter.Status != "" {
		c.add("status = $%d", string(filter.Status))
	}
	if err := c.scope("tenant_id", filter.Scope); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM inventory_serials %s ORDER BY id`, serialColumns, c.where()), c.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Serial{}
	for rows.Next() {
		sr, err := scanSerial(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

// UpdateSerial writes status, ownership and date fields.
func (s *PGStore) UpdateSerial(ctx context.Context, serial Serial) error {
	tag, err := s.pool.Exec(ctx, `UPDATE inventory_serials SET status = $2, current_warehouse_id = $3, current_owner_type = $4,
current_owner_id = $5, sold_at = $6, returned_at = $7, warranty_start = $8, warranty_end = $9, updated_at = NOW()
WHERE id = $1`,
		serial.ID, string(serial.Status), nullInt(serial.CurrentWarehouseID), string(serial.CurrentOwnerType),
		nullInt(serial.CurrentOwnerID), serial.SoldAt, serial.ReturnedAt, serial.WarrantyStart, serial.WarrantyEnd)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullText(value string) any {
	if value == "" {
		return nil
	}
	return value
}
