package warehouses

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/masterdata/shared"
)

type Repository interface {
	List(ctx context.Context, scope inventory.Scope, filters shared.ListFilters) ([]Warehouse, int, error)
	Get(ctx context.Context, id int64) (Warehouse, error)
	GetByCode(ctx context.Context, code string) (Warehouse, error)
	Create(ctx context.Context, warehouse Warehouse) (Warehouse, error)
	Update(ctx context.Context, warehouse Warehouse) error
	SetActive(ctx context.Context, id int64, active bool) error
}

type repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const selectWarehouse = `SELECT id, COALESCE(tenant_id, 0), code, name, COALESCE(address, ''), type, active, created_at, updated_at FROM warehouses`

func scanWarehouse(row pgx.Row) (Warehouse, error) {
	var w Warehouse
	err := row.Scan(&w.ID, &w.TenantID, &w.Code, &w.Name, &w.Address, &w.Type, &w.Active, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Warehouse{}, shared.ErrNotFound
	}
	return w, err
}

// List uses a dynamic query due to filter complexity. Tenant scopes also see
// global warehouses.
func (r *repository) List(ctx context.Context, scope inventory.Scope, filters shared.ListFilters) ([]Warehouse, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if id, ok := scope.TenantID(); ok {
		argCount++
		where += ` AND (tenant_id IS NULL OR tenant_id = $` + strconv.Itoa(argCount) + `)`
		args = append(args, id)
	} else if scope.IsCompany() {
		where += ` AND tenant_id IS NULL`
	}
	if filters.Search != "" {
		argCount++
		where += ` AND (name ILIKE $` + strconv.Itoa(argCount) + ` OR code ILIKE $` + strconv.Itoa(argCount) + `)`
		args = append(args, "%"+filters.Search+"%")
	}
	if filters.IsActive != nil {
		argCount++
		where += ` AND active = $` + strconv.Itoa(argCount)
		args = append(args, *filters.IsActive)
	}
	if filters.Type != "" {
		argCount++
		where += ` AND type = $` + strconv.Itoa(argCount)
		args = append(args, filters.Type)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM warehouses`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := selectWarehouse + where + " ORDER BY " + sortOrder(filters.SortBy, filters.SortDir)
	argCount++
	query += ` LIMIT $` + strconv.Itoa(argCount)
	args = append(args, filters.Limit)
	argCount++
	query += ` OFFSET $` + strconv.Itoa(argCount)
	args = append(args, filters.Offset())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	warehouses := []Warehouse{}
	for rows.Next() {
		w, err := scanWarehouse(rows)
		if err != nil {
			return nil, 0, err
		}
		warehouses = append(warehouses, w)
	}
	return warehouses, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Warehouse, error) {
	return scanWarehouse(r.pool.QueryRow(ctx, selectWarehouse+` WHERE id = $1`, id))
}

func (r *repository) GetByCode(ctx context.Context, code string) (Warehouse, error) {
	return scanWarehouse(r.pool.QueryRow(ctx, selectWarehouse+` WHERE code = $1`, code))
}

func (r *repository) Create(ctx context.Context, warehouse Warehouse) (Warehouse, error) {
	var tenant any
	if warehouse.TenantID > 0 {
		tenant = warehouse.TenantID
	}
	err := r.pool.QueryRow(ctx, `INSERT INTO warehouses (tenant_id, code, name, address, type, active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW()) RETURNING id, created_at, updated_at`,
		tenant, warehouse.Code, warehouse.Name, warehouse.Address, string(warehouse.Type), warehouse.Active).
		Scan(&warehouse.ID, &warehouse.CreatedAt, &warehouse.UpdatedAt)
	if err != nil {
		return Warehouse{}, mapError(err)
	}
	return warehouse, nil
}

func (r *repository) Update(ctx context.Context, warehouse Warehouse) error {
	tag, err := r.pool.Exec(ctx, `UPDATE warehouses SET code = $2, name = $3, address = $4, type = $5, updated_at = NOW() WHERE id = $1`,
		warehouse.ID, warehouse.Code, warehouse.Name, warehouse.Address, string(warehouse.Type))
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE warehouses SET active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return shared.ErrDuplicate
	}
	return err
}

func sortOrder(sortBy, sortDir string) string {
	dir := "ASC"
	if sortDir == shared.SortDesc {
		dir = "DESC"
	}
	switch sortBy {
	case "code":
		return "code " + dir
	case "type":
		return "type " + dir + ", code"
	default:
		return "name " + dir
	}
}
