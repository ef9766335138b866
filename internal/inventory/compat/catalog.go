package compat

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Item is the read-only slice of the item master the views need.
type Item struct {
	ID           int64
	SKU          string
	Name         string
	Unit         string
	ReorderLevel *int64
	UnitPrice    decimal.NullDecimal
}

// ItemCatalog resolves item master data. Missing ids are simply absent from
// the result.
type ItemCatalog interface {
	Items(ctx context.Context, ids []int64) (map[int64]Item, error)
}

// PGItemCatalog reads the items table.
type PGItemCatalog struct {
	pool *pgxpool.Pool
}

// NewPGItemCatalog constructs PGItemCatalog.
func NewPGItemCatalog(pool *pgxpool.Pool) *PGItemCatalog {
	return &PGItemCatalog{pool: pool}
}

// Items implements ItemCatalog.
func (c *PGItemCatalog) Items(ctx context.Context, ids []int64) (map[int64]Item, error) {
	if c == nil || c.pool == nil {
		return nil, errors.New("item catalog not initialised")
	}
	out := make(map[int64]Item, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := c.pool.Query(ctx, `SELECT id, COALESCE(sku, ''), name, COALESCE(unit, ''), reorder_level, unit_price
FROM items WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.SKU, &it.Name, &it.Unit, &it.ReorderLevel, &it.UnitPrice); err != nil {
			return nil, err
		}
		out[it.ID] = it
	}
	return out, rows.Err()
}
