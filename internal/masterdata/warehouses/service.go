package warehouses

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/masterdata/shared"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, scope inventory.Scope, filters shared.ListFilters) ([]Warehouse, int, error) {
	if !scope.Valid() {
		return nil, 0, inventory.ErrScopeRequired
	}
	return s.repo.List(ctx, scope, filters.Normalize())
}

// Get loads a warehouse visible in scope. Global warehouses are visible to
// every tenant.
func (s *Service) Get(ctx context.Context, scope inventory.Scope, id int64) (Warehouse, error) {
	if id <= 0 {
		return Warehouse{}, shared.ErrInvalidID
	}
	if !scope.Valid() {
		return Warehouse{}, inventory.ErrScopeRequired
	}
	w, err := s.repo.Get(ctx, id)
	if err != nil {
		return Warehouse{}, err
	}
	if w.TenantID != 0 && !scope.Includes(w.TenantID) {
		return Warehouse{}, shared.ErrNotFound
	}
	return w, nil
}

func (s *Service) Create(ctx context.Context, warehouse Warehouse) (Warehouse, error) {
	warehouse.Code = strings.ToUpper(strings.TrimSpace(warehouse.Code))
	if warehouse.Type == "" {
		warehouse.Type = TypeMain
	}
	if err := s.validate(warehouse); err != nil {
		return Warehouse{}, err
	}
	warehouse.Active = true
	return s.repo.Create(ctx, warehouse)
}

// Update changes descriptive fields. Tenant and active flag are not editable
// here; use Deactivate.
func (s *Service) Update(ctx context.Context, scope inventory.Scope, id int64, warehouse Warehouse) (Warehouse, error) {
	current, err := s.getWritable(ctx, scope, id)
	if err != nil {
		return Warehouse{}, err
	}
	current.Code = strings.ToUpper(strings.TrimSpace(warehouse.Code))
	current.Name = warehouse.Name
	current.Address = warehouse.Address
	if warehouse.Type != "" {
		current.Type = warehouse.Type
	}
	if err := s.validate(current); err != nil {
		return Warehouse{}, err
	}
	if err := s.repo.Update(ctx, current); err != nil {
		return Warehouse{}, err
	}
	return s.repo.Get(ctx, id)
}

// Deactivate hides a warehouse from new activity. Warehouses are never
// deleted because ledger rows keep referencing them.
func (s *Service) Deactivate(ctx context.Context, scope inventory.Scope, id int64) error {
	if _, err := s.getWritable(ctx, scope, id); err != nil {
		return err
	}
	return s.repo.SetActive(ctx, id, false)
}

// getWritable loads a warehouse the scope owns. Global warehouses are
// readable by tenants but only the company may change them.
func (s *Service) getWritable(ctx context.Context, scope inventory.Scope, id int64) (Warehouse, error) {
	w, err := s.Get(ctx, scope, id)
	if err != nil {
		return Warehouse{}, err
	}
	if !scope.Includes(w.TenantID) {
		return Warehouse{}, shared.ErrForbidden
	}
	return w, nil
}

// DefaultCode returns the code of the default warehouse of a tenant.
func DefaultCode(tenantID int64) string {
	if tenantID <= 0 {
		return "MAIN"
	}
	return fmt.Sprintf("T%d-MAIN", tenantID)
}

// GetOrCreateDefault returns the tenant's default MAIN warehouse, creating
// it on first use. Concurrent first calls converge on the same row.
func (s *Service) GetOrCreateDefault(ctx context.Context, tenantID int64) (Warehouse, error) {
	if tenantID < 0 {
		return Warehouse{}, shared.ErrInvalidID
	}
	code := DefaultCode(tenantID)
	w, err := s.repo.GetByCode(ctx, code)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return Warehouse{}, err
	}
	name := "Main Warehouse"
	if tenantID > 0 {
		name = fmt.Sprintf("Main Warehouse (tenant %d)", tenantID)
	}
	w, err = s.Create(ctx, Warehouse{TenantID: tenantID, Code: code, Name: name, Type: TypeMain})
	if errors.Is(err, shared.ErrDuplicate) {
		return s.repo.GetByCode(ctx, code)
	}
	return w, err
}
