package warehouses

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/masterdata/shared"
	internalShared "github.com/odyssey-erp/stockledger/internal/shared"
)

type memoryRepo struct {
	mu     sync.Mutex
	rows   map[int64]Warehouse
	nextID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{rows: make(map[int64]Warehouse)}
}

func visible(scope inventory.Scope, tenantID int64) bool {
	if id, ok := scope.TenantID(); ok {
		return tenantID == 0 || tenantID == id
	}
	if scope.IsCompany() {
		return tenantID == 0
	}
	return true
}

func (r *memoryRepo) List(_ context.Context, scope inventory.Scope, filters shared.ListFilters) ([]Warehouse, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Warehouse
	for _, w := range r.rows {
		if !visible(scope, w.TenantID) {
			continue
		}
		if filters.Type != "" && string(w.Type) != filters.Type {
			continue
		}
		if filters.IsActive != nil && w.Active != *filters.IsActive {
			continue
		}
		if filters.Search != "" && !strings.Contains(strings.ToLower(w.Name+w.Code), strings.ToLower(filters.Search)) {
			continue
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	total := len(out)
	start := min(filters.Offset(), total)
	end := min(start+filters.Limit, total)
	return out[start:end], total, nil
}

func (r *memoryRepo) Get(_ context.Context, id int64) (Warehouse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.rows[id]
	if !ok {
		return Warehouse{}, shared.ErrNotFound
	}
	return w, nil
}

func (r *memoryRepo) GetByCode(_ context.Context, code string) (Warehouse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.rows {
		if w.Code == code {
			return w, nil
		}
	}
	return Warehouse{}, shared.ErrNotFound
}

func (r *memoryRepo) Create(_ context.Context, w Warehouse) (Warehouse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.rows {
		if existing.Code == w.Code {
			return Warehouse{}, shared.ErrDuplicate
		}
	}
	r.nextID++
	w.ID = r.nextID
	r.rows[w.ID] = w
	return w, nil
}

func (r *memoryRepo) Update(_ context.Context, w Warehouse) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[w.ID]; !ok {
		return shared.ErrNotFound
	}
	r.rows[w.ID] = w
	return nil
}

func (r *memoryRepo) SetActive(_ context.Context, id int64, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.rows[id]
	if !ok {
		return shared.ErrNotFound
	}
	w.Active = active
	r.rows[id] = w
	return nil
}

func TestCreateValidatesAndNormalises(t *testing.T) {
	svc := NewService(newMemoryRepo())
	ctx := context.Background()

	w, err := svc.Create(ctx, Warehouse{Code: " wh-a ", Name: "Alpha"})
	require.NoError(t, err)
	assert.Equal(t, "WH-A", w.Code)
	assert.Equal(t, TypeMain, w.Type)
	assert.True(t, w.Active)

	_, err = svc.Create(ctx, Warehouse{Code: "WH-A", Name: "Again"})
	require.ErrorIs(t, err, shared.ErrDuplicate)

	_, err = svc.Create(ctx, Warehouse{Code: "", Name: "No code"})
	require.ErrorIs(t, err, shared.ErrRequiredField)

	_, err = svc.Create(ctx, Warehouse{Code: "X", Name: "Bad", Type: "ATTIC"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Create(ctx, Warehouse{Code: strings.Repeat("A", 33), Name: "Long"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestGetHonoursTenantScope(t *testing.T) {
	svc := NewService(newMemoryRepo())
	ctx := context.Background()

	global, err := svc.Create(ctx, Warehouse{Code: "MAIN", Name: "Main"})
	require.NoError(t, err)
	own, err := svc.Create(ctx, Warehouse{TenantID: 4, Code: "T4", Name: "Tenant four"})
	require.NoError(t, err)

	_, err = svc.Get(ctx, inventory.ForTenant(4), global.ID)
	require.NoError(t, err)
	_, err = svc.Get(ctx, inventory.ForTenant(4), own.ID)
	require.NoError(t, err)
	_, err = svc.Get(ctx, inventory.ForTenant(5), own.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = svc.Get(ctx, inventory.Scope{}, own.ID)
	require.ErrorIs(t, err, inventory.ErrScopeRequired)
	_, err = svc.Get(ctx, inventory.Company(), 0)
	require.ErrorIs(t, err, shared.ErrInvalidID)

	list, total, err := svc.List(ctx, inventory.ForTenant(5), shared.ListFilters{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, global.ID, list[0].ID)
}

func TestUpdateAndDeactivate(t *testing.T) {
	svc := NewService(newMemoryRepo())
	ctx := context.Background()

	w, err := svc.Create(ctx, Warehouse{TenantID: 2, Code: "T2", Name: "Two"})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, inventory.ForTenant(2), w.ID, Warehouse{Code: "t2-main", Name: "Two main", Type: TypeQuarantine})
	require.NoError(t, err)
	assert.Equal(t, "T2-MAIN", updated.Code)
	assert.Equal(t, TypeQuarantine, updated.Type)
	assert.Equal(t, int64(2), updated.TenantID)

	require.ErrorIs(t, svc.Deactivate(ctx, inventory.ForTenant(3), w.ID), shared.ErrNotFound)
	require.NoError(t, svc.Deactivate(ctx, inventory.ForTenant(2), w.ID))
	got, err := svc.Get(ctx, inventory.ForTenant(2), w.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
}

func TestTenantsCannotChangeGlobalWarehouses(t *testing.T) {
	svc := NewService(newMemoryRepo())
	ctx := context.Background()

	global, err := svc.GetOrCreateDefault(ctx, 0)
	require.NoError(t, err)

	visible, err := svc.Get(ctx, inventory.ForTenant(5), global.ID)
	require.NoError(t, err)
	assert.Equal(t, global.ID, visible.ID)

	_, err = svc.Update(ctx, inventory.ForTenant(5), global.ID, Warehouse{Code: "HIJACK", Name: "Mine now"})
	require.ErrorIs(t, err, shared.ErrForbidden)
	require.ErrorIs(t, svc.Deactivate(ctx, inventory.ForTenant(5), global.ID), shared.ErrForbidden)

	got, err := svc.Get(ctx, inventory.Company(), global.ID)
	require.NoError(t, err)
	assert.Equal(t, "MAIN", got.Code)
	assert.Equal(t, "Main Warehouse", got.Name)
	assert.True(t, got.Active)

	renamed, err := svc.Update(ctx, inventory.Company(), global.ID, Warehouse{Code: "MAIN", Name: "Central"})
	require.NoError(t, err)
	assert.Equal(t, "Central", renamed.Name)
	require.NoError(t, svc.Deactivate(ctx, inventory.AllTenants(), global.ID))
}

func TestGetOrCreateDefaultConverges(t *testing.T) {
	svc := NewService(newMemoryRepo())
	ctx := context.Background()

	assert.Equal(t, "MAIN", DefaultCode(0))
	assert.Equal(t, "T7-MAIN", DefaultCode(7))

	var wg sync.WaitGroup
	ids := make([]int64, 8)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w, err := svc.GetOrCreateDefault(ctx, 7)
			assert.NoError(t, err)
			ids[i] = w.ID
		}()
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}

	_, err := svc.GetOrCreateDefault(ctx, -1)
	require.ErrorIs(t, err, shared.ErrInvalidID)
}

func newWarehouseRouter(svc *Service) http.Handler {
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc)
	r := chi.NewRouter()
	r.Use(internalShared.ActorMiddleware)
	r.Route("/warehouses", h.MountRoutes)
	return r
}

func serve(h http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestWarehouseHandler(t *testing.T) {
	router := newWarehouseRouter(NewService(newMemoryRepo()))
	distributor := map[string]string{internalShared.HeaderUserID: "3", internalShared.HeaderTenantID: "6"}
	admin := map[string]string{internalShared.HeaderUserID: "1", internalShared.HeaderRole: internalShared.RoleAdmin}

	rr := serve(router, http.MethodPost, "/warehouses/", `{"code":"d6","name":"Depot","tenant_id":99}`, distributor)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created Warehouse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.Equal(t, int64(6), created.TenantID)

	rr = serve(router, http.MethodPost, "/warehouses/", `{"code":"d6","name":"Depot"}`, distributor)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = serve(router, http.MethodPost, "/warehouses/", `{"name":"No code"}`, distributor)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(router, http.MethodPost, "/warehouses/default?tenant_id=8", "", admin)
	require.Equal(t, http.StatusOK, rr.Code)
	var def Warehouse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &def))
	assert.Equal(t, "T8-MAIN", def.Code)

	rr = serve(router, http.MethodGet, "/warehouses/?limit=10", "", distributor)
	require.Equal(t, http.StatusOK, rr.Code)
	var listed struct {
		Data       []Warehouse               `json:"data"`
		Pagination internalShared.Pagination `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &listed))
	require.Len(t, listed.Data, 1)
	assert.Equal(t, 1, listed.Pagination.Total)

	rr = serve(router, http.MethodGet, "/warehouses/"+strconv.FormatInt(def.ID, 10), "", distributor)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = serve(router, http.MethodPost, "/warehouses/"+strconv.FormatInt(created.ID, 10)+"/deactivate", "", distributor)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = serve(router, http.MethodGet, "/warehouses/abc", "", distributor)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(router, http.MethodPost, "/warehouses/default", "", admin)
	require.Equal(t, http.StatusOK, rr.Code)
	var global Warehouse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &global))
	require.Equal(t, int64(0), global.TenantID)

	rr = serve(router, http.MethodPost, "/warehouses/"+strconv.FormatInt(global.ID, 10)+"/deactivate", "", distributor)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}
