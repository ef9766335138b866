package warehouses

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/masterdata/shared"
	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	internalShared "github.com/odyssey-erp/stockledger/internal/shared"
)

type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers warehouse routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Post("/default", h.Default)
	r.Get("/{id}", h.Show)
	r.Put("/{id}", h.Update)
	r.Post("/{id}/deactivate", h.Deactivate)
}

type warehouseRequest struct {
	Code     string `json:"code" validate:"required,max=32"`
	Name     string `json:"name" validate:"required,max=128"`
	Address  string `json:"address"`
	Type     string `json:"type" validate:"omitempty,oneof=MAIN TRANSIT RETURN QUARANTINE VIRTUAL"`
	TenantID *int64 `json:"tenant_id"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := internalShared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	filters := shared.ListFilters{
		Page:    page,
		Limit:   limit,
		Search:  q.Get("search"),
		SortBy:  q.Get("sort"),
		SortDir: q.Get("dir"),
		Type:    strings.ToUpper(q.Get("type")),
	}
	if raw := q.Get("active"); raw != "" {
		if active, err := strconv.ParseBool(raw); err == nil {
			filters.IsActive = &active
		}
	}

	warehouses, total, err := h.service.List(r.Context(), inventory.ScopeForActor(actor, nil), filters)
	if err != nil {
		h.logger.Error("list warehouses failed", "error", err)
		httpx.RespondError(w, err)
		return
	}
	filters = filters.Normalize()
	httpx.JSON(w, http.StatusOK, map[string]any{
		"data":       warehouses,
		"pagination": internalShared.NewPagination(filters.Page, filters.Limit, total),
	})
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	warehouse, err := h.service.Get(r.Context(), inventory.ScopeForActor(actor, nil), id)
	if err != nil {
		h.respondError(w, err, "get warehouse failed", id)
		return
	}
	httpx.JSON(w, http.StatusOK, warehouse)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := internalShared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var req warehouseRequest
	if !h.decode(w, r, &req) {
		return
	}
	tenantID := actor.TenantID
	if actor.Privileged() && req.TenantID != nil {
		tenantID = *req.TenantID
	}
	created, err := h.service.Create(r.Context(), Warehouse{
		TenantID: tenantID,
		Code:     req.Code,
		Name:     req.Name,
		Address:  req.Address,
		Type:     Type(req.Type),
	})
	if err != nil {
		h.respondError(w, err, "create warehouse failed", 0)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req warehouseRequest
	if !h.decode(w, r, &req) {
		return
	}
	updated, err := h.service.Update(r.Context(), inventory.ScopeForActor(actor, nil), id, Warehouse{
		Code:    req.Code,
		Name:    req.Name,
		Address: req.Address,
		Type:    Type(req.Type),
	})
	if err != nil {
		h.respondError(w, err, "update warehouse failed", id)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	if err := h.service.Deactivate(r.Context(), inventory.ScopeForActor(actor, nil), id); err != nil {
		h.respondError(w, err, "deactivate warehouse failed", id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Default returns the caller's default warehouse, creating it when missing.
func (h *Handler) Default(w http.ResponseWriter, r *http.Request) {
	actor, ok := internalShared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	tenantID := actor.TenantID
	if actor.Privileged() {
		if raw := r.URL.Query().Get("tenant_id"); raw != "" {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || parsed < 0 {
				httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid tenant id")
				return
			}
			tenantID = parsed
		}
	}
	warehouse, err := h.service.GetOrCreateDefault(r.Context(), tenantID)
	if err != nil {
		h.respondError(w, err, "default warehouse failed", 0)
		return
	}
	httpx.JSON(w, http.StatusOK, warehouse)
}

func (h *Handler) actorAndID(w http.ResponseWriter, r *http.Request) (internalShared.Actor, int64, bool) {
	actor, ok := internalShared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return internalShared.Actor{}, 0, false
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "Invalid warehouse ID")
		return internalShared.Actor{}, 0, false
	}
	return actor, id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		fields := map[string]string{}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fieldErr := range verrs {
				fields[fieldErr.Field()] = fieldErr.Tag()
			}
		}
		httpx.ValidationProblem(w, fields)
		return false
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, err error, msg string, id int64) {
	if errors.Is(err, inventory.ErrScopeRequired) {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if !errors.Is(err, shared.ErrNotFound) && !errors.Is(err, shared.ErrValidation) && !errors.Is(err, shared.ErrDuplicate) && !errors.Is(err, shared.ErrForbidden) {
		h.logger.Error(msg, "error", err, "id", id)
	}
	httpx.RespondError(w, err)
}
