package compat

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Handler serves the legacy inventory record endpoints.
type Handler struct {
	logger  *slog.Logger
	service *ViewService
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *ViewService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the view routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Get("/{id}/batches", h.handleBatches)
	r.Get("/{id}/serials", h.handleSerials)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	views, err := h.service.InventoryViews(r.Context(), scope)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": views})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	view, err := h.service.InventoryView(r.Context(), scope, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) handleBatches(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	batches, err := h.service.BatchDetails(r.Context(), scope, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": batches})
}

func (h *Handler) handleSerials(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	serials, err := h.service.SerialDetails(r.Context(), scope, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": serials})
}

func (h *Handler) scope(w http.ResponseWriter, r *http.Request) (inventory.Scope, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return inventory.Scope{}, false
	}
	var requested *int64
	if raw := r.URL.Query().Get("tenant_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid tenant id")
			return inventory.Scope{}, false
		}
		requested = &id
	}
	return inventory.ScopeForActor(actor, requested), true
}

func (h *Handler) scopeAndID(w http.ResponseWriter, r *http.Request) (inventory.Scope, int64, bool) {
	scope, ok := h.scope(w, r)
	if !ok {
		return inventory.Scope{}, 0, false
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid inventory id")
		return inventory.Scope{}, 0, false
	}
	return scope, id, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, inventory.ErrScopeRequired) {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if !errors.Is(err, shared.ErrNotFound) {
		h.logger.Error("inventory view failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
