package inventory

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

const dateLayout = "2006-01-02"

const maxIdempotencyKeyLen = 128

// IdempotencyGuard claims Idempotency-Key values for write endpoints.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// Handler wires HTTP endpoints for the inventory ledger.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	validator   *validator.Validate
	idempotency IdempotencyGuard
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// WithIdempotency makes ledger writes honour the Idempotency-Key header.
func (h *Handler) WithIdempotency(guard IdempotencyGuard) *Handler {
	h.idempotency = guard
	return h
}

// MountRoutes registers inventory routes. Actor resolution must run before.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/balances", h.handleBalances)
	r.Get("/available", h.handleAvailable)
	r.Get("/movements", h.handleHistory)
	r.Post("/movements", h.handleAppend)
	r.Post("/movements/batch", h.handleAppendBatch)
	r.Post("/movements/{id}/reverse", h.handleReverse)
	r.Post("/transfers", h.handleTransfer)
	r.Post("/allocations", h.handleAllocate)
	r.Post("/issues", h.handleIssue)

	r.Get("/lots", h.handleListLots)
	r.Post("/lots", h.handleCreateLot)
	r.Get("/lots/expiring", h.handleExpiringLots)
	r.Get("/lots/{id}", h.handleGetLot)
	r.Post("/lots/{id}/block", h.handleBlockLot)
	r.Post("/lots/{id}/unblock", h.handleUnblockLot)
	r.Post("/lots/{id}/status", h.handleLotStatus)
	r.Post("/lots/{id}/quality", h.handleLotQuality)

	r.Get("/serials", h.handleListSerials)
	r.Post("/serials", h.handleCreateSerial)
	r.Get("/serials/{id}", h.handleGetSerial)
	r.Post("/serials/{id}/status", h.handleSerialStatus)
}

type movementRequest struct {
	TransactionNo   string              `json:"transaction_no" validate:"max=64"`
	TransactionType string              `json:"transaction_type" validate:"required"`
	MovementType    string              `json:"movement_type" validate:"omitempty,oneof=IN OUT RESERVE RELEASE"`
	ItemID          int64               `json:"item_id" validate:"required,gt=0"`
	LotID           int64               `json:"lot_id" validate:"gte=0"`
	SerialID        int64               `json:"serial_id" validate:"gte=0"`
	Quantity        int64               `json:"quantity" validate:"required,gt=0"`
	WarehouseID     int64               `json:"warehouse_id" validate:"required,gt=0"`
	ReferenceType   string              `json:"reference_type" validate:"max=64"`
	ReferenceID     string              `json:"reference_id" validate:"max=64"`
	ReferenceNo     string              `json:"reference_no" validate:"max=64"`
	UnitCost        decimal.NullDecimal `json:"unit_cost"`
	Notes           string              `json:"notes"`
	TenantID        *int64              `json:"tenant_id"`
}

type batchRequest struct {
	Movements []movementRequest `json:"movements" validate:"required,min=1,dive"`
}

type reverseRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type transferRequest struct {
	TransactionNo   string              `json:"transaction_no" validate:"max=60"`
	ItemID          int64               `json:"item_id" validate:"required,gt=0"`
	LotID           int64               `json:"lot_id" validate:"gte=0"`
	Quantity        int64               `json:"quantity" validate:"required,gt=0"`
	FromWarehouseID int64               `json:"from_warehouse_id" validate:"required,gt=0"`
	ToWarehouseID   int64               `json:"to_warehouse_id" validate:"required,gt=0,nefield=FromWarehouseID"`
	UnitCost        decimal.NullDecimal `json:"unit_cost"`
	ReferenceType   string              `json:"reference_type"`
	ReferenceID     string              `json:"reference_id"`
	ReferenceNo     string              `json:"reference_no"`
	Notes           string              `json:"notes"`
	TenantID        *int64              `json:"tenant_id"`
}

type allocationRequest struct {
	ItemID          int64  `json:"item_id" validate:"required,gt=0"`
	WarehouseID     int64  `json:"warehouse_id" validate:"required,gt=0"`
	Quantity        int64  `json:"quantity" validate:"required,gt=0"`
	Strategy        string `json:"strategy" validate:"required,oneof=FIFO FEFO"`
	TransactionType string `json:"transaction_type"`
	ReferenceType   string `json:"reference_type"`
	ReferenceID     string `json:"reference_id"`
	ReferenceNo     string `json:"reference_no"`
	Notes           string `json:"notes"`
	TenantID        *int64 `json:"tenant_id"`
}

type lotRequest struct {
	LotNumber       string              `json:"lot_number" validate:"required,max=64"`
	ItemID          int64               `json:"item_id" validate:"required,gt=0"`
	WarehouseID     int64               `json:"warehouse_id" validate:"required,gt=0"`
	ManufactureDate string              `json:"manufacture_date" validate:"omitempty,datetime=2006-01-02"`
	ExpiryDate      string              `json:"expiry_date" validate:"omitempty,datetime=2006-01-02"`
	ReceivedDate    string              `json:"received_date" validate:"omitempty,datetime=2006-01-02"`
	PurchaseOrderID string              `json:"purchase_order_id"`
	GRNID           string              `json:"grn_id"`
	UnitCost        decimal.NullDecimal `json:"unit_cost"`
	LandedCost      decimal.NullDecimal `json:"landed_cost"`
	QualityStatus   string              `json:"quality_status" validate:"omitempty,oneof=PENDING APPROVED REJECTED QUARANTINE"`
	Attributes      map[string]string   `json:"attributes"`
	TenantID        *int64              `json:"tenant_id"`
}

type lotStatusRequest struct {
	Status string `json:"status" validate:"omitempty,oneof=EXPIRED CONSUMED"`
	Reason string `json:"reason"`
}

type lotQualityRequest struct {
	QualityStatus string `json:"quality_status" validate:"required,oneof=PENDING APPROVED REJECTED QUARANTINE"`
}

type serialRequest struct {
	SerialNumber  string              `json:"serial_number" validate:"required,max=128"`
	ItemID        int64               `json:"item_id" validate:"required,gt=0"`
	LotID         int64               `json:"lot_id" validate:"gte=0"`
	WarehouseID   int64               `json:"warehouse_id" validate:"gte=0"`
	OwnerType     string              `json:"owner_type" validate:"omitempty,oneof=COMPANY DISTRIBUTOR CUSTOMER"`
	OwnerID       int64               `json:"owner_id" validate:"gte=0"`
	UnitCost      decimal.NullDecimal `json:"unit_cost"`
	LandedCost    decimal.NullDecimal `json:"landed_cost"`
	WarrantyStart string              `json:"warranty_start" validate:"omitempty,datetime=2006-01-02"`
	WarrantyEnd   string              `json:"warranty_end" validate:"omitempty,datetime=2006-01-02"`
	TenantID      *int64              `json:"tenant_id"`
}

type serialStatusRequest struct {
	Status        string     `json:"status" validate:"required,oneof=AVAILABLE RESERVED SOLD RETURNED DAMAGED SCRAPPED"`
	WarehouseID   *int64     `json:"warehouse_id"`
	OwnerType     *string    `json:"owner_type" validate:"omitempty,oneof=COMPANY DISTRIBUTOR CUSTOMER"`
	OwnerID       *int64     `json:"owner_id"`
	SoldAt        *time.Time `json:"sold_at"`
	ReturnedAt    *time.Time `json:"returned_at"`
	WarrantyStart *time.Time `json:"warranty_start"`
	WarrantyEnd   *time.Time `json:"warranty_end"`
}

func (h *Handler) handleBalances(w http.ResponseWriter, r *http.Request) {
	actor, scope, ok := h.readScope(w, r)
	if !ok {
		return
	}
	filter := BalanceFilter{Scope: scope}
	var err error
	q := r.URL.Query()
	if filter.ItemID, err = queryInt64(q.Get("item_id")); err != nil {
		h.badRequest(w, "item_id", err)
		return
	}
	if filter.WarehouseID, err = queryInt64(q.Get("warehouse_id")); err != nil {
		h.badRequest(w, "warehouse_id", err)
		return
	}
	if filter.LotID, err = queryInt64(q.Get("lot_id")); err != nil {
		h.badRequest(w, "lot_id", err)
		return
	}
	balances, err := h.service.StockBalance(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, actor, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": balances})
}

func (h *Handler) handleAvailable(w http.ResponseWriter, r *http.Request) {
	actor, scope, ok := h.readScope(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	itemID, err := queryInt64(q.Get("item_id"))
	if err != nil || itemID == 0 {
		h.badRequest(w, "item_id", errors.New("required"))
		return
	}
	warehouseID, err := queryInt64(q.Get("warehouse_id"))
	if err != nil || warehouseID == 0 {
		h.badRequest(w, "warehouse_id", errors.New("required"))
		return
	}
	lotID, err := queryInt64(q.Get("lot_id"))
	if err != nil {
		h.badRequest(w, "lot_id", err)
		return
	}
	available, err := h.service.AvailableQuantity(r.Context(), itemID, warehouseID, scope, lotID)
	if err != nil {
		h.writeError(w, r, actor, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"item_id":      itemID,
		"warehouse_id": warehouseID,
		"lot_id":       lotID,
		"available":    available,
	})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	actor, scope, ok := h.readScope(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := HistoryFilter{Scope: scope, TransactionType: TransactionType(strings.ToUpper(q.Get("transaction_type")))}
	var err error
	for key, dst := range map[string]*int64{
		"item_id":      &filter.ItemID,
		"warehouse_id": &filter.WarehouseID,
		"lot_id":       &filter.LotID,
		"serial_id":    &filter.SerialID,
	} {
		if *dst, err = queryInt64(q.Get(key)); err != nil {
			h.badRequest(w, key, err)
			return
		}
	}
	if raw := q.Get("from"); raw != "" {
		if filter.From, err = time.Parse(dateLayout, raw); err != nil {
			h.badRequest(w, "from", err)
			return
		}
	}
	if raw := q.Get("to"); raw != "" {
		if filter.To, err = time.Parse(dateLayout, raw); err != nil {
			h.badRequest(w, "to", err)
			return
		}
		filter.To = filter.To.Add(24*time.Hour - time.Nanosecond)
	}
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	rows, pagination, err := h.service.TransactionHistory(r.Context(), filter, shared.PageRequest{Page: page, PerPage: perPage})
	if err != nil {
		h.writeError(w, r, actor, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": rows, "pagination": pagination})
}

func (h *Handler) handleAppend(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req movementRequest
	if !h.decode(w, r, &req) {
		return
	}
	release, ok := h.claim(w, r, actor, "inventory.movements")
	if !ok {
		return
	}
	row, err := h.service.Append(r.Context(), req.input(actor))
	if err != nil {
		release()
		h.writeError(w, r, actor, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, row)
}

func (h *Handler) handleAppendBatch(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req batchRequest
	if !h.decode(w, r, &req) {
		return
	}
	inputs := make([]MovementInput, 0, len(req.Movements))
	for _, m := range req.Movements {
		inputs = append(inputs, m.input(actor))
	}
	release, ok := h.claim(w, r, actor, "inventory.movements.batch")
	if !ok {
		return
	}
	rows, err := h.service.AppendAll(r.Context(), inputs)
	if err != nil {
		release()
		h.writeError(w, r, actor, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"data": rows})
}

func (h *Handler) handleReverse(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req reverseRequest
	if !h.decode(w, r, &req) {
		return
	}
	if _, err := h.service.GetMovement(r.Context(), ScopeForActor(actor, nil), id); err != nil {
		h.writeError(w, r, actor, err)
		return
	}
	release, ok := h.claim(w, r, actor, "inventory.reversals")
	if !ok {
		return
	}
	row, err := h.service.Reverse(r.Context(), id, req.Reason, actor.UserID)
	if err != nil {
		release()
		h.writeError(w, r, actor, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, row)
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if !h.decode(w, r, &req) {
		return
	}
	release, ok := h.claim(w, r, actor, "inventory.transfers")
	if !ok {
		return
	}
	out, in, err := h.service.Transfer(r.Context(), TransferInput{
		TransactionNo:   req.TransactionNo,
		ItemID:          req.ItemID,
		LotID:           req.LotID,
		Quantity:        req.Quantity,
		FromWarehouseID: req.FromWarehouseID,
		ToWarehouseID:   req.ToWarehouseID,
		UnitCost:        req.UnitCost,
		ReferenceType:   req.ReferenceType,
		ReferenceID:     req.ReferenceID,
		ReferenceNo:     req.ReferenceNo,
		Notes:           req.Notes,
		TenantID:        writeTenant(actor, req.TenantID),
		ActorID:         actor.UserID,
	})
	if err != nil {
		release()
		h.writeError(w, r, actor, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"out": out, "in": in})
}

func (h *Handler) handleAllocate(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req allocationRequest
	if !h.decode(w, r, &req) {
		return
	}
	allocations, err := h.service.Allocate(r.Context(), AllocationRequest{
		ItemID:      req.ItemID,
		WarehouseID: req.WarehouseID,
		Quantity:    req.Quantity,
		Scope:       ScopeOf(writeTenant(actor, req.TenantID)),
		Strategy:    Strategy(req.Strategy),
	})
	if err != nil {
		h.writeError(w, r, actor, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": allocations})
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req allocationRequest
	if !h.decode(w, r, &req) {
		return
	}
	release, ok := h.claim(w, r, actor, "inventory.issues")
	if !ok {
		return
	}
	allocations, rows, err := h.service.IssueAllocated(r.Context(), IssueInput{
		ItemID:          req.ItemID,
		WarehouseID:     req.WarehouseID,
		Quantity:        req.Quantity,
		Strategy:        Strategy(req.Strategy),
		TransactionType: TransactionType(req.TransactionType),
		ReferenceType:   req.ReferenceType,
		ReferenceID:     req.ReferenceID,
		ReferenceNo:     req.ReferenceNo,
		Notes:           req.Notes,
		TenantID:        writeTenant(actor, req.TenantID),
		ActorID:         actor.UserID,
	})
	if err != nil {
		release()
		h.writeError(w, r, actor, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"allocations": allocations, "movements": rows})
}

func (h *Handler) handleListLots(w http.ResponseWriter, r *http.Request) {
	actor, scope, ok := h.readScope(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := LotFilter{Scope: scope}
	var err error
	if filter.ItemID, err = queryInt64(q.Get("item_id")); err != nil {
		h.badRequest(w, "item_id", err)
		return
	}
	if filter.WarehouseID, err = queryInt64(q.Get("warehouse_id")); err != nil {
		h.badRequest(w, "warehouse_id", err)
		return
	}
	if raw := q.Get("status"); raw != "" {
		for _, st := range strings.Split(raw, ",") {
			filter.Statuses = append(filter.Statuses, LotStatus(strings.ToUpper(strings.TrimSpace(st))))
		}
	}
	lots, err := h.service.ListLots(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, actor, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": lots})
}

func (h *Handler) handleCreateLot(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req lotRequest
	if !h.decode(w, r, &req) {
		return
	}
	lot, err := h.service.CreateLot(r.Context(), LotInput{
		LotNumber:       req.LotNumber,
		ItemID:          req.ItemID,
		ManufactureDate: parseDate(req.ManufactureDate),
		ExpiryDate:      parseDate(req.ExpiryDate),
		ReceivedDate:    parseDate(req.ReceivedDate),
		PurchaseOrderID: req.PurchaseOrderID,
		GRNID:           req.GRNID,
		UnitCost:        req.UnitCost,
		LandedCost:      req.LandedCost,
		QualityStatus:   QualityStatus(req.QualityStatus),
		TenantID:        writeTenant(actor, req.TenantID),
		WarehouseID:     req.WarehouseID,
		Attributes:      req.Attributes,
	})
	if err != nil {
		h.writeError(w, r, actor, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, lot)
}

func (h *Handler) handleExpiringLots(w http.ResponseWriter, r *http.Request) {
	actor, scope, ok := h.readScope(w, r)
	if !ok {
		return
	}
	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.badRequest(w, "days", err)
			return
		}
		days = parsed
	}
	lots, err := h.service.ExpiringLots(r.Context(), scope, days)
	if err != nil {
		h.writeError(w, r, actor, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": lots})
}

func (h *Handler) handleGetLot(w http.ResponseWriter, r *http.Request) {
	actor, scope, ok := h.readScope(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	lot, err := h.service.GetLot(r.Context(), scope, id)
	if err != nil {
		h.writeError(w, r, actor, err)
		return
	}
	httpx.JSON(w, http.StatusOK, lot)
}

func (h *Handler) handleBlockLot(w http.ResponseWriter, r *http.Request) {
	h.lotTransition(w, r, func(req lotStatusRequest, actor shared.Actor, id int64) (Lot, error) {
		return h.service.BlockLot(r.Context(), ScopeForActor(actor, nil), id, req.Reason, actor.UserID)
	})
}

func (h *Handler) handleUnblockLot(w http.ResponseWriter, r *http.Request) {
	h.lotTransition(w, r, func(req lotStatusRequest, actor shared.Actor, id int64) (Lot, error) {
		return h.service.UnblockLot(r.Context(), ScopeForActor(actor, nil), id, req.Reason, actor.UserID)
	})
}

func (h *Handler) handleLotStatus(w http.ResponseWriter, r *http.Request) {
	h.lotTransition(w, r, func(req lotStatusRequest, actor shared.Actor, id int64) (Lot, error) {
		return h.service.MarkLotStatus(r.Context(), ScopeForActor(actor, nil), id, LotStatus(req.Status), req.Reason, actor.UserID)
	})
}

func (h *Handler) lotTransition(w http.ResponseWriter, r *http.Request, apply func(lotStatusRequest, shared.Actor, int64) (Lot, error)) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req lotStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	lot, err := apply(req, actor, id)
	if err != nil {
		h.writeError(w, r, actor, err)
		return
	}
	httpx.JSON(w, http.StatusOK, lot)
}

func (h *Handler) handleLotQuality(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req lotQualityRequest
	if !h.decode(w, r, &req) {
		return
	}
	lot, err := h.service.SetLotQuality(r.Context(), ScopeForActor(actor, nil), id, QualityStatus(req.QualityStatus), actor.UserID)
	if err != nil {
		h.writeError(w, r, actor, err)
		return
	}
	httpx.JSON(w, http.StatusOK, lot)
}

func (h *Handler) handleListSerials(w http.ResponseWriter, r *http.Request) {
	actor, scope, ok := h.readScope(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := SerialFilter{Scope: scope, Status: SerialStatus(strings.ToUpper(q.Get("status")))}
	var err error
	for key, dst := range map[string]*int64{
		"item_id":      &filter.ItemID,
		"lot_id":       &filter.LotID,
		"warehouse_id": &filter.WarehouseID,
	} {
		if *dst, err = queryInt64(q.Get(key)); err != nil {
			h.badRequest(w, key, err)
			return
		}
	}
	serials, err := h.service.ListSerials(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, actor, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": serials})
}

func (h *Handler) handleCreateSerial(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req serialRequest
	if !h.decode(w, r, &req) {
		return
	}
	serial, err := h.service.CreateSerial(r.Context(), SerialInput{
		SerialNumber:  req.SerialNumber,
		ItemID:        req.ItemID,
		LotID:         req.LotID,
		WarehouseID:   req.WarehouseID,
		OwnerType:     OwnerType(req.OwnerType),
		OwnerID:       req.OwnerID,
		TenantID:      writeTenant(actor, req.TenantID),
		UnitCost:      req.UnitCost,
		LandedCost:    req.LandedCost,
		WarrantyStart: parseDate(req.WarrantyStart),
		WarrantyEnd:   parseDate(req.WarrantyEnd),
	})
	if err != nil {
		h.writeError(w, r, actor, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, serial)
}

func (h *Handler) handleGetSerial(w http.ResponseWriter, r *http.Request) {
	actor, scope, ok := h.readScope(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	serial, err := h.service.GetSerial(r.Context(), scope, id)
	if err != nil {
		h.writeError(w, r, actor, err)
		return
	}
	httpx.JSON(w, http.StatusOK, serial)
}

func (h *Handler) handleSerialStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req serialStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	update := SerialUpdate{
		WarehouseID:   req.WarehouseID,
		OwnerID:       req.OwnerID,
		SoldAt:        req.SoldAt,
		ReturnedAt:    req.ReturnedAt,
		WarrantyStart: req.WarrantyStart,
		WarrantyEnd:   req.WarrantyEnd,
	}
	if req.OwnerType != nil {
		owner := OwnerType(*req.OwnerType)
		update.OwnerType = &owner
	}
	serial, err := h.service.UpdateSerialStatus(r.Context(), ScopeForActor(actor, nil), id, SerialStatus(req.Status), update)
	if err != nil {
		h.writeError(w, r, actor, err)
		return
	}
	httpx.JSON(w, http.StatusOK, serial)
}

func (m movementRequest) input(actor shared.Actor) MovementInput {
	return MovementInput{
		TransactionNo:   m.TransactionNo,
		TransactionType: TransactionType(strings.ToUpper(m.TransactionType)),
		MovementType:    MovementType(m.MovementType),
		ItemID:          m.ItemID,
		LotID:           m.LotID,
		SerialID:        m.SerialID,
		Quantity:        m.Quantity,
		WarehouseID:     m.WarehouseID,
		ReferenceType:   m.ReferenceType,
		ReferenceID:     m.ReferenceID,
		ReferenceNo:     m.ReferenceNo,
		UnitCost:        m.UnitCost,
		Notes:           m.Notes,
		TenantID:        writeTenant(actor, m.TenantID),
		ActorID:         actor.UserID,
	}
}

// writeTenant picks the tenant a write is booked under. Only privileged
// actors may book on behalf of another tenant.
func writeTenant(actor shared.Actor, requested *int64) int64 {
	if actor.Privileged() && requested != nil {
		return *requested
	}
	return actor.TenantID
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (shared.Actor, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return shared.Actor{}, false
	}
	return actor, true
}

func (h *Handler) readScope(w http.ResponseWriter, r *http.Request) (shared.Actor, Scope, bool) {
	actor, ok := h.actor(w, r)
	if !ok {
		return shared.Actor{}, Scope{}, false
	}
	var requested *int64
	if raw := r.URL.Query().Get("tenant_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id < 0 {
			h.badRequest(w, "tenant_id", errors.New("invalid tenant id"))
			return shared.Actor{}, Scope{}, false
		}
		requested = &id
	}
	return actor, ScopeForActor(actor, requested), true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return false
		}
		fields := make(map[string]string, len(verrs))
		for _, fieldErr := range verrs {
			fields[fieldErr.Field()] = fieldErr.Tag()
		}
		httpx.ValidationProblem(w, fields)
		return false
	}
	return true
}

// claim reserves the request's Idempotency-Key. The returned release frees
// the key again when the write fails.
func (h *Handler) claim(w http.ResponseWriter, r *http.Request, actor shared.Actor, module string) (func(), bool) {
	raw := strings.TrimSpace(r.Header.Get(shared.HeaderIdempotencyKey))
	if h.idempotency == nil || raw == "" {
		return func() {}, true
	}
	if len(raw) > maxIdempotencyKeyLen {
		h.badRequest(w, shared.HeaderIdempotencyKey, errors.New("key too long"))
		return nil, false
	}
	key := shared.IdempotencyKey(actor, raw)
	if err := h.idempotency.CheckAndInsert(r.Context(), key, module); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			httpx.Problem(w, http.StatusConflict, "Duplicate", "request already processed")
			return nil, false
		}
		h.logger.Error("idempotency claim failed", slog.String("module", module), slog.Any("error", err))
		httpx.RespondError(w, err)
		return nil, false
	}
	return func() {
		if err := h.idempotency.Delete(context.WithoutCancel(r.Context()), key, module); err != nil {
			h.logger.Warn("idempotency release failed", slog.String("module", module), slog.Any("error", err))
		}
	}, true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return 0, false
	}
	return id, true
}

func (h *Handler) badRequest(w http.ResponseWriter, field string, err error) {
	httpx.ValidationProblem(w, map[string]string{field: err.Error()})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, actor shared.Actor, err error) {
	var insufficient *InsufficientStockError
	switch {
	case errors.As(err, &insufficient):
		httpx.ProblemWith(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error(), map[string]any{
			"available": insufficient.Available,
			"required":  insufficient.Required,
		})
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicateSerial), errors.Is(err, ErrDuplicateLot), errors.Is(err, ErrDuplicateTransactionNo):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrAlreadyReversed), errors.Is(err, ErrInvalidStatusTransition):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrConcurrencyConflict):
		h.logger.Warn("ledger conflict after retries", slog.String("path", r.URL.Path), slog.Int64("user_id", actor.UserID), slog.Any("error", err))
		httpx.Problem(w, http.StatusConflict, "Conflict", "concurrent update, try again")
	case errors.Is(err, ErrInvalidMovement), errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInvalidUnitCost), errors.Is(err, ErrScopeRequired):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("inventory request failed", slog.String("path", r.URL.Path), slog.Int64("user_id", actor.UserID), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func queryInt64(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, errors.New("must be a non-negative integer")
	}
	return v, nil
}

// parseDate reads a validated YYYY-MM-DD string; empty yields nil.
func parseDate(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil
	}
	return &t
}
