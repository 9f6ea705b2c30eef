package inventory

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/reservations", h.handleReserve)
	r.Delete("/reservations/{orderID}", h.handleRelease)
	r.Post("/reservations/{orderID}/fulfil", h.handleFulfil)
	r.Post("/adjustments", h.handleAdjustment)
	r.Post("/transfers", h.handleTransfer)
	r.Get("/availability", h.handleAvailability)
	r.Get("/movements", h.handleMovements)
	r.Get("/low-stock", h.handleLowStock)
	r.Get("/warehouses/capacity", h.handleCapacity)
	r.Post("/warehouses/{id}/deactivate", h.handleDeactivate)
	r.Post("/warehouses/{id}/recalculate", h.handleRecalculate)
	r.Get("/products/{id}/reconcile", h.handleReconcile)
	r.Get("/products/{id}/value", h.handleValue)
}

type reserveRequest struct {
	OrderID int64       `json:"order_id" validate:"required,gt=0"`
	Items   []OrderItem `json:"items" validate:"required,min=1,dive"`
	UserID  string      `json:"user_id" validate:"required"`
}

type actorRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

type adjustmentRequest struct {
	ProductID       int64            `json:"product_id" validate:"required,gt=0"`
	WarehouseID     int64            `json:"warehouse_id" validate:"required,gt=0"`
	Quantity        int64            `json:"quantity" validate:"required"`
	Type            MovementType     `json:"type" validate:"omitempty,oneof=Receipt Shipment Adjustment Return"`
	ReferenceNumber string           `json:"reference_number" validate:"max=64"`
	Reason          string           `json:"reason" validate:"max=255"`
	UnitCost        *decimal.Decimal `json:"unit_cost"`
	UserID          string           `json:"user_id" validate:"required"`
}

type transferRequest struct {
	ProductID       int64   `json:"product_id" validate:"required_with=Quantity,gte=0"`
	FromWarehouseID int64   `json:"from_warehouse_id" validate:"required,gt=0"`
	ToWarehouseID   int64   `json:"to_warehouse_id" validate:"required,gt=0,nefield=FromWarehouseID"`
	Quantity        int64   `json:"quantity" validate:"gte=0"`
	All             bool    `json:"all"`
	ProductIDs      []int64 `json:"product_ids" validate:"omitempty,dive,gt=0"`
	ReferenceNumber string  `json:"reference_number" validate:"max=64"`
	Reason          string  `json:"reason" validate:"max=255"`
	UserID          string  `json:"user_id" validate:"required"`
}

func (h *Handler) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.service.ReserveStock(r.Context(), ReserveInput{OrderID: req.OrderID, Items: req.Items, UserID: req.UserID})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"reservations": out})
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		httpx.ValidationProblem(w, errors.New("user_id query parameter required"))
		return
	}
	n, err := h.service.ReleaseReservation(r.Context(), orderID, userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"released": n})
}

func (h *Handler) handleFulfil(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}
	var req actorRequest
	if !h.decode(w, r, &req) {
		return
	}
	n, err := h.service.FulfillOrder(r.Context(), orderID, req.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"fulfilled": n})
}

func (h *Handler) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.service.AdjustInventory(r.Context(), AdjustmentInput{
		ProductID:       req.ProductID,
		WarehouseID:     req.WarehouseID,
		Quantity:        req.Quantity,
		Type:            req.Type,
		ReferenceNumber: req.ReferenceNumber,
		Reason:          req.Reason,
		UnitCost:        req.UnitCost,
		UserID:          req.UserID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, m)
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.service.TransferStock(r.Context(), TransferRequest{
		ProductID:       req.ProductID,
		FromWarehouseID: req.FromWarehouseID,
		ToWarehouseID:   req.ToWarehouseID,
		Quantity:        req.Quantity,
		All:             req.All,
		ProductIDs:      req.ProductIDs,
		ReferenceNumber: req.ReferenceNumber,
		Reason:          req.Reason,
		UserID:          req.UserID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"movements": out})
}

func (h *Handler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	productID, err := strconv.ParseInt(q.Get("product_id"), 10, 64)
	if err != nil || productID <= 0 {
		httpx.ValidationProblem(w, errors.New("product_id must be a positive integer"))
		return
	}
	warehouseID, err := optionalID(q.Get("warehouse_id"))
	if err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	qty, err := h.service.GetAvailableQuantity(r.Context(), productID, warehouseID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"product_id": productID, "warehouse_id": warehouseID, "available": qty})
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		filter MovementFilter
		err    error
	)
	if v := q.Get("product_id"); v != "" {
		if filter.ProductID, err = strconv.ParseInt(v, 10, 64); err != nil {
			httpx.ValidationProblem(w, fmt.Errorf("product_id: %w", err))
			return
		}
	}
	if v := q.Get("warehouse_id"); v != "" {
		if filter.WarehouseID, err = strconv.ParseInt(v, 10, 64); err != nil {
			httpx.ValidationProblem(w, fmt.Errorf("warehouse_id: %w", err))
			return
		}
	}
	filter.Type = MovementType(q.Get("type"))
	if v := q.Get("from"); v != "" {
		if filter.FromDate, err = time.Parse(time.RFC3339, v); err != nil {
			httpx.ValidationProblem(w, fmt.Errorf("from: %w", err))
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil || filter.Limit < 0 || filter.Limit > 1000 {
			httpx.ValidationProblem(w, errors.New("limit must be between 0 and 1000"))
			return
		}
	}
	if v := q.Get("cursor"); v != "" {
		if filter.Cursor, err = DecodeCursor(v); err != nil {
			httpx.ValidationProblem(w, err)
			return
		}
	}
	page, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := map[string]any{"movements": page.Movements}
	if page.NextCursor != nil {
		resp["next_cursor"] = EncodeCursor(*page.NextCursor)
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleLowStock(w http.ResponseWriter, r *http.Request) {
	warehouseID, err := optionalID(r.URL.Query().Get("warehouse_id"))
	if err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	items, err := h.service.LowStock(r.Context(), warehouseID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) handleCapacity(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.CapacityReport(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"warehouses": rows})
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req actorRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.DeactivateWarehouse(r.Context(), id, req.UserID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	wh, err := h.service.RecalculateUtilization(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, wh)
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	rec, err := h.service.Reconcile(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"product_id":    rec.ProductID,
		"ledger_total":  rec.LedgerTotal,
		"on_hand_total": rec.OnHandTotal,
		"balanced":      rec.Balanced(),
	})
}

func (h *Handler) handleValue(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	value, err := h.service.ValueOnHand(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"product_id":    id,
		"value_on_hand": value.StringFixed(2),
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.ValidationProblem(w, fmt.Errorf("invalid body: %w", err))
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		httpx.ValidationProblem(w, err)
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		stockErr    *StockError
		capacityErr *CapacityError
	)
	switch {
	case errors.As(err, &stockErr):
		title := "Insufficient Stock"
		if errors.Is(err, ErrNoSingleWarehouse) {
			title = "No Single Warehouse Sufficient"
		}
		httpx.WriteProblem(w, httpx.ProblemDetail{
			Status: http.StatusConflict,
			Title:  title,
			Detail: err.Error(),
			Meta: map[string]any{
				"product_id":   stockErr.ProductID,
				"warehouse_id": stockErr.WarehouseID,
				"requested":    stockErr.Requested,
				"available":    stockErr.Available,
			},
		})
	case errors.As(err, &capacityErr):
		httpx.WriteProblem(w, httpx.ProblemDetail{
			Status: http.StatusConflict,
			Title:  "Capacity Exceeded",
			Detail: err.Error(),
			Meta: map[string]any{
				"warehouse_id": capacityErr.WarehouseID,
				"required":     capacityErr.Required,
				"free":         capacityErr.Free,
			},
		})
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidQuantity):
		httpx.ValidationProblem(w, err)
	case errors.Is(err, ErrDuplicateKey):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrConcurrencyConflict):
		httpx.Problem(w, http.StatusConflict, "Concurrent Update", "retry the request")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httpx.Problem(w, http.StatusServiceUnavailable, "Request Cancelled", "")
	default:
		h.logger.Error("inventory request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.ValidationProblem(w, fmt.Errorf("%s must be a positive integer", name))
		return 0, false
	}
	return id, true
}

func optionalID(v string) (*int64, error) {
	if v == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return nil, errors.New("warehouse_id must be a positive integer")
	}
	return &id, nil
}

// EncodeCursor renders a keyset cursor as an opaque token.
func EncodeCursor(c MovementCursor) string {
	raw := c.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + strconv.FormatInt(c.ID, 10)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by EncodeCursor.
func DecodeCursor(token string) (*MovementCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, errors.New("malformed cursor")
	}
	at, id, ok := strings.Cut(string(raw), "|")
	if !ok {
		return nil, errors.New("malformed cursor")
	}
	createdAt, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return nil, errors.New("malformed cursor")
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, errors.New("malformed cursor")
	}
	return &MovementCursor{CreatedAt: createdAt, ID: n}, nil
}
