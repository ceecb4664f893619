package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/stockd/stockd/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the batch store and costing engine.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the batch handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers batch routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/batches", h.handleReceive)
	r.Get("/batches", h.handleList)
	r.Get("/batches/{batchID}", h.handleGet)
	r.Post("/batches/{batchID}/consume", h.handleConsume)

	// Valuation reads fan out from pricing screens; keep them behind a
	// tighter limiter than the global one.
	r.Group(func(r chi.Router) {
		r.Use(httprate.Limit(30, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		r.Get("/costing/{itemID}/summary", h.handleSummary)
		r.Get("/costing/{itemID}/estimate", h.handleEstimate)
	})
}

type receiveRequest struct {
	Number        string  `json:"number" validate:"max=50"`
	ItemID        int64   `json:"item_id" validate:"required"`
	LocationID    int64   `json:"location_id" validate:"required"`
	SupplierID    int64   `json:"supplier_id"`
	PurchaseDate  string  `json:"purchase_date" validate:"omitempty,datetime=2006-01-02"`
	PurchasePrice float64 `json:"purchase_price" validate:"gte=0"`
	ReceivedQty   float64 `json:"received_quantity" validate:"required,gt=0"`
	ExpiryDate    string  `json:"expiry_date" validate:"omitempty,datetime=2006-01-02"`
}

type consumeRequest struct {
	Quantity float64 `json:"quantity" validate:"required,gt=0"`
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	var req receiveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := ReceiveInput{
		Number:        req.Number,
		ItemID:        req.ItemID,
		LocationID:    req.LocationID,
		SupplierID:    req.SupplierID,
		PurchasePrice: req.PurchasePrice,
		ReceivedQty:   req.ReceivedQty,
	}
	if req.PurchaseDate != "" {
		input.PurchaseDate, _ = time.Parse("2006-01-02", req.PurchaseDate)
	}
	if req.ExpiryDate != "" {
		input.ExpiryDate, _ = time.Parse("2006-01-02", req.ExpiryDate)
	}
	b, err := h.service.Receive(r.Context(), input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, b)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		Status: Status(q.Get("status")),
		SortBy: q.Get("sort_by"),
	}
	filter.ItemID, _ = strconv.ParseInt(q.Get("item_id"), 10, 64)
	filter.LocationID, _ = strconv.ParseInt(q.Get("location_id"), 10, 64)
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	batches, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batches)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	batchID, err := strconv.ParseInt(chi.URLParam(r, "batchID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Batch", "batch id must be numeric")
		return
	}
	b, err := h.service.Get(r.Context(), batchID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) handleConsume(w http.ResponseWriter, r *http.Request) {
	batchID, err := strconv.ParseInt(chi.URLParam(r, "batchID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Batch", "batch id must be numeric")
		return
	}
	var req consumeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	b, err := h.service.Consume(r.Context(), batchID, req.Quantity, 0)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Item", "item id must be numeric")
		return
	}
	locationID, _ := strconv.ParseInt(r.URL.Query().Get("location_id"), 10, 64)

	key := fmt.Sprintf("summary:%d:%d", itemID, locationID)
	value, err := singleflightSummary(r.Context(), key, func(ctx context.Context) (any, error) {
		return h.service.Summary(ctx, itemID, locationID)
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, value)
}

func (h *Handler) handleEstimate(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Item", "item id must be numeric")
		return
	}
	locationID, _ := strconv.ParseInt(r.URL.Query().Get("location_id"), 10, 64)
	method := CostMethod(r.URL.Query().Get("method"))
	cost, err := h.service.EstimateUnitCost(r.Context(), itemID, locationID, method)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	// cost 0 means no batch could answer; callers treat it as unknown.
	httpx.JSON(w, http.StatusOK, map[string]any{
		"item_id":   itemID,
		"method":    method,
		"unit_cost": cost,
	})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrBatchNotFound):
		httpx.Problem(w, http.StatusNotFound, "Batch Not Found", err.Error())
	case errors.Is(err, ErrBatchDepleted):
		httpx.Problem(w, http.StatusConflict, "Batch Depleted", err.Error())
	case errors.Is(err, ErrInvalidCostMethod), errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidPrice):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
	default:
		h.logger.Error("batch request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
