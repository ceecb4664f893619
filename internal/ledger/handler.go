package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/stockd/stockd/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the stock ledger.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/transactions", h.handleRecord)
	r.Get("/items/low-stock", h.handleLowStock)
	r.Get("/items/{itemID}", h.handleGetItem)
	r.Get("/items/{itemID}/entries", h.handleListEntries)
}

type recordRequest struct {
	ItemID        int64   `json:"item_id" validate:"required"`
	Type          string  `json:"type" validate:"required"`
	Quantity      float64 `json:"quantity" validate:"required"`
	UnitCost      float64 `json:"unit_cost" validate:"gte=0"`
	BatchID       int64   `json:"batch_id"`
	SerialID      int64   `json:"serial_id"`
	SrcLocationID int64   `json:"src_location_id"`
	DstLocationID int64   `json:"dst_location_id"`
	Note          string  `json:"note" validate:"max=500"`
	RefModule     string  `json:"ref_module" validate:"max=50"`
	RefID         string  `json:"ref_id" validate:"omitempty,uuid"`
}

type entryResponse struct {
	ID          int64   `json:"id"`
	Code        string  `json:"code"`
	ItemID      int64   `json:"item_id"`
	Type        string  `json:"type"`
	Quantity    float64 `json:"quantity"`
	UnitCost    float64 `json:"unit_cost"`
	StockBefore float64 `json:"stock_before"`
	StockAfter  float64 `json:"stock_after"`
	PostedAt    string  `json:"posted_at"`
	Note        string  `json:"note,omitempty"`
}

func (h *Handler) handleRecord(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	entry, err := h.service.RecordTransaction(r.Context(), RecordInput{
		ItemID:         req.ItemID,
		Type:           TransactionType(req.Type),
		Quantity:       req.Quantity,
		UnitCost:       req.UnitCost,
		BatchID:        req.BatchID,
		SerialID:       req.SerialID,
		SrcLocationID:  req.SrcLocationID,
		DstLocationID:  req.DstLocationID,
		Note:           req.Note,
		RefModule:      req.RefModule,
		RefID:          req.RefID,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toEntryResponse(entry))
}

func (h *Handler) handleGetItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Item", "item id must be numeric")
		return
	}
	item, err := h.service.GetItem(r.Context(), itemID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) handleListEntries(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Item", "item id must be numeric")
		return
	}
	filter := EntryFilter{ItemID: itemID, Type: TransactionType(r.URL.Query().Get("type"))}
	if from := r.URL.Query().Get("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Range", "from must be YYYY-MM-DD")
			return
		}
		filter.From = t
	}
	if to := r.URL.Query().Get("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Range", "to must be YYYY-MM-DD")
			return
		}
		filter.To = t.Add(24*time.Hour - time.Nanosecond)
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}
	entries, err := h.service.ListEntries(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryResponse(e))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleLowStock(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, _ = strconv.Atoi(limitStr)
	}
	items, err := h.service.ListLowStock(r.Context(), limit)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrItemNotFound):
		httpx.Problem(w, http.StatusNotFound, "Item Not Found", err.Error())
	case errors.Is(err, ErrInsufficientStock):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrInvalidTransactionType), errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidUnitCost):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Movement", err.Error())
	default:
		h.logger.Error("ledger request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func toEntryResponse(e Entry) entryResponse {
	return entryResponse{
		ID:          e.ID,
		Code:        e.Code,
		ItemID:      e.ItemID,
		Type:        string(e.Type),
		Quantity:    e.Quantity,
		UnitCost:    e.UnitCost,
		StockBefore: e.StockBefore,
		StockAfter:  e.StockAfter,
		PostedAt:    e.PostedAt.Format(time.RFC3339),
		Note:        e.Note,
	}
}
