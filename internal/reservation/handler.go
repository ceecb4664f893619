package reservation

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/stockd/stockd/internal/batch"
	"github.com/stockd/stockd/internal/ledger"
	"github.com/stockd/stockd/internal/platform/httpx"
)

// Handler wires HTTP endpoints for stock reservations.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the reservation handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers reservation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/reservations", h.handleReserve)
	r.Get("/reservations", h.handleList)
	r.Get("/reservations/{reservationID}", h.handleGet)
	r.Post("/reservations/{reservationID}/consume", h.handleConsume)
	r.Post("/reservations/{reservationID}/cancel", h.handleCancel)
}

type reserveRequest struct {
	ItemID     int64   `json:"item_id" validate:"required"`
	LocationID int64   `json:"location_id" validate:"required"`
	Quantity   float64 `json:"quantity" validate:"required,gt=0"`
	Type       string  `json:"type" validate:"required,oneof=ESTIMATION ORDER TRANSFER"`
	Method     string  `json:"pricing_method" validate:"omitempty,oneof=fifo lifo average last"`
	TTLHours   int     `json:"ttl_hours" validate:"gte=0,lte=2160"`
	RefModule  string  `json:"ref_module" validate:"max=50"`
	RefID      string  `json:"ref_id" validate:"max=100"`
	Note       string  `json:"note" validate:"max=500"`
}

func (h *Handler) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := ReserveInput{
		ItemID:     req.ItemID,
		LocationID: req.LocationID,
		Quantity:   req.Quantity,
		Type:       Type(req.Type),
		Method:     req.Method,
		RefModule:  req.RefModule,
		RefID:      req.RefID,
		Note:       req.Note,
	}
	if req.TTLHours > 0 {
		input.TTL = time.Duration(req.TTLHours) * time.Hour
	}
	res, err := h.service.Reserve(r.Context(), input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{Status: Status(q.Get("status"))}
	filter.ItemID, _ = strconv.ParseInt(q.Get("item_id"), 10, 64)
	filter.LocationID, _ = strconv.ParseInt(q.Get("location_id"), 10, 64)
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	out, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	res, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleConsume(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	res, entry, err := h.service.Consume(r.Context(), id, 0)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, consumeResponse{Reservation: res, Entry: entry})
}

type consumeResponse struct {
	Reservation Reservation  `json:"reservation"`
	Entry       ledger.Entry `json:"entry"`
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	res, err := h.service.Cancel(r.Context(), id, 0)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "reservationID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Reservation", "reservation id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrReservationNotFound), errors.Is(err, ErrItemNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrReservationNotActive), errors.Is(err, ErrInsufficientAvailability):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrInvalidType), errors.Is(err, ErrInvalidQuantity), errors.Is(err, batch.ErrInvalidCostMethod):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
	default:
		h.logger.Error("reservation request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
