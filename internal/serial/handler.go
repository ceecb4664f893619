package serial

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/stockd/stockd/internal/platform/httpx"
)

// Handler wires HTTP endpoints for serialised-unit allocation.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the serial handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers serial routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/serials", h.handleListAvailable)
	r.Post("/serials/allocations", h.handleAllocate)
	r.Get("/serials/allocations", h.handleListAllocations)
	r.Get("/serials/allocations/{allocationID}", h.handleGetAllocation)
	r.Post("/serials/allocations/{allocationID}/confirm", h.handleConfirm)
	r.Post("/serials/allocations/{allocationID}/release", h.handleRelease)
}

type allocateRequest struct {
	RefType  string `json:"ref_type" validate:"required,max=50"`
	RefID    string `json:"ref_id" validate:"required,max=100"`
	Requests []struct {
		UnitID        int64  `json:"unit_id" validate:"required"`
		Reason        string `json:"reason" validate:"max=200"`
		TechnicalSpec string `json:"technical_spec" validate:"max=500"`
	} `json:"units" validate:"required,min=1,max=100,dive"`
}

func (h *Handler) handleListAvailable(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	itemID, err := strconv.ParseInt(q.Get("item_id"), 10, 64)
	if err != nil || itemID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Item", "item_id query parameter is required")
		return
	}
	locationID, _ := strconv.ParseInt(q.Get("location_id"), 10, 64)
	candidates, err := h.service.ListAvailable(r.Context(), itemID, locationID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, candidates)
}

func (h *Handler) handleAllocate(w http.ResponseWriter, r *http.Request) {
	var req allocateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := AllocateInput{RefType: req.RefType, RefID: req.RefID}
	for _, u := range req.Requests {
		input.Requests = append(input.Requests, AllocateRequest{
			UnitID:        u.UnitID,
			Reason:        u.Reason,
			TechnicalSpec: u.TechnicalSpec,
		})
	}
	allocations, err := h.service.Allocate(r.Context(), input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, allocations)
}

func (h *Handler) handleListAllocations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out, err := h.service.ListAllocations(r.Context(), q.Get("ref_type"), q.Get("ref_id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetAllocation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseAllocationID(w, r)
	if !ok {
		return
	}
	alloc, err := h.service.GetAllocation(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, alloc)
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseAllocationID(w, r)
	if !ok {
		return
	}
	alloc, err := h.service.Confirm(r.Context(), id, 0)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, alloc)
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseAllocationID(w, r)
	if !ok {
		return
	}
	alloc, err := h.service.Release(r.Context(), id, 0)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, alloc)
}

func (h *Handler) parseAllocationID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "allocationID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Allocation", "allocation id must be numeric")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrSerialNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrSerialNotAvailable), errors.Is(err, ErrInvalidTransition):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrEmptyAllocation):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
	default:
		h.logger.Error("serial request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
