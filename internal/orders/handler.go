package orders

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/distrochain/distrochain/internal/platform/httpx"
	"github.com/distrochain/distrochain/internal/shared"
)

type orderService interface {
	SubmitOrder(ctx context.Context, caller shared.Caller, input SubmitInput) (SubmitResult, error)
	EditOrder(ctx context.Context, caller shared.Caller, orderID int64, changes []LineQtyChange) (Order, error)
	DeleteOrder(ctx context.Context, caller shared.Caller, orderID int64) (bool, error)
	GetOrder(ctx context.Context, caller shared.Caller, orderID int64) (Order, error)
}

// Handler wires HTTP endpoints for order intake.
type Handler struct {
	logger  *slog.Logger
	service orderService
}

// NewHandler constructs order handler.
func NewHandler(logger *slog.Logger, service orderService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleSubmit)
	r.Get("/{orderID}", h.handleGet)
	r.Patch("/{orderID}", h.handleEdit)
	r.Delete("/{orderID}", h.handleDelete)
}

type submitLine struct {
	ProductName string          `json:"product_name" validate:"required"`
	Qty         int64           `json:"qty" validate:"gt=0"`
	Rate        decimal.Decimal `json:"rate"`
}

type submitRequest struct {
	RetailerID     int64        `json:"retailer_id" validate:"required"`
	DistributorID  int64        `json:"distributor_id" validate:"required"`
	IdempotencyKey string       `json:"idempotency_key"`
	DeviceID       string       `json:"device_id"`
	Lines          []submitLine `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	caller, err := httpx.Caller(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req submitRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key == "" {
		key = req.IdempotencyKey
	}
	input := SubmitInput{
		RetailerID:     req.RetailerID,
		DistributorID:  req.DistributorID,
		IdempotencyKey: key,
		DeviceID:       req.DeviceID,
	}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, LineInput{ProductName: l.ProductName, Qty: l.Qty, Rate: l.Rate})
	}
	result, err := h.service.SubmitOrder(r.Context(), caller, input)
	if err != nil {
		h.fail(w, "submit order", err)
		return
	}
	status := http.StatusCreated
	if result.Deduped {
		status = http.StatusOK
	}
	httpx.JSON(w, status, result)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	caller, orderID, ok := h.scope(w, r)
	if !ok {
		return
	}
	order, err := h.service.GetOrder(r.Context(), caller, orderID)
	if err != nil {
		h.fail(w, "get order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

type editRequest struct {
	Lines []struct {
		LineID int64 `json:"line_id" validate:"required"`
		Qty    int64 `json:"qty"`
	} `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handleEdit(w http.ResponseWriter, r *http.Request) {
	caller, orderID, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req editRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	changes := make([]LineQtyChange, 0, len(req.Lines))
	for _, l := range req.Lines {
		changes = append(changes, LineQtyChange{LineID: l.LineID, Qty: l.Qty})
	}
	order, err := h.service.EditOrder(r.Context(), caller, orderID, changes)
	if err != nil {
		h.fail(w, "edit order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	caller, orderID, ok := h.scope(w, r)
	if !ok {
		return
	}
	deleted, err := h.service.DeleteOrder(r.Context(), caller, orderID)
	if err != nil {
		h.fail(w, "delete order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

func (h *Handler) scope(w http.ResponseWriter, r *http.Request) (shared.Caller, int64, bool) {
	caller, err := httpx.Caller(r)
	if err != nil {
		httpx.RespondError(w, err)
		return shared.Caller{}, 0, false
	}
	orderID, err := httpx.ParamInt64(r, "orderID")
	if err != nil {
		httpx.RespondError(w, err)
		return shared.Caller{}, 0, false
	}
	return caller, orderID, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if status, _ := httpx.Classify(err); status >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
