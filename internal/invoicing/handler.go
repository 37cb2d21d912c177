package invoicing

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/distrochain/distrochain/internal/platform/httpx"
	"github.com/distrochain/distrochain/internal/shared"
)

type invoiceService interface {
	GenerateInvoice(ctx context.Context, caller shared.Caller, orderID int64, allocations []Allocation) (Result, error)
	GetInvoice(ctx context.Context, caller shared.Caller, invoiceID int64) (Invoice, error)
}

// Handler wires HTTP endpoints for invoicing.
type Handler struct {
	logger  *slog.Logger
	service invoiceService
}

// NewHandler constructs invoice handler.
func NewHandler(logger *slog.Logger, service invoiceService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountOrderRoutes registers invoice generation below /orders.
func (h *Handler) MountOrderRoutes(r chi.Router) {
	r.Post("/{orderID}/invoice", h.handleGenerate)
}

// MountRoutes registers invoice reads.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{invoiceID}", h.handleGet)
}

type generateRequest struct {
	Allocations []struct {
		ProductName string          `json:"product_name" validate:"required"`
		BatchNo     string          `json:"batch_no" validate:"required"`
		Rate        decimal.Decimal `json:"rate"`
	} `json:"allocations" validate:"required,min=1,dive"`
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	caller, err := httpx.Caller(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	orderID, err := httpx.ParamInt64(r, "orderID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req generateRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	allocs := make([]Allocation, 0, len(req.Allocations))
	for _, a := range req.Allocations {
		allocs = append(allocs, Allocation{ProductName: a.ProductName, BatchNo: a.BatchNo, Rate: a.Rate})
	}
	result, err := h.service.GenerateInvoice(r.Context(), caller, orderID, allocs)
	if err != nil {
		h.fail(w, "generate invoice", err)
		return
	}
	status := http.StatusCreated
	if result.Already {
		status = http.StatusOK
	}
	httpx.JSON(w, status, result)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	caller, err := httpx.Caller(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	invoiceID, err := httpx.ParamInt64(r, "invoiceID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.GetInvoice(r.Context(), caller, invoiceID)
	if err != nil {
		h.fail(w, "get invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if status, _ := httpx.Classify(err); status >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
