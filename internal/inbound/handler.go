package inbound

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/distrochain/distrochain/internal/platform/httpx"
	"github.com/distrochain/distrochain/internal/shared"
)

type inboundService interface {
	AllocateInbound(ctx context.Context, caller shared.Caller, inboundID int64, allocations []Allocation) error
	CreateStockLot(ctx context.Context, caller shared.Caller, input CreateLotInput) (StockLot, error)
	ListStockLots(ctx context.Context, caller shared.Caller, productName string) ([]StockLot, error)
}

// Handler wires HTTP endpoints for warehouse stock and inbound allocation.
type Handler struct {
	logger  *slog.Logger
	service inboundService
}

// NewHandler constructs inbound handler.
func NewHandler(logger *slog.Logger, service inboundService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers stock lot and inbound order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/stock-lots", h.handleCreateLot)
	r.Get("/stock-lots", h.handleListLots)
	r.Post("/inbound-orders/{inboundID}/allocate", h.handleAllocate)
}

type createLotRequest struct {
	ProductName string `json:"product_name" validate:"required"`
	BatchNo     string `json:"batch_no"`
	MfgDate     string `json:"mfg_date" validate:"omitempty,datetime=2006-01-02"`
	ExpDate     string `json:"exp_date" validate:"omitempty,datetime=2006-01-02"`
	Qty         int64  `json:"qty" validate:"gt=0"`
}

func (h *Handler) handleCreateLot(w http.ResponseWriter, r *http.Request) {
	caller, err := httpx.Caller(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req createLotRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := CreateLotInput{ProductName: req.ProductName, BatchNo: req.BatchNo, Qty: req.Qty}
	if input.MfgDate, err = optionalDate(req.MfgDate); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if input.ExpDate, err = optionalDate(req.ExpDate); err != nil {
		httpx.RespondError(w, err)
		return
	}
	lot, err := h.service.CreateStockLot(r.Context(), caller, input)
	if err != nil {
		h.fail(w, "create stock lot", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, lot)
}

func (h *Handler) handleListLots(w http.ResponseWriter, r *http.Request) {
	caller, err := httpx.Caller(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	lots, err := h.service.ListStockLots(r.Context(), caller, r.URL.Query().Get("product"))
	if err != nil {
		h.fail(w, "list stock lots", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"lots": lots})
}

type allocateRequest struct {
	Allocations []struct {
		ProductName string `json:"product_name" validate:"required"`
		StockLotID  int64  `json:"stock_lot_id" validate:"required"`
		Qty         int64  `json:"qty" validate:"gt=0"`
	} `json:"allocations" validate:"required,min=1,dive"`
}

func (h *Handler) handleAllocate(w http.ResponseWriter, r *http.Request) {
	caller, err := httpx.Caller(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	inboundID, err := httpx.ParamInt64(r, "inboundID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req allocateRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	allocs := make([]Allocation, 0, len(req.Allocations))
	for _, a := range req.Allocations {
		allocs = append(allocs, Allocation{ProductName: a.ProductName, StockLotID: a.StockLotID, Qty: a.Qty})
	}
	if err := h.service.AllocateInbound(r.Context(), caller, inboundID, allocs); err != nil {
		h.fail(w, "allocate inbound", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if status, _ := httpx.Classify(err); status >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func optionalDate(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid date %q", shared.ErrValidation, raw)
	}
	return &t, nil
}
