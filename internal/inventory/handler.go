package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/distrochain/distrochain/internal/platform/httpx"
	"github.com/distrochain/distrochain/internal/shared"
)

type inventoryService interface {
	ListBatches(ctx context.Context, caller shared.Caller, filter BatchFilter) ([]Batch, error)
	SuggestFEFO(ctx context.Context, caller shared.Caller, distributorID int64, productName string, qty int64) ([]Pick, error)
	StockCard(ctx context.Context, caller shared.Caller, filter StockCardFilter) ([]Movement, error)
}

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger  *slog.Logger
	service inventoryService
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service inventoryService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/batches", h.handleBatches)
	r.Get("/fefo", h.handleFEFO)
	r.Get("/stock-card", h.handleStockCard)
}

func (h *Handler) handleBatches(w http.ResponseWriter, r *http.Request) {
	caller, err := httpx.Caller(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q := r.URL.Query()
	distributorID, err := queryInt64(q.Get("distributor_id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	batches, err := h.service.ListBatches(r.Context(), caller, BatchFilter{
		DistributorID: distributorID,
		ProductName:   q.Get("product"),
		IncludeEmpty:  q.Get("include_empty") == "true",
	})
	if err != nil {
		h.fail(w, "list batches", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"batches": batches})
}

func (h *Handler) handleFEFO(w http.ResponseWriter, r *http.Request) {
	caller, err := httpx.Caller(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q := r.URL.Query()
	distributorID, err := queryInt64(q.Get("distributor_id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	qty, err := queryInt64(q.Get("qty"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	picks, err := h.service.SuggestFEFO(r.Context(), caller, distributorID, q.Get("product"), qty)
	if err != nil {
		h.fail(w, "suggest fefo", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"picks": picks})
}

func (h *Handler) handleStockCard(w http.ResponseWriter, r *http.Request) {
	caller, err := httpx.Caller(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q := r.URL.Query()
	filter := StockCardFilter{ProductName: q.Get("product"), BatchNo: q.Get("batch_no")}
	if filter.DistributorID, err = queryInt64(q.Get("distributor_id")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.From, err = queryDate(q.Get("from")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.To, err = queryDate(q.Get("to")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.ParseUint(limit, 10, 32)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: invalid limit", shared.ErrValidation))
			return
		}
		filter.Limit = n
	}
	entries, err := h.service.StockCard(r.Context(), caller, filter)
	if err != nil {
		h.fail(w, "stock card", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if status, _ := httpx.Classify(err); status >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func queryInt64(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid number %q", shared.ErrValidation, raw)
	}
	return v, nil
}

func queryDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q", shared.ErrValidation, raw)
	}
	return t, nil
}
