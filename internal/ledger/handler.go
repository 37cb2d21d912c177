package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/distrochain/distrochain/internal/platform/httpx"
	"github.com/distrochain/distrochain/internal/shared"
)

type ledgerService interface {
	AppendEntry(ctx context.Context, caller shared.Caller, input AppendInput) (int64, error)
	Entries(ctx context.Context, caller shared.Caller, retailerID int64, filter EntryFilter) ([]StatementLine, error)
	Summary(ctx context.Context, caller shared.Caller, retailerID int64) (Summary, error)
	Windows(ctx context.Context, caller shared.Caller, retailerID int64) (Windows, error)
	Aging(ctx context.Context, caller shared.Caller, retailerID int64, asOf time.Time) (Aging, error)
}

// Handler wires HTTP endpoints for the retailer ledger.
type Handler struct {
	logger  *slog.Logger
	service ledgerService
}

// NewHandler constructs ledger handler.
func NewHandler(logger *slog.Logger, service ledgerService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRetailerRoutes registers routes below /retailers/{retailerID}.
func (h *Handler) MountRetailerRoutes(r chi.Router) {
	r.Post("/ledger", h.handleAppend)
	r.Get("/ledger", h.handleEntries)
	r.Get("/ledger/summary", h.handleSummary)
	r.Get("/ledger/aging", h.handleAging)
}

type appendRequest struct {
	Type      EntryType       `json:"type" validate:"required,oneof=DEBIT CREDIT"`
	Amount    decimal.Decimal `json:"amount"`
	Date      *time.Time      `json:"date,omitempty"`
	Reference string          `json:"reference" validate:"max=64"`
	Narration string          `json:"narration" validate:"max=255"`
}

func (h *Handler) handleAppend(w http.ResponseWriter, r *http.Request) {
	caller, retailerID, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req appendRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := AppendInput{RetailerID: retailerID, Type: req.Type, Amount: req.Amount, Reference: req.Reference, Narration: req.Narration}
	if req.Date != nil {
		input.Date = *req.Date
	}
	id, err := h.service.AppendEntry(r.Context(), caller, input)
	if err != nil {
		h.fail(w, "append ledger entry", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"entry_id": id})
}

func (h *Handler) handleEntries(w http.ResponseWriter, r *http.Request) {
	caller, retailerID, ok := h.scope(w, r)
	if !ok {
		return
	}
	var filter EntryFilter
	var err error
	if filter.From, err = parseDate(r.URL.Query().Get("from")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.To, err = parseDate(r.URL.Query().Get("to")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	lines, err := h.service.Entries(r.Context(), caller, retailerID, filter)
	if err != nil {
		h.fail(w, "ledger entries", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": lines})
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	caller, retailerID, ok := h.scope(w, r)
	if !ok {
		return
	}
	summary, err := h.service.Summary(r.Context(), caller, retailerID)
	if err != nil {
		h.fail(w, "ledger summary", err)
		return
	}
	windows, err := h.service.Windows(r.Context(), caller, retailerID)
	if err != nil {
		h.fail(w, "ledger windows", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"summary": summary, "windows": windows})
}

func (h *Handler) handleAging(w http.ResponseWriter, r *http.Request) {
	caller, retailerID, ok := h.scope(w, r)
	if !ok {
		return
	}
	asOf, err := parseDate(r.URL.Query().Get("as_of"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	aging, err := h.service.Aging(r.Context(), caller, retailerID, asOf)
	if err != nil {
		h.fail(w, "ledger aging", err)
		return
	}
	httpx.JSON(w, http.StatusOK, aging)
}

func (h *Handler) scope(w http.ResponseWriter, r *http.Request) (shared.Caller, int64, bool) {
	caller, err := httpx.Caller(r)
	if err != nil {
		httpx.RespondError(w, err)
		return shared.Caller{}, 0, false
	}
	retailerID, err := httpx.ParamInt64(r, "retailerID")
	if err != nil {
		httpx.RespondError(w, err)
		return shared.Caller{}, 0, false
	}
	return caller, retailerID, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if status, _ := httpx.Classify(err); status >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q", shared.ErrValidation, raw)
	}
	return t, nil
}
