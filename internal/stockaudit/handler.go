package stockaudit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/distrochain/distrochain/internal/platform/httpx"
	"github.com/distrochain/distrochain/internal/shared"
)

type auditService interface {
	SubmitFieldAudit(ctx context.Context, caller shared.Caller, retailerID int64, inputs []FieldLineInput) (FieldAuditResult, error)
	OpenWarehouseAudit(ctx context.Context, caller shared.Caller, distributorID int64, monthKey string) (StockAudit, error)
	PatchAuditLines(ctx context.Context, caller shared.Caller, id uuid.UUID, patches []LinePatch) (StockAudit, error)
	AddAuditLine(ctx context.Context, caller shared.Caller, id uuid.UUID, input NewLineInput) (StockAudit, error)
	SubmitWarehouseAudit(ctx context.Context, caller shared.Caller, id uuid.UUID) (Status, error)
	ApproveAudit(ctx context.Context, caller shared.Caller, id uuid.UUID) (ApproveResult, error)
	GetAudit(ctx context.Context, caller shared.Caller, id uuid.UUID) (StockAudit, error)
}

// Handler exposes field and warehouse stock audits.
type Handler struct {
	logger  *slog.Logger
	service auditService
}

// NewHandler constructs the stock audit handler.
func NewHandler(logger *slog.Logger, service auditService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRetailerRoutes registers field audits under a /retailers/{retailerID} route.
func (h *Handler) MountRetailerRoutes(r chi.Router) {
	r.Post("/field-audits", h.handleFieldAudit)
}

// MountRoutes registers warehouse audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleOpen)
	r.Route("/{auditID}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Patch("/lines", h.handlePatch)
		r.Post("/lines", h.handleAddLine)
		r.Post("/submit", h.handleSubmit)
		r.Post("/approve", h.handleApprove)
	})
}

type fieldAuditRequest struct {
	Lines []struct {
		ProductName string `json:"product_name" validate:"required"`
		BatchNo     string `json:"batch_no" validate:"required"`
		ExpiryDate  string `json:"expiry_date" validate:"required,datetime=2006-01-02"`
		SystemQty   *int64 `json:"system_qty" validate:"omitempty,gte=0"`
		PhysicalQty *int64 `json:"physical_qty" validate:"required,gte=0"`
	} `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handleFieldAudit(w http.ResponseWriter, r *http.Request) {
	caller, err := httpx.Caller(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	retailerID, err := httpx.ParamInt64(r, "retailerID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req fieldAuditRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	inputs := make([]FieldLineInput, 0, len(req.Lines))
	for _, l := range req.Lines {
		expiry, err := time.Parse(time.DateOnly, l.ExpiryDate)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: invalid expiry date %q", shared.ErrValidation, l.ExpiryDate))
			return
		}
		inputs = append(inputs, FieldLineInput{
			ProductName: l.ProductName,
			BatchNo:     l.BatchNo,
			ExpiryDate:  expiry,
			SystemQty:   l.SystemQty,
			PhysicalQty: l.PhysicalQty,
		})
	}
	result, err := h.service.SubmitFieldAudit(r.Context(), caller, retailerID, inputs)
	if err != nil {
		h.fail(w, "submit field audit", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

type openRequest struct {
	DistributorID int64  `json:"distributor_id" validate:"required"`
	MonthKey      string `json:"month_key" validate:"required,datetime=2006-01"`
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	caller, err := httpx.Caller(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req openRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	audit, err := h.service.OpenWarehouseAudit(r.Context(), caller, req.DistributorID, req.MonthKey)
	if err != nil {
		h.fail(w, "open stock audit", err)
		return
	}
	httpx.JSON(w, http.StatusOK, audit)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.target(w, r)
	if !ok {
		return
	}
	audit, err := h.service.GetAudit(r.Context(), caller, id)
	if err != nil {
		h.fail(w, "get stock audit", err)
		return
	}
	httpx.JSON(w, http.StatusOK, audit)
}

type patchRequest struct {
	Lines []struct {
		LineID      int64   `json:"line_id" validate:"required"`
		PhysicalQty *int64  `json:"physical_qty" validate:"omitempty,gte=0"`
		Reason      *string `json:"reason"`
		RootCause   *string `json:"root_cause"`
		Remarks     *string `json:"remarks"`
	} `json:"lines" validate:"required,min=1,dive"`
}

type addLineRequest struct {
	ProductName string `json:"product_name" validate:"required"`
	BatchNo     string `json:"batch_no" validate:"required"`
	ExpiryDate  string `json:"expiry_date" validate:"required,datetime=2006-01-02"`
	PhysicalQty *int64 `json:"physical_qty" validate:"required,gte=0"`
	Reason      string `json:"reason" validate:"max=255"`
	RootCause   string `json:"root_cause" validate:"max=255"`
	Remarks     string `json:"remarks" validate:"max=255"`
}

func (h *Handler) handleAddLine(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req addLineRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	expiry, err := time.Parse(time.DateOnly, req.ExpiryDate)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid expiry date %q", shared.ErrValidation, req.ExpiryDate))
		return
	}
	audit, err := h.service.AddAuditLine(r.Context(), caller, id, NewLineInput{
		ProductName: req.ProductName,
		BatchNo:     req.BatchNo,
		ExpiryDate:  expiry,
		PhysicalQty: *req.PhysicalQty,
		Reason:      req.Reason,
		RootCause:   req.RootCause,
		Remarks:     req.Remarks,
	})
	if err != nil {
		h.fail(w, "add audit line", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, audit)
}

func (h *Handler) handlePatch(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req patchRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	patches := make([]LinePatch, 0, len(req.Lines))
	for _, l := range req.Lines {
		patches = append(patches, LinePatch{
			LineID:      l.LineID,
			PhysicalQty: l.PhysicalQty,
			Reason:      l.Reason,
			RootCause:   l.RootCause,
			Remarks:     l.Remarks,
		})
	}
	audit, err := h.service.PatchAuditLines(r.Context(), caller, id, patches)
	if err != nil {
		h.fail(w, "patch stock audit", err)
		return
	}
	httpx.JSON(w, http.StatusOK, audit)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.target(w, r)
	if !ok {
		return
	}
	status, err := h.service.SubmitWarehouseAudit(r.Context(), caller, id)
	if err != nil {
		h.fail(w, "submit stock audit", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]Status{"status": status})
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.target(w, r)
	if !ok {
		return
	}
	result, err := h.service.ApproveAudit(r.Context(), caller, id)
	if err != nil {
		h.fail(w, "approve stock audit", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) target(w http.ResponseWriter, r *http.Request) (shared.Caller, uuid.UUID, bool) {
	caller, err := httpx.Caller(r)
	if err != nil {
		httpx.RespondError(w, err)
		return shared.Caller{}, uuid.Nil, false
	}
	raw := chi.URLParam(r, "auditID")
	id, err := uuid.Parse(raw)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid audit id %q", shared.ErrValidation, raw))
		return shared.Caller{}, uuid.Nil, false
	}
	return caller, id, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if status, _ := httpx.Classify(err); status >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
