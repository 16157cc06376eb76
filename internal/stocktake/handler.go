package stocktake

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/apotek-erp/apotek-erp/internal/platform/httpx"
	"github.com/apotek-erp/apotek-erp/internal/shared"
	"github.com/apotek-erp/apotek-erp/internal/tenant"
)

// Handler wires HTTP endpoints for stock takes.
type Handler struct {
	logger   *slog.Logger
	svc      *Service
	validate *validator.Validate
}

// NewHandler constructs the stocktake handler.
func NewHandler(logger *slog.Logger, svc *Service) *Handler {
	return &Handler{logger: logger, svc: svc, validate: validator.New()}
}

// MountRoutes registers stocktake routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/stock-takes", h.generate)
	r.Get("/stock-takes/{sheetID}", h.get)
	r.Put("/stock-takes/{sheetID}/counts", h.recordCount)
	r.Post("/stock-takes/{sheetID}/post", h.post)
	r.Post("/stock-takes/{sheetID}/cancel", h.cancel)
}

type generateRequest struct {
	BranchID int64  `json:"branch_id" validate:"required"`
	Note     string `json:"note"`
}

type sheetResponse struct {
	ID       string         `json:"id"`
	BranchID int64          `json:"branch_id"`
	Number   string         `json:"number"`
	Status   string         `json:"status"`
	Note     string         `json:"note,omitempty"`
	Lines    []lineResponse `json:"lines"`
}

type lineResponse struct {
	ItemID     int64   `json:"item_id"`
	SystemQty  string  `json:"system_qty"`
	CountedQty *string `json:"counted_qty,omitempty"`
}

func toSheetResponse(sheet Sheet, lines []SheetLine) sheetResponse {
	resp := sheetResponse{
		ID:       sheet.ID,
		BranchID: sheet.BranchID,
		Number:   sheet.Number,
		Status:   string(sheet.Status),
		Note:     sheet.Note,
		Lines:    make([]lineResponse, 0, len(lines)),
	}
	for _, l := range lines {
		lr := lineResponse{ItemID: l.ItemID, SystemQty: l.SystemQty.String()}
		if l.CountedQty.Valid {
			counted := l.CountedQty.Decimal.String()
			lr.CountedQty = &counted
		}
		resp.Lines = append(resp.Lines, lr)
	}
	return resp
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	sheet, lines, err := h.svc.GenerateSheet(r.Context(), tenant.CompanyID(r.Context()), req.BranchID, req.Note)
	if err != nil {
		h.respondError(w, r, "generate stock take", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toSheetResponse(sheet, lines))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	sheet, lines, err := h.svc.Get(r.Context(), tenant.CompanyID(r.Context()), chi.URLParam(r, "sheetID"))
	if err != nil {
		h.respondError(w, r, "get stock take", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSheetResponse(sheet, lines))
}

type countRequest struct {
	ItemID  int64  `json:"item_id" validate:"required"`
	Counted string `json:"counted_qty" validate:"required"`
}

func (h *Handler) recordCount(w http.ResponseWriter, r *http.Request) {
	var req countRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	counted, err := decimal.NewFromString(req.Counted)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "counted_qty must be a decimal")
		return
	}
	err = h.svc.RecordCount(r.Context(), tenant.CompanyID(r.Context()), chi.URLParam(r, "sheetID"), req.ItemID, counted)
	if err != nil {
		h.respondError(w, r, "record count", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"recorded": true})
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Post(r.Context(), tenant.CompanyID(r.Context()), chi.URLParam(r, "sheetID"), shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, r, "post stock take", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"adjustments_appended": len(entries)})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Cancel(r.Context(), tenant.CompanyID(r.Context()), chi.URLParam(r, "sheetID")); err != nil {
		h.respondError(w, r, "cancel stock take", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "CANCELLED"})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrSheetNotFound), errors.Is(err, ErrLineNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, shared.ErrValidation), errors.Is(err, ErrNothingCounted):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
