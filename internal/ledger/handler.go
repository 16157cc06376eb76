package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/apotek-erp/apotek-erp/internal/platform/httpx"
	"github.com/apotek-erp/apotek-erp/internal/shared"
	"github.com/apotek-erp/apotek-erp/internal/tenant"
)

// Handler wires HTTP endpoints for the inventory ledger.
type Handler struct {
	logger   *slog.Logger
	writer   *Writer
	validate *validator.Validate
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, writer *Writer) *Handler {
	return &Handler{logger: logger, writer: writer, validate: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/ledger", h.listLedger)
	r.Get("/balances/{branchID}/{itemID}", h.getBalance)
	r.Post("/adjustments", h.postAdjustment)
	r.Post("/opening-balances", h.postOpeningBalance)
}

type entryResponse struct {
	ID            int64   `json:"id"`
	BranchID      int64   `json:"branch_id"`
	ItemID        int64   `json:"item_id"`
	Type          string  `json:"transaction_type"`
	ReferenceType string  `json:"reference_type,omitempty"`
	ReferenceID   string  `json:"reference_id,omitempty"`
	QuantityDelta string  `json:"quantity_delta"`
	UnitCost      *string `json:"unit_cost,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

func toEntryResponse(e Entry) entryResponse {
	resp := entryResponse{
		ID:            e.ID,
		BranchID:      e.BranchID,
		ItemID:        e.ItemID,
		Type:          string(e.Type),
		ReferenceType: string(e.ReferenceType),
		ReferenceID:   e.ReferenceID,
		QuantityDelta: e.QuantityDelta.String(),
		CreatedAt:     e.CreatedAt.Format(time.RFC3339),
	}
	if e.UnitCost.Valid {
		cost := e.UnitCost.Decimal.String()
		resp.UnitCost = &cost
	}
	return resp
}

func (h *Handler) listLedger(w http.ResponseWriter, r *http.Request) {
	companyID := tenant.CompanyID(r.Context())
	q := r.URL.Query()
	filter := Filter{
		BranchID: parseInt(q.Get("branch_id")),
		ItemID:   parseInt(q.Get("item_id")),
		Type:     TransactionType(q.Get("type")),
		Limit:    int(parseInt(q.Get("limit"))),
	}
	if from := q.Get("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "from must be YYYY-MM-DD")
			return
		}
		filter.From = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "to must be YYYY-MM-DD")
			return
		}
		filter.To = t.Add(24*time.Hour - time.Nanosecond)
	}
	entries, err := h.writer.List(r.Context(), companyID, filter)
	if err != nil {
		h.respondError(w, r, "list ledger", err)
		return
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryResponse(e))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": out})
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	companyID := tenant.CompanyID(r.Context())
	branchID := parseInt(chi.URLParam(r, "branchID"))
	itemID := parseInt(chi.URLParam(r, "itemID"))
	bal, err := h.writer.GetBalance(r.Context(), companyID, branchID, itemID)
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			// No ledger rows yet means zero stock, not an error.
			httpx.JSON(w, http.StatusOK, map[string]any{"branch_id": branchID, "item_id": itemID, "current_stock": "0"})
			return
		}
		h.respondError(w, r, "get balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"branch_id":     bal.BranchID,
		"item_id":       bal.ItemID,
		"current_stock": bal.CurrentStock.String(),
		"updated_at":    bal.UpdatedAt.Format(time.RFC3339),
	})
}

type adjustmentRequest struct {
	BranchID      int64  `json:"branch_id" validate:"required"`
	ItemID        int64  `json:"item_id" validate:"required"`
	QuantityDelta string `json:"quantity_delta" validate:"required"`
	UnitCost      string `json:"unit_cost"`
	ReferenceID   string `json:"reference_id"`
}

func (h *Handler) postAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	qty, err := decimal.NewFromString(req.QuantityDelta)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "quantity_delta must be a decimal")
		return
	}
	var cost decimal.NullDecimal
	if req.UnitCost != "" {
		c, err := decimal.NewFromString(req.UnitCost)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unit_cost must be a decimal")
			return
		}
		cost = decimal.NewNullDecimal(c)
	}
	entry, err := h.writer.Append(r.Context(), AppendInput{
		CompanyID:     tenant.CompanyID(r.Context()),
		BranchID:      req.BranchID,
		ItemID:        req.ItemID,
		Type:          TransactionAdjustment,
		QuantityDelta: qty,
		UnitCost:      cost,
		ReferenceType: ReferenceManualAdjustment,
		ReferenceID:   req.ReferenceID,
		ActorID:       shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, r, "post adjustment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toEntryResponse(entry))
}

type openingBalanceRequest struct {
	BranchID int64  `json:"branch_id" validate:"required"`
	ItemID   int64  `json:"item_id" validate:"required"`
	Quantity string `json:"quantity" validate:"required"`
	UnitCost string `json:"unit_cost" validate:"required"`
}

func (h *Handler) postOpeningBalance(w http.ResponseWriter, r *http.Request) {
	var req openingBalanceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "quantity must be a decimal")
		return
	}
	cost, err := decimal.NewFromString(req.UnitCost)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unit_cost must be a decimal")
		return
	}
	entry, err := h.writer.RecordOpeningBalance(r.Context(), OpeningBalanceInput{
		CompanyID: tenant.CompanyID(r.Context()),
		BranchID:  req.BranchID,
		ItemID:    req.ItemID,
		Quantity:  qty,
		UnitCost:  cost,
		ActorID:   shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, r, "post opening balance", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toEntryResponse(entry))
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrOpeningBalanceLocked):
		httpx.Problem(w, http.StatusConflict, "Opening Balance Locked", err.Error())
	case errors.Is(err, shared.ErrValidation),
		errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrMissingUnitCost),
		errors.Is(err, ErrInvalidTransactionType):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrEntryNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "")
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func parseInt(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
