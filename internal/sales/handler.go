package sales

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/apotek-erp/apotek-erp/internal/catalog"
	"github.com/apotek-erp/apotek-erp/internal/platform/httpx"
	"github.com/apotek-erp/apotek-erp/internal/shared"
	"github.com/apotek-erp/apotek-erp/internal/tenant"
)

// Handler wires HTTP endpoints for sales documents.
type Handler struct {
	logger   *slog.Logger
	svc      *Service
	validate *validator.Validate
}

// NewHandler constructs the sales handler.
func NewHandler(logger *slog.Logger, svc *Service) *Handler {
	return &Handler{logger: logger, svc: svc, validate: validator.New()}
}

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/sales", h.list)
	r.Get("/sales/{docID}", h.get)
	r.Post("/sales", h.create)
	r.Post("/sales/{docID}/post", h.post)
	r.Post("/sales/{docID}/cancel", h.cancel)
}

type lineRequest struct {
	ItemID    int64  `json:"item_id" validate:"required"`
	Unit      string `json:"unit" validate:"required"`
	Quantity  string `json:"quantity" validate:"required"`
	UnitPrice string `json:"unit_price" validate:"required"`
}

type createRequest struct {
	Kind       string        `json:"kind" validate:"required,oneof=sales_invoice quotation"`
	BranchID   int64         `json:"branch_id" validate:"required"`
	CustomerID int64         `json:"customer_id"`
	Number     string        `json:"number"`
	Note       string        `json:"note"`
	DocDate    string        `json:"doc_date"`
	Lines      []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

type documentResponse struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	Number     string `json:"number"`
	BranchID   int64  `json:"branch_id"`
	CustomerID int64  `json:"customer_id,omitempty"`
	Status     string `json:"status"`
	Note       string `json:"note,omitempty"`
	DocDate    string `json:"doc_date"`
	PostedAt   string `json:"posted_at,omitempty"`
	CreatedAt  string `json:"created_at"`
}

func toDocumentResponse(d Document) documentResponse {
	resp := documentResponse{
		ID:         d.ID,
		Kind:       string(d.Kind),
		Number:     d.Number,
		BranchID:   d.BranchID,
		CustomerID: d.CustomerID,
		Status:     string(d.Status),
		Note:       d.Note,
		DocDate:    d.DocDate.Format("2006-01-02"),
		CreatedAt:  d.CreatedAt.Format(time.RFC3339),
	}
	if !d.PostedAt.IsZero() {
		resp.PostedAt = d.PostedAt.Format(time.RFC3339)
	}
	return resp
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	in := CreateInput{
		Kind:       DocumentKind(req.Kind),
		BranchID:   req.BranchID,
		CustomerID: req.CustomerID,
		Number:     req.Number,
		Note:       req.Note,
		ActorID:    shared.ActorFromContext(r.Context()),
	}
	if req.DocDate != "" {
		t, err := time.Parse("2006-01-02", req.DocDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "doc_date must be YYYY-MM-DD")
			return
		}
		in.DocDate = t
	}
	for _, lr := range req.Lines {
		qty, err := decimal.NewFromString(lr.Quantity)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "line quantity must be a decimal")
			return
		}
		price, err := decimal.NewFromString(lr.UnitPrice)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "line unit_price must be a decimal")
			return
		}
		in.Lines = append(in.Lines, LineInput{ItemID: lr.ItemID, Unit: lr.Unit, Quantity: qty, UnitPrice: price})
	}
	doc, err := h.svc.Create(r.Context(), tenant.CompanyID(r.Context()), in)
	if err != nil {
		h.respondError(w, r, "create sales document", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toDocumentResponse(doc))
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Post(r.Context(), tenant.CompanyID(r.Context()), chi.URLParam(r, "docID"), shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, r, "post sales document", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries_appended": len(entries)})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	err := h.svc.Cancel(r.Context(), tenant.CompanyID(r.Context()), chi.URLParam(r, "docID"), shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, r, "cancel sales document", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "CANCELLED"})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	doc, lines, err := h.svc.Get(r.Context(), tenant.CompanyID(r.Context()), chi.URLParam(r, "docID"))
	if err != nil {
		h.respondError(w, r, "get sales document", err)
		return
	}
	type lineResponse struct {
		ItemID     int64   `json:"item_id"`
		Unit       string  `json:"unit"`
		Quantity   string  `json:"quantity"`
		UnitPrice  string  `json:"unit_price"`
		UnitCost   *string `json:"unit_cost,omitempty"`
		CostSource string  `json:"cost_source,omitempty"`
	}
	out := make([]lineResponse, 0, len(lines))
	for _, l := range lines {
		lr := lineResponse{
			ItemID:     l.ItemID,
			Unit:       l.Unit,
			Quantity:   l.Quantity.String(),
			UnitPrice:  l.UnitPrice.String(),
			CostSource: l.CostSource,
		}
		if l.UnitCost.Valid {
			cost := l.UnitCost.Decimal.String()
			lr.UnitCost = &cost
		}
		out = append(out, lr)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"document": toDocumentResponse(doc), "lines": out})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	docs, err := h.svc.List(r.Context(), tenant.CompanyID(r.Context()), Filter{
		Kind:   DocumentKind(q.Get("kind")),
		Status: Status(q.Get("status")),
	})
	if err != nil {
		h.respondError(w, r, "list sales documents", err)
		return
	}
	out := make([]documentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, toDocumentResponse(d))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"documents": out})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrDocumentNotFound), errors.Is(err, catalog.ErrItemNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, ErrInsufficientStock):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, shared.ErrValidation),
		errors.Is(err, ErrEmptyDocument),
		errors.Is(err, ErrQuotationNotPostable),
		errors.Is(err, catalog.ErrUnknownUnit):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
