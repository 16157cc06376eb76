package catalog

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/apotek-erp/apotek-erp/internal/platform/httpx"
	"github.com/apotek-erp/apotek-erp/internal/shared"
	"github.com/apotek-erp/apotek-erp/internal/tenant"
)

// Handler wires HTTP endpoints for the item catalog.
type Handler struct {
	logger   *slog.Logger
	svc      *Service
	validate *validator.Validate
}

// NewHandler constructs the catalog handler.
func NewHandler(logger *slog.Logger, svc *Service) *Handler {
	return &Handler{logger: logger, svc: svc, validate: validator.New()}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/items", h.listItems)
	r.Get("/items/{itemID}", h.getItem)
	r.Post("/items", h.createItem)
	r.Put("/items/{itemID}", h.updateItem)
}

type itemRequest struct {
	Code                      string `json:"code" validate:"required"`
	Name                      string `json:"name" validate:"required"`
	GenericName               string `json:"generic_name"`
	Barcode                   string `json:"barcode"`
	SupplierUnit              string `json:"supplier_unit" validate:"required"`
	WholesaleUnit             string `json:"wholesale_unit" validate:"required"`
	RetailUnit                string `json:"retail_unit" validate:"required"`
	PackSize                  string `json:"pack_size" validate:"required"`
	WholesaleUnitsPerSupplier string `json:"wholesale_units_per_supplier" validate:"required"`
	Active                    *bool  `json:"active"`
}

func (h *Handler) decodeItem(w http.ResponseWriter, r *http.Request) (ItemInput, bool) {
	var req itemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return ItemInput{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return ItemInput{}, false
	}
	packSize, err := decimal.NewFromString(req.PackSize)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "pack_size must be a decimal")
		return ItemInput{}, false
	}
	perSupplier, err := decimal.NewFromString(req.WholesaleUnitsPerSupplier)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "wholesale_units_per_supplier must be a decimal")
		return ItemInput{}, false
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	return ItemInput{
		Code:                      req.Code,
		Name:                      req.Name,
		GenericName:               req.GenericName,
		Barcode:                   req.Barcode,
		SupplierUnit:              req.SupplierUnit,
		WholesaleUnit:             req.WholesaleUnit,
		RetailUnit:                req.RetailUnit,
		PackSize:                  packSize,
		WholesaleUnitsPerSupplier: perSupplier,
		Active:                    active,
		ActorID:                   shared.ActorFromContext(r.Context()),
	}, true
}

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodeItem(w, r)
	if !ok {
		return
	}
	it, err := h.svc.Create(r.Context(), tenant.CompanyID(r.Context()), in)
	if err != nil {
		h.respondError(w, r, "create item", err)
		return
	}
	// A fresh item has no ledger history yet; the view carries the
	// zero cost the resolver would return.
	httpx.JSON(w, http.StatusCreated, Sanitize(it, zeroCost()))
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodeItem(w, r)
	if !ok {
		return
	}
	companyID := tenant.CompanyID(r.Context())
	itemID := parseInt(chi.URLParam(r, "itemID"))
	if _, err := h.svc.Update(r.Context(), companyID, itemID, in); err != nil {
		h.respondError(w, r, "update item", err)
		return
	}
	view, err := h.svc.Get(r.Context(), companyID, 0, itemID)
	if err != nil {
		h.respondError(w, r, "update item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	companyID := tenant.CompanyID(r.Context())
	itemID := parseInt(chi.URLParam(r, "itemID"))
	branchID := parseInt(r.URL.Query().Get("branch_id"))
	view, err := h.svc.Get(r.Context(), companyID, branchID, itemID)
	if err != nil {
		h.respondError(w, r, "get item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	companyID := tenant.CompanyID(r.Context())
	q := r.URL.Query()
	filter := Filter{
		Search: q.Get("q"),
		Page:   int(parseInt(q.Get("page"))),
		Limit:  int(parseInt(q.Get("limit"))),
	}
	if v := q.Get("active"); v != "" {
		b := v == "true" || v == "1"
		filter.Active = &b
	}
	branchID := parseInt(q.Get("branch_id"))
	views, err := h.svc.List(r.Context(), companyID, branchID, filter)
	if err != nil {
		h.respondError(w, r, "list items", err)
		return
	}
	total, err := h.svc.Count(r.Context(), companyID, filter)
	if err != nil {
		h.respondError(w, r, "count items", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"items":      views,
		"pagination": shared.NewPagination(filter.Page, filter.Limit, total),
	})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrItemNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "")
	case errors.Is(err, ErrDuplicateCode):
		httpx.Problem(w, http.StatusConflict, "Duplicate Code", err.Error())
	case errors.Is(err, shared.ErrValidation), errors.Is(err, ErrUnknownUnit):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func parseInt(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
