package importer

import (
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/apotek-erp/apotek-erp/internal/catalog"
	"github.com/apotek-erp/apotek-erp/internal/ledger"
	"github.com/apotek-erp/apotek-erp/internal/platform/httpx"
	"github.com/apotek-erp/apotek-erp/internal/shared"
	"github.com/apotek-erp/apotek-erp/internal/tenant"
)

// maxUpload caps workbook size at 10 MiB.
const maxUpload = 10 << 20

// Handler accepts multipart uploads for bulk imports.
type Handler struct {
	logger *slog.Logger
	svc    *Service
}

// NewHandler constructs the importer handler.
func NewHandler(logger *slog.Logger, svc *Service) *Handler {
	return &Handler{logger: logger, svc: svc}
}

// MountRoutes registers import routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/imports/opening-balances", h.openingBalances)
	r.Post("/imports/items", h.items)
}

func (h *Handler) openingBalances(w http.ResponseWriter, r *http.Request) {
	branchID, _ := strconv.ParseInt(r.URL.Query().Get("branch_id"), 10, 64)
	if branchID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "branch_id is required")
		return
	}
	file, ok := h.formFile(w, r)
	if !ok {
		return
	}
	defer func() { _ = file.Close() }()
	result, err := h.svc.ImportOpeningBalances(r.Context(),
		tenant.CompanyID(r.Context()), branchID, shared.ActorFromContext(r.Context()), file)
	if err != nil {
		h.respondError(w, r, "import opening balances", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) items(w http.ResponseWriter, r *http.Request) {
	file, ok := h.formFile(w, r)
	if !ok {
		return
	}
	defer func() { _ = file.Close() }()
	result, err := h.svc.ImportItems(r.Context(),
		tenant.CompanyID(r.Context()), shared.ActorFromContext(r.Context()), file)
	if err != nil {
		h.respondError(w, r, "import items", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) formFile(w http.ResponseWriter, r *http.Request) (multipart.File, bool) {
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "multipart form with a file field is required")
		return nil, false
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "file field is required")
		return nil, false
	}
	return file, true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Already Imported", "this file has already been processed")
	case errors.Is(err, ledger.ErrOpeningBalanceLocked):
		httpx.Problem(w, http.StatusConflict, "Opening Balance Locked", err.Error())
	case errors.Is(err, catalog.ErrItemNotFound):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrValidation),
		errors.Is(err, ErrEmptyFile),
		errors.Is(err, catalog.ErrUnknownUnit):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
