package search

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/apotek-erp/apotek-erp/internal/platform/httpx"
	"github.com/apotek-erp/apotek-erp/internal/tenant"
)

// Handler exposes the search endpoint used by POS terminals.
type Handler struct {
	logger *slog.Logger
	svc    *Service
}

// NewHandler constructs the search handler.
func NewHandler(logger *slog.Logger, svc *Service) *Handler {
	return &Handler{logger: logger, svc: svc}
}

// MountRoutes registers search routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/search", h.search)
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	text := q.Get("q")
	if text == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "q is required")
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	branchID, _ := strconv.ParseInt(q.Get("branch_id"), 10, 64)
	rows, err := h.svc.Search(r.Context(), tenant.CompanyID(r.Context()), Query{
		Text:     text,
		BranchID: branchID,
		Limit:    limit,
	})
	if err != nil {
		h.logger.Error("search", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"results": rows})
}
