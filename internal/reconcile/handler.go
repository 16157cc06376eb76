package reconcile

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/apotek-erp/apotek-erp/internal/platform/httpx"
	"github.com/apotek-erp/apotek-erp/internal/tenant"
)

// Handler exposes reconciliation to operators.
type Handler struct {
	logger *slog.Logger
	svc    *Service
}

// NewHandler constructs the reconcile handler.
func NewHandler(logger *slog.Logger, svc *Service) *Handler {
	return &Handler{logger: logger, svc: svc}
}

// MountRoutes registers reconcile routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/reconcile", h.lastReport)
	r.Post("/reconcile/run", h.run)
	r.Post("/reconcile/backfill", h.backfill)
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Run(r.Context(), tenant.CompanyID(r.Context()))
	if err != nil {
		h.logger.Error("reconcile run", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) lastReport(w http.ResponseWriter, r *http.Request) {
	report, ok := h.svc.LastReport(tenant.CompanyID(r.Context()))
	if !ok {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no reconciliation has run yet")
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) backfill(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.Backfill(r.Context(), tenant.CompanyID(r.Context()))
	if err != nil {
		h.logger.Error("reconcile backfill", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}
