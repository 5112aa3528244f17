package alerts

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wareline/wareline/internal/platform/httpx"
)

// Handler serves the low-stock report.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the alerts handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers alert routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/low-stock", h.handleLowStock)
}

func (h *Handler) handleLowStock(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.LowStock(r.Context())
	if err != nil {
		h.logger.Error("low stock report", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}
