package income

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/smallbill/smallbill/internal/business"
	"github.com/smallbill/smallbill/internal/shared"
	"github.com/smallbill/smallbill/internal/view"
)

// BusinessLister supplies the dashboard's business overview.
type BusinessLister interface {
	List(ctx context.Context, ownerID uuid.UUID) ([]business.Business, error)
	Get(ctx context.Context, ownerID, id uuid.UUID) (*business.Business, error)
}

// Handler serves the dashboard and per-business income pages.
type Handler struct {
	logger     *slog.Logger
	service    *Service
	businesses BusinessLister
	templates  *view.Engine
	csrf       *shared.CSRFManager
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, businesses BusinessLister, templates *view.Engine, csrf *shared.CSRFManager) *Handler {
	return &Handler{
		logger:     logger,
		service:    service,
		businesses: businesses,
		templates:  templates,
		csrf:       csrf,
	}
}

// MountRoutes registers income routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/dashboard", h.showDashboard)
	r.Get("/businesses/{businessID}/income", h.showBusinessIncome)
}

func (h *Handler) showDashboard(w http.ResponseWriter, r *http.Request) {
	ownerID := currentUserID(r)

	stats, err := h.service.OwnerStats(r.Context(), ownerID)
	if err != nil {
		h.logger.Error("owner income stats", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	businesses, err := h.businesses.List(r.Context(), ownerID)
	if err != nil {
		h.logger.Error("list businesses", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.render(w, r, "pages/dashboard.html", map[string]any{
		"Stats":      stats,
		"Businesses": businesses,
	})
}

func (h *Handler) showBusinessIncome(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "businessID"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	ownerID := currentUserID(r)

	biz, err := h.businesses.Get(r.Context(), ownerID, id)
	if err != nil {
		switch {
		case errors.Is(err, business.ErrNotFound):
			http.NotFound(w, r)
		case errors.Is(err, shared.ErrForbidden):
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		default:
			h.logger.Error("load business", slog.Any("error", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	stats, err := h.service.BusinessStats(r.Context(), ownerID, id)
	if err != nil {
		h.logger.Error("business income stats", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.render(w, r, "pages/business_income.html", map[string]any{
		"Business": biz,
		"Stats":    stats,
	})
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, tmpl string, data map[string]any) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)

	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}

	viewData := view.TemplateData{
		Title:       "Dashboard",
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Data:        data,
	}
	if err := h.templates.Render(w, tmpl, viewData); err != nil {
		h.logger.Error("template render failed", "error", err, "template", tmpl)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func currentUserID(r *http.Request) uuid.UUID {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if raw := sess.User(); raw != "" {
			if id, err := uuid.Parse(raw); err == nil {
				return id
			}
		}
	}
	return uuid.Nil
}
