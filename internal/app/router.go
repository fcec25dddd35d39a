package app

import (
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/smallbill/smallbill/internal/auth"
	"github.com/smallbill/smallbill/internal/business"
	"github.com/smallbill/smallbill/internal/catalog"
	"github.com/smallbill/smallbill/internal/income"
	"github.com/smallbill/smallbill/internal/invoicing"
	"github.com/smallbill/smallbill/internal/observability"
	"github.com/smallbill/smallbill/internal/platform/httpx"
	"github.com/smallbill/smallbill/internal/shared"
	"github.com/smallbill/smallbill/internal/view"
	"github.com/smallbill/smallbill/jobs"
	"github.com/smallbill/smallbill/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	Templates      *view.Engine
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager

	AuthHandler     *auth.Handler
	BusinessHandler *business.Handler
	CatalogHandler  *catalog.Handler
	InvoiceHandler  *invoicing.Handler
	IncomeHandler   *income.Handler
	JobHandler      *jobs.Handler

	LogoDir string
	Metrics *observability.Metrics
}

// NewRouter constructs the chi.Router.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		if sess != nil && sess.User() != "" {
			http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
			return
		}
		csrfToken, _ := params.CSRFManager.EnsureToken(r.Context(), sess)
		var flash *shared.FlashMessage
		if sess != nil {
			flash = sess.PopFlash()
		}
		data := view.TemplateData{
			Title:     "SmallBill",
			CSRFToken: csrfToken,
			Flash:     flash,
		}
		if err := params.Templates.Render(w, "pages/landing.html", data); err != nil {
			params.Logger.Error("render landing", slog.Any("error", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	})

	params.AuthHandler.MountRoutes(r)

	// Authenticated application surface.
	r.Group(func(r chi.Router) {
		r.Use(requireUser)
		params.BusinessHandler.MountRoutes(r)
		params.CatalogHandler.MountRoutes(r)
		params.InvoiceHandler.MountRoutes(r)
		params.IncomeHandler.MountRoutes(r)
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	if params.LogoDir != "" {
		logoServer := http.StripPrefix("/media/logos/", http.FileServer(http.Dir(params.LogoDir)))
		r.Handle("/media/logos/*", staticCacheHandler(logoServer))
	}

	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	return r
}

// requireUser redirects anonymous sessions to the login page.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		if sess == nil || sess.User() == "" {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// staticCacheHandler wraps a file server with a one hour Cache-Control
// header.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
