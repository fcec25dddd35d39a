package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/smallbill/smallbill/internal/shared"
	"github.com/smallbill/smallbill/internal/view"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	templates      *view.Engine
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, sessions *shared.SessionManager, csrf *shared.CSRFManager) *Handler {
	return &Handler{
		logger:         logger,
		service:        service,
		templates:      templates,
		sessionManager: sessions,
		csrfManager:    csrf,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/login", h.showLogin)
	r.Post("/login", h.handleLogin)
	r.Get("/signup", h.showSignup)
	r.Post("/signup", h.handleSignup)
	r.Post("/logout", h.handleLogout)
}

type loginForm struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=8"`
}

type signupForm struct {
	Email           string `validate:"required,email"`
	DisplayName     string `validate:"required,min=2,max=120"`
	Password        string `validate:"required,min=8"`
	ConfirmPassword string `validate:"required,eqfield=Password"`
}

type authPageData struct {
	Form   any
	Errors map[string]string
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	h.renderAuthPage(w, r, "pages/login.html", "Sign in", authPageData{Form: loginForm{}}, http.StatusOK)
}

func (h *Handler) showSignup(w http.ResponseWriter, r *http.Request) {
	h.renderAuthPage(w, r, "pages/signup.html", "Create account", authPageData{Form: signupForm{}}, http.StatusOK)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	sess := shared.SessionFromContext(r.Context())

	form := loginForm{
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
	}
	fieldErrors := h.validateForm(form)

	if len(fieldErrors) == 0 {
		user, err := h.service.Authenticate(r.Context(), form.Email, form.Password)
		if err != nil {
			fieldErrors["general"] = "Invalid email or password"
		} else {
			h.establishSession(r, sess, user)
			http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
			return
		}
	}

	form.Password = ""
	h.renderAuthPage(w, r, "pages/login.html", "Sign in", authPageData{Form: form, Errors: fieldErrors}, http.StatusBadRequest)
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	sess := shared.SessionFromContext(r.Context())

	form := signupForm{
		Email:           r.PostFormValue("email"),
		DisplayName:     r.PostFormValue("display_name"),
		Password:        r.PostFormValue("password"),
		ConfirmPassword: r.PostFormValue("confirm_password"),
	}
	fieldErrors := h.validateForm(form)

	if len(fieldErrors) == 0 {
		user, err := h.service.Signup(r.Context(), form.Email, form.DisplayName, form.Password)
		switch {
		case errors.Is(err, ErrEmailTaken):
			fieldErrors["Email"] = "An account with this email already exists"
		case err != nil:
			h.logger.Error("signup failed", slog.Any("error", err))
			fieldErrors["general"] = "Could not create the account, please try again"
		default:
			h.establishSession(r, sess, user)
			http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
			return
		}
	}

	form.Password = ""
	form.ConfirmPassword = ""
	h.renderAuthPage(w, r, "pages/signup.html", "Create account", authPageData{Form: form, Errors: fieldErrors}, http.StatusBadRequest)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if err := h.service.RemoveSession(r.Context(), sess.ID); err != nil {
			h.logger.Warn("remove session", slog.Any("error", err))
		}
		h.sessionManager.Destroy(sess)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) establishSession(r *http.Request, sess *shared.Session, user *User) {
	if sess == nil {
		h.logger.Error("session missing during login")
		return
	}
	sess.SetUser(user.ID.String())
	sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Welcome back"})
	expiresAt := time.Now().Add(h.sessionManager.TTL())
	if err := h.service.RegisterSession(r.Context(), sess.ID, user.ID, expiresAt, r.RemoteAddr, r.UserAgent()); err != nil {
		h.logger.Warn("register session", slog.Any("error", err))
	}
}

func (h *Handler) validateForm(form any) map[string]string {
	fieldErrors := make(map[string]string)
	if err := h.validator.Struct(form); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			for _, fieldErr := range validationErrs {
				fieldErrors[fieldErr.Field()] = fieldErr.Error()
			}
		}
	}
	return fieldErrors
}

func (h *Handler) renderAuthPage(w http.ResponseWriter, r *http.Request, page, title string, data authPageData, status int) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrfManager.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{
		Title:       title,
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Data:        data,
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	if err := h.templates.Render(w, page, viewData); err != nil {
		h.logger.Error("render auth page", slog.String("page", page), slog.Any("error", err))
		if status == http.StatusOK {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	}
}

// ShowLoginForTest exposes the GET handler for tests.
func (h *Handler) ShowLoginForTest(w http.ResponseWriter, r *http.Request) {
	h.showLogin(w, r)
}

// HandleLoginForTest exposes the POST handler for tests.
func (h *Handler) HandleLoginForTest(w http.ResponseWriter, r *http.Request) {
	h.handleLogin(w, r)
}

// HandleSignupForTest exposes the POST handler for tests.
func (h *Handler) HandleSignupForTest(w http.ResponseWriter, r *http.Request) {
	h.handleSignup(w, r)
}
