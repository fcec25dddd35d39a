package business

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/smallbill/smallbill/internal/shared"
	"github.com/smallbill/smallbill/internal/storage"
	"github.com/smallbill/smallbill/internal/view"
)

// ProductSummary is one catalog row shown on the business page.
type ProductSummary struct {
	ID       uuid.UUID
	Name     string
	Price    decimal.Decimal
	IsActive bool
}

// ProductLister supplies catalog rows for the business page.
type ProductLister interface {
	ProductsForBusiness(ctx context.Context, ownerID, businessID uuid.UUID) ([]ProductSummary, error)
}

// ProductListerFunc adapts a function to ProductLister.
type ProductListerFunc func(ctx context.Context, ownerID, businessID uuid.UUID) ([]ProductSummary, error)

func (f ProductListerFunc) ProductsForBusiness(ctx context.Context, ownerID, businessID uuid.UUID) ([]ProductSummary, error) {
	return f(ctx, ownerID, businessID)
}

// IncomeSummary carries the approved-invoice figures for one business.
type IncomeSummary struct {
	Total     decimal.Decimal
	ThisMonth decimal.Decimal
	ThisYear  decimal.Decimal
}

// IncomeReporter supplies income figures for the business page.
type IncomeReporter interface {
	BusinessIncome(ctx context.Context, ownerID, businessID uuid.UUID) (*IncomeSummary, error)
}

// IncomeReporterFunc adapts a function to IncomeReporter.
type IncomeReporterFunc func(ctx context.Context, ownerID, businessID uuid.UUID) (*IncomeSummary, error)

func (f IncomeReporterFunc) BusinessIncome(ctx context.Context, ownerID, businessID uuid.UUID) (*IncomeSummary, error) {
	return f(ctx, ownerID, businessID)
}

// Handler manages business profile endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
	validator *validator.Validate
	products  ProductLister
	income    IncomeReporter
}

// NewHandler builds a Handler instance. products and income feed the
// business page sections and may be nil.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager, products ProductLister, income IncomeReporter) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		templates: templates,
		csrf:      csrf,
		validator: validator.New(),
		products:  products,
		income:    income,
	}
}

// MountRoutes registers business routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/businesses", h.listBusinesses)
	r.Get("/businesses/new", h.showBusinessForm)
	r.Post("/businesses", h.createBusiness)
	r.Get("/businesses/{businessID}", h.showBusiness)
	r.Get("/businesses/{businessID}/edit", h.showEditBusinessForm)
	r.Post("/businesses/{businessID}/edit", h.updateBusiness)
	r.Post("/businesses/{businessID}/delete", h.deleteBusiness)
	r.Post("/businesses/{businessID}/logo", h.uploadLogo)
}

func (h *Handler) listBusinesses(w http.ResponseWriter, r *http.Request) {
	ownerID := currentUserID(r)
	businesses, err := h.service.List(r.Context(), ownerID)
	if err != nil {
		h.logger.Error("list businesses", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.render(w, r, "pages/businesses.html", map[string]any{
		"Businesses": businesses,
	}, http.StatusOK)
}

func (h *Handler) showBusiness(w http.ResponseWriter, r *http.Request) {
	b, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	ownerID := currentUserID(r)
	var products []ProductSummary
	if h.products != nil {
		var err error
		products, err = h.products.ProductsForBusiness(r.Context(), ownerID, b.ID)
		if err != nil {
			h.logger.Warn("load business products", slog.Any("error", err))
		}
	}
	var income *IncomeSummary
	if h.income != nil {
		var err error
		income, err = h.income.BusinessIncome(r.Context(), ownerID, b.ID)
		if err != nil {
			h.logger.Warn("load business income", slog.Any("error", err))
		}
	}
	h.render(w, r, "pages/business_detail.html", map[string]any{
		"Business": b,
		"Products": products,
		"Income":   income,
	}, http.StatusOK)
}

func (h *Handler) showBusinessForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "pages/business_form.html", map[string]any{
		"Form":   CreateBusinessInput{},
		"Errors": formErrors{},
	}, http.StatusOK)
}

func (h *Handler) createBusiness(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	input := CreateBusinessInput{
		Name:        r.PostFormValue("name"),
		Description: r.PostFormValue("description"),
		Address:     r.PostFormValue("address"),
		Phone:       r.PostFormValue("phone"),
		Email:       r.PostFormValue("email"),
		Currency:    r.PostFormValue("currency"),
		GSTNumber:   optionalFormValue(r, "gst_number"),
	}
	if errs := h.validate(input); len(errs) > 0 {
		h.render(w, r, "pages/business_form.html", map[string]any{
			"Form":   input,
			"Errors": errs,
		}, http.StatusBadRequest)
		return
	}

	b, err := h.service.Create(r.Context(), currentUserID(r), input)
	if err != nil {
		h.logger.Error("create business", slog.Any("error", err))
		h.render(w, r, "pages/business_form.html", map[string]any{
			"Form":   input,
			"Errors": formErrors{"general": "Could not save the business"},
		}, http.StatusInternalServerError)
		return
	}
	h.redirectWithFlash(w, r, "/businesses/"+b.ID.String(), "success", "Business created")
}

func (h *Handler) showEditBusinessForm(w http.ResponseWriter, r *http.Request) {
	b, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	h.render(w, r, "pages/business_form.html", map[string]any{
		"Business": b,
		"Form": CreateBusinessInput{
			Name:        b.Name,
			Description: b.Description,
			Address:     b.Address,
			Phone:       b.Phone,
			Email:       b.Email,
			Currency:    b.Currency,
			GSTNumber:   b.GSTNumber,
		},
		"Errors": formErrors{},
	}, http.StatusOK)
}

func (h *Handler) updateBusiness(w http.ResponseWriter, r *http.Request) {
	b, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	input := UpdateBusinessInput{
		Name:        optionalFormValue(r, "name"),
		Description: optionalFormValue(r, "description"),
		Address:     optionalFormValue(r, "address"),
		Phone:       optionalFormValue(r, "phone"),
		Email:       optionalFormValue(r, "email"),
		Currency:    optionalFormValue(r, "currency"),
		GSTNumber:   optionalFormValue(r, "gst_number"),
	}
	if errs := h.validate(input); len(errs) > 0 {
		h.render(w, r, "pages/business_form.html", map[string]any{
			"Business": b,
			"Form":     input,
			"Errors":   errs,
		}, http.StatusBadRequest)
		return
	}

	if _, err := h.service.Update(r.Context(), currentUserID(r), b.ID, input); err != nil {
		h.logger.Error("update business", slog.Any("error", err))
		h.redirectWithFlash(w, r, "/businesses/"+b.ID.String()+"/edit", "error", "Could not save changes")
		return
	}
	h.redirectWithFlash(w, r, "/businesses/"+b.ID.String(), "success", "Business updated")
}

func (h *Handler) deleteBusiness(w http.ResponseWriter, r *http.Request) {
	b, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), currentUserID(r), b.ID); err != nil {
		h.logger.Error("delete business", slog.Any("error", err))
		h.redirectWithFlash(w, r, "/businesses/"+b.ID.String(), "error", "Could not delete the business")
		return
	}
	h.redirectWithFlash(w, r, "/businesses", "success", "Business deleted")
}

func (h *Handler) uploadLogo(w http.ResponseWriter, r *http.Request) {
	b, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(storage.MaxLogoSizeBytes); err != nil {
		h.redirectWithFlash(w, r, "/businesses/"+b.ID.String(), "error", "Logo upload too large")
		return
	}
	file, header, err := r.FormFile("logo")
	if err != nil {
		h.redirectWithFlash(w, r, "/businesses/"+b.ID.String(), "error", "No logo file provided")
		return
	}
	defer file.Close()

	_, err = h.service.UploadLogo(r.Context(), currentUserID(r), b.ID, header.Filename, file)
	switch {
	case errors.Is(err, storage.ErrFileTooLarge):
		h.redirectWithFlash(w, r, "/businesses/"+b.ID.String(), "error", "Logo must be 5MB or smaller")
	case errors.Is(err, storage.ErrUnsupportedImage):
		h.redirectWithFlash(w, r, "/businesses/"+b.ID.String(), "error", "Logo must be a JPEG or PNG image")
	case err != nil:
		h.logger.Error("upload logo", slog.Any("error", err))
		h.redirectWithFlash(w, r, "/businesses/"+b.ID.String(), "error", "Could not store the logo")
	default:
		h.redirectWithFlash(w, r, "/businesses/"+b.ID.String(), "success", "Logo updated")
	}
}

type formErrors map[string]string

func (h *Handler) loadOwned(w http.ResponseWriter, r *http.Request) (*Business, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "businessID"))
	if err != nil {
		http.NotFound(w, r)
		return nil, false
	}
	b, err := h.service.Get(r.Context(), currentUserID(r), id)
	switch {
	case errors.Is(err, ErrNotFound):
		http.NotFound(w, r)
		return nil, false
	case errors.Is(err, shared.ErrForbidden):
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return nil, false
	case err != nil:
		h.logger.Error("load business", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return nil, false
	}
	return b, true
}

func (h *Handler) validate(form any) formErrors {
	errs := formErrors{}
	if err := h.validator.Struct(form); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			for _, fieldErr := range validationErrs {
				errs[fieldErr.Field()] = fieldErr.Error()
			}
		}
	}
	return errs
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, tmpl string, data map[string]any, status int) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)

	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}

	viewData := view.TemplateData{
		Title:       "Businesses",
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Data:        data,
	}

	w.WriteHeader(status)
	if err := h.templates.Render(w, tmpl, viewData); err != nil {
		h.logger.Error("template render failed", "error", err, "template", tmpl)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, url, flashType, message string) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: flashType, Message: message})
	}
	http.Redirect(w, r, url, http.StatusSeeOther)
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

func optionalFormValue(r *http.Request, key string) *string {
	if val := r.PostFormValue(key); val != "" {
		return &val
	}
	return nil
}
