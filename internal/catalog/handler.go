package catalog

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/smallbill/smallbill/internal/business"
	"github.com/smallbill/smallbill/internal/platform/httpx"
	"github.com/smallbill/smallbill/internal/shared"
	"github.com/smallbill/smallbill/internal/view"
)

// Handler manages product endpoints. Routes are nested under a
// business so every page knows its owning business.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		templates: templates,
		csrf:      csrf,
		validator: validator.New(),
	}
}

// MountRoutes registers product routes under /businesses/{businessID}.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/businesses/{businessID}/products", h.listProducts)
	r.Get("/businesses/{businessID}/products.json", h.listProductsJSON)
	r.Get("/businesses/{businessID}/products/new", h.showProductForm)
	r.Post("/businesses/{businessID}/products", h.createProduct)
	r.Get("/products/{id}/edit", h.showEditProductForm)
	r.Post("/products/{id}/edit", h.updateProduct)
	r.Post("/products/{id}/price", h.updatePrice)
	r.Post("/products/{id}/delete", h.deleteProduct)
	r.Get("/products/{id}/history", h.showPriceHistory)
}

type formErrors map[string]string

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	businessID, err := uuid.Parse(chi.URLParam(r, "businessID"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	products, err := h.service.List(r.Context(), currentUserID(r), businessID, false)
	if err != nil {
		h.respondLoadError(w, r, err, "list products")
		return
	}
	h.render(w, r, "pages/products.html", map[string]any{
		"BusinessID": businessID,
		"Products":   products,
	}, http.StatusOK)
}

type productJSON struct {
	ID    uuid.UUID       `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	SKU   *string         `json:"sku,omitempty"`
}

// listProductsJSON serves the active catalog as JSON. The invoice form
// and external POS integrations use it for price lookups.
func (h *Handler) listProductsJSON(w http.ResponseWriter, r *http.Request) {
	businessID, err := uuid.Parse(chi.URLParam(r, "businessID"))
	if err != nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "unknown business")
		return
	}
	products, err := h.service.List(r.Context(), currentUserID(r), businessID, true)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound), errors.Is(err, business.ErrNotFound):
			httpx.Problem(w, http.StatusNotFound, "Not Found", "unknown business")
		case errors.Is(err, shared.ErrForbidden):
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "business belongs to another account")
		default:
			h.logger.Error("list products json", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		}
		return
	}
	out := make([]productJSON, 0, len(products))
	for _, p := range products {
		out = append(out, productJSON{ID: p.ID, Name: p.Name, Price: p.Price, SKU: p.SKU})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) showProductForm(w http.ResponseWriter, r *http.Request) {
	businessID, err := uuid.Parse(chi.URLParam(r, "businessID"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	h.render(w, r, "pages/product_form.html", map[string]any{
		"BusinessID": businessID,
		"Form":       CreateProductInput{},
		"Errors":     formErrors{},
	}, http.StatusOK)
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	businessID, err := uuid.Parse(chi.URLParam(r, "businessID"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	input := CreateProductInput{
		Name:        r.PostFormValue("name"),
		Description: r.PostFormValue("description"),
		Price:       r.PostFormValue("price"),
		Category:    optionalFormValue(r, "category"),
		SKU:         optionalFormValue(r, "sku"),
		Barcode:     optionalFormValue(r, "barcode"),
	}
	errs := h.validate(input)
	if len(errs) == 0 {
		_, err := h.service.Create(r.Context(), currentUserID(r), businessID, input)
		switch {
		case errors.Is(err, ErrInvalidPrice):
			errs["Price"] = "Price must be a non-negative number"
		case err != nil:
			h.respondLoadError(w, r, err, "create product")
			return
		default:
			h.redirectWithFlash(w, r, "/businesses/"+businessID.String()+"/products", "success", "Product created")
			return
		}
	}
	h.render(w, r, "pages/product_form.html", map[string]any{
		"BusinessID": businessID,
		"Form":       input,
		"Errors":     errs,
	}, http.StatusBadRequest)
}

func (h *Handler) showEditProductForm(w http.ResponseWriter, r *http.Request) {
	p, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	h.render(w, r, "pages/product_form.html", map[string]any{
		"BusinessID": p.BusinessID,
		"Product":    p,
		"Form": CreateProductInput{
			Name:        p.Name,
			Description: p.Description,
			Price:       p.Price.StringFixed(2),
			Category:    p.Category,
			SKU:         p.SKU,
			Barcode:     p.Barcode,
		},
		"Errors": formErrors{},
	}, http.StatusOK)
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	p, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	var isActive *bool
	if raw := r.PostFormValue("is_active"); raw != "" {
		val := raw == "true" || raw == "on"
		isActive = &val
	}
	input := UpdateProductInput{
		Name:        optionalFormValue(r, "name"),
		Description: optionalFormValue(r, "description"),
		Category:    optionalFormValue(r, "category"),
		SKU:         optionalFormValue(r, "sku"),
		Barcode:     optionalFormValue(r, "barcode"),
		IsActive:    isActive,
	}
	if errs := h.validate(input); len(errs) > 0 {
		h.render(w, r, "pages/product_form.html", map[string]any{
			"BusinessID": p.BusinessID,
			"Product":    p,
			"Form":       input,
			"Errors":     errs,
		}, http.StatusBadRequest)
		return
	}
	if _, err := h.service.Update(r.Context(), currentUserID(r), p.ID, input); err != nil {
		h.respondLoadError(w, r, err, "update product")
		return
	}
	h.redirectWithFlash(w, r, "/businesses/"+p.BusinessID.String()+"/products", "success", "Product updated")
}

func (h *Handler) updatePrice(w http.ResponseWriter, r *http.Request) {
	p, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	_, err := h.service.UpdatePrice(r.Context(), currentUserID(r), p.ID, r.PostFormValue("price"), optionalFormValue(r, "reason"))
	switch {
	case errors.Is(err, ErrInvalidPrice):
		h.redirectWithFlash(w, r, "/products/"+p.ID.String()+"/edit", "error", "Price must be a non-negative number")
	case err != nil:
		h.respondLoadError(w, r, err, "update price")
	default:
		h.redirectWithFlash(w, r, "/products/"+p.ID.String()+"/history", "success", "Price updated")
	}
}

func (h *Handler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	p, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), currentUserID(r), p.ID); err != nil {
		h.respondLoadError(w, r, err, "delete product")
		return
	}
	h.redirectWithFlash(w, r, "/businesses/"+p.BusinessID.String()+"/products", "success", "Product deleted")
}

func (h *Handler) showPriceHistory(w http.ResponseWriter, r *http.Request) {
	p, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	history, err := h.service.PriceHistory(r.Context(), currentUserID(r), p.ID)
	if err != nil {
		h.respondLoadError(w, r, err, "price history")
		return
	}
	h.render(w, r, "pages/price_history.html", map[string]any{
		"Product": p,
		"History": history,
	}, http.StatusOK)
}

func (h *Handler) loadOwned(w http.ResponseWriter, r *http.Request) (*Product, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.NotFound(w, r)
		return nil, false
	}
	p, err := h.service.Get(r.Context(), currentUserID(r), id)
	if err != nil {
		h.respondLoadError(w, r, err, "load product")
		return nil, false
	}
	return p, true
}

func (h *Handler) respondLoadError(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, business.ErrNotFound):
		http.NotFound(w, r)
	case errors.Is(err, shared.ErrForbidden):
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	default:
		h.logger.Error(op, slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
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
		Title:       "Products",
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
