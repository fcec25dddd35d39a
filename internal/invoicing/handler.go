package invoicing

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/smallbill/smallbill/internal/business"
	"github.com/smallbill/smallbill/internal/catalog"
	"github.com/smallbill/smallbill/internal/shared"
	"github.com/smallbill/smallbill/internal/view"
)

// PDFRenderer converts an HTML document into PDF bytes.
type PDFRenderer interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

// Handler manages invoice endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	products  *catalog.Service
	templates *view.Engine
	csrf      *shared.CSRFManager
	pdf       PDFRenderer
	validator *validator.Validate
}

// NewHandler builds a Handler instance. pdf may be nil when no
// renderer is reachable; the PDF route then responds 503.
func NewHandler(
	logger *slog.Logger,
	service *Service,
	products *catalog.Service,
	templates *view.Engine,
	csrf *shared.CSRFManager,
	pdf PDFRenderer,
) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		products:  products,
		templates: templates,
		csrf:      csrf,
		pdf:       pdf,
		validator: validator.New(),
	}
}

// MountRoutes registers invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/businesses/{businessID}/invoices", h.listInvoices)
	r.Get("/businesses/{businessID}/invoices/new", h.showInvoiceForm)
	r.Post("/businesses/{businessID}/invoices", h.createInvoice)

	r.Get("/invoices/{id}", h.showInvoice)
	r.Get("/invoices/{id}/edit", h.showEditInvoiceForm)
	r.Post("/invoices/{id}/edit", h.updateInvoice)
	r.Post("/invoices/{id}/delete", h.deleteInvoice)

	r.Post("/invoices/{id}/approve", h.transitionTo(StatusApproved, "Invoice approved"))
	r.Post("/invoices/{id}/pay", h.transitionTo(StatusPaid, "Invoice marked as paid"))
	r.Post("/invoices/{id}/overdue", h.transitionTo(StatusOverdue, "Invoice marked as overdue"))
	r.Post("/invoices/{id}/cancel", h.transitionTo(StatusCancelled, "Invoice cancelled"))

	r.Post("/invoices/{id}/email", h.emailInvoice)
	r.Get("/invoices/{id}/pdf", h.downloadPDF)
	r.Get("/invoices/{id}/print", h.printInvoice)
}

type formErrors map[string]string

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	businessID, err := uuid.Parse(chi.URLParam(r, "businessID"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	page := shared.ParsePagination(r.URL.Query())
	invoices, hasMore, err := h.service.List(r.Context(), currentUserID(r), businessID, page)
	if err != nil {
		h.respondLoadError(w, r, err, "list invoices")
		return
	}
	biz, err := h.service.businesses.Get(r.Context(), currentUserID(r), businessID)
	if err != nil {
		h.respondLoadError(w, r, err, "load business")
		return
	}
	h.render(w, r, "pages/invoices.html", map[string]any{
		"Business": biz,
		"Invoices": invoices,
		"Page":     page.Page,
		"PrevPage": page.Page - 1,
		"NextPage": page.Page + 1,
		"HasMore":  hasMore,
	}, http.StatusOK)
}

func (h *Handler) showInvoice(w http.ResponseWriter, r *http.Request) {
	inv, biz, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	h.render(w, r, "pages/invoice_detail.html", map[string]any{
		"Business": biz,
		"Invoice":  inv,
	}, http.StatusOK)
}

func (h *Handler) showInvoiceForm(w http.ResponseWriter, r *http.Request) {
	businessID, err := uuid.Parse(chi.URLParam(r, "businessID"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	products, err := h.products.List(r.Context(), currentUserID(r), businessID, true)
	if err != nil {
		h.respondLoadError(w, r, err, "load products")
		return
	}
	h.render(w, r, "pages/invoice_form.html", map[string]any{
		"BusinessID": businessID,
		"Products":   products,
		"Form":       CreateInvoiceInput{},
		"Errors":     formErrors{},
	}, http.StatusOK)
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	businessID, err := uuid.Parse(chi.URLParam(r, "businessID"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	input := CreateInvoiceInput{
		CustomerName:    r.PostFormValue("customer_name"),
		CustomerEmail:   optionalFormValue(r, "customer_email"),
		CustomerPhone:   optionalFormValue(r, "customer_phone"),
		CustomerAddress: optionalFormValue(r, "customer_address"),
		DiscountRate:    r.PostFormValue("discount_rate"),
		TaxRate:         r.PostFormValue("tax_rate"),
		InvoiceDate:     parseDate(r.PostFormValue("invoice_date")),
		DueDate:         parseOptionalDate(r.PostFormValue("due_date")),
		Notes:           r.PostFormValue("notes"),
		ItemLabel:       optionalFormValue(r, "pref_item_label"),
		QuantityLabel:   optionalFormValue(r, "pref_quantity_label"),
		PriceLabel:      optionalFormValue(r, "pref_price_label"),
		TotalLabel:      optionalFormValue(r, "pref_total_label"),
	}
	items, err := parseLineItems(r)
	if err != nil {
		h.renderInvoiceFormError(w, r, businessID, input, err.Error())
		return
	}
	input.Items = items

	if errs := h.validate(input); len(errs) > 0 {
		h.renderInvoiceFormErrors(w, r, businessID, input, errs)
		return
	}

	inv, err := h.service.Create(r.Context(), currentUserID(r), businessID, input)
	if err != nil {
		if isInputError(err) {
			h.renderInvoiceFormError(w, r, businessID, input, err.Error())
			return
		}
		h.respondLoadError(w, r, err, "create invoice")
		return
	}
	h.redirectWithFlash(w, r, "/invoices/"+inv.ID.String(), "success", "Invoice "+inv.InvoiceNumber+" created")
}

func (h *Handler) showEditInvoiceForm(w http.ResponseWriter, r *http.Request) {
	inv, biz, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	if !inv.Editable() {
		h.redirectWithFlash(w, r, "/invoices/"+inv.ID.String(), "error", "Only draft invoices can be edited")
		return
	}
	products, err := h.products.List(r.Context(), currentUserID(r), inv.BusinessID, true)
	if err != nil {
		h.respondLoadError(w, r, err, "load products")
		return
	}
	h.render(w, r, "pages/invoice_form.html", map[string]any{
		"BusinessID": inv.BusinessID,
		"Business":   biz,
		"Invoice":    inv,
		"Products":   products,
		"Form":       formFromInvoice(inv),
		"Errors":     formErrors{},
	}, http.StatusOK)
}

func (h *Handler) updateInvoice(w http.ResponseWriter, r *http.Request) {
	inv, _, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	input := UpdateInvoiceInput{
		CustomerName:    r.PostFormValue("customer_name"),
		CustomerEmail:   optionalFormValue(r, "customer_email"),
		CustomerPhone:   optionalFormValue(r, "customer_phone"),
		CustomerAddress: optionalFormValue(r, "customer_address"),
		DiscountRate:    r.PostFormValue("discount_rate"),
		TaxRate:         r.PostFormValue("tax_rate"),
		InvoiceDate:     parseDate(r.PostFormValue("invoice_date")),
		DueDate:         parseOptionalDate(r.PostFormValue("due_date")),
		Notes:           r.PostFormValue("notes"),
		ItemLabel:       optionalFormValue(r, "pref_item_label"),
		QuantityLabel:   optionalFormValue(r, "pref_quantity_label"),
		PriceLabel:      optionalFormValue(r, "pref_price_label"),
		TotalLabel:      optionalFormValue(r, "pref_total_label"),
	}
	items, err := parseLineItems(r)
	if err != nil {
		h.redirectWithFlash(w, r, "/invoices/"+inv.ID.String()+"/edit", "error", err.Error())
		return
	}
	input.Items = items

	if errs := h.validate(input); len(errs) > 0 {
		h.redirectWithFlash(w, r, "/invoices/"+inv.ID.String()+"/edit", "error", "Please correct the highlighted fields")
		return
	}

	if _, err := h.service.Update(r.Context(), currentUserID(r), inv.ID, input); err != nil {
		switch {
		case errors.Is(err, ErrInvalidStatus):
			h.redirectWithFlash(w, r, "/invoices/"+inv.ID.String(), "error", "Only draft invoices can be edited")
		case isInputError(err):
			h.redirectWithFlash(w, r, "/invoices/"+inv.ID.String()+"/edit", "error", err.Error())
		default:
			h.respondLoadError(w, r, err, "update invoice")
		}
		return
	}
	h.redirectWithFlash(w, r, "/invoices/"+inv.ID.String(), "success", "Invoice updated")
}

func (h *Handler) deleteInvoice(w http.ResponseWriter, r *http.Request) {
	inv, _, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), currentUserID(r), inv.ID); err != nil {
		if errors.Is(err, ErrInvalidStatus) {
			h.redirectWithFlash(w, r, "/invoices/"+inv.ID.String(), "error", "Only draft invoices can be deleted")
			return
		}
		h.respondLoadError(w, r, err, "delete invoice")
		return
	}
	h.redirectWithFlash(w, r, "/businesses/"+inv.BusinessID.String()+"/invoices", "success", "Invoice deleted")
}

func (h *Handler) transitionTo(to InvoiceStatus, successMsg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inv, _, ok := h.loadOwned(w, r)
		if !ok {
			return
		}
		if _, err := h.service.Transition(r.Context(), currentUserID(r), inv.ID, to); err != nil {
			if errors.Is(err, ErrInvalidStatus) {
				h.redirectWithFlash(w, r, "/invoices/"+inv.ID.String(), "error", "That status change is not allowed")
				return
			}
			h.respondLoadError(w, r, err, "transition invoice")
			return
		}
		h.redirectWithFlash(w, r, "/invoices/"+inv.ID.String(), "success", successMsg)
	}
}

func (h *Handler) emailInvoice(w http.ResponseWriter, r *http.Request) {
	inv, _, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	opts := EmailOptions{
		Recipient: strings.TrimSpace(r.PostFormValue("recipient")),
		Subject:   strings.TrimSpace(r.PostFormValue("subject")),
		Message:   strings.TrimSpace(r.PostFormValue("message")),
	}
	if err := h.service.SendEmail(r.Context(), currentUserID(r), inv.ID, opts); err != nil {
		if errors.Is(err, ErrInvalidItem) {
			h.redirectWithFlash(w, r, "/invoices/"+inv.ID.String(), "error", "The customer has no email address")
			return
		}
		h.logger.Error("queue invoice email", slog.Any("error", err))
		h.redirectWithFlash(w, r, "/invoices/"+inv.ID.String(), "error", "Could not queue the email")
		return
	}
	h.redirectWithFlash(w, r, "/invoices/"+inv.ID.String(), "success", "Email queued for delivery")
}

func (h *Handler) downloadPDF(w http.ResponseWriter, r *http.Request) {
	if h.pdf == nil {
		http.Error(w, "PDF rendering unavailable", http.StatusServiceUnavailable)
		return
	}
	inv, biz, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	html, err := h.templates.RenderString("pages/invoice_print.html", view.TemplateData{
		Title: "Invoice " + inv.InvoiceNumber,
		Data: map[string]any{
			"Business": biz,
			"Invoice":  inv,
		},
	})
	if err != nil {
		h.logger.Error("render invoice html", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	pdfBytes, err := h.pdf.RenderHTML(r.Context(), html)
	if err != nil {
		h.logger.Error("render invoice pdf", slog.Any("error", err))
		http.Error(w, "PDF rendering failed", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="invoice-`+inv.InvoiceNumber+`.pdf"`)
	_, _ = w.Write(pdfBytes)
}

func (h *Handler) printInvoice(w http.ResponseWriter, r *http.Request) {
	inv, biz, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	viewData := view.TemplateData{
		Title:       "Invoice " + inv.InvoiceNumber,
		CurrentPath: r.URL.Path,
		Data: map[string]any{
			"Business": biz,
			"Invoice":  inv,
		},
	}
	if err := h.templates.Render(w, "pages/invoice_print.html", viewData); err != nil {
		h.logger.Error("render invoice print", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) loadOwned(w http.ResponseWriter, r *http.Request) (*Invoice, *business.Business, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.NotFound(w, r)
		return nil, nil, false
	}
	inv, err := h.service.Get(r.Context(), currentUserID(r), id)
	if err != nil {
		h.respondLoadError(w, r, err, "load invoice")
		return nil, nil, false
	}
	biz, err := h.service.businesses.Get(r.Context(), currentUserID(r), inv.BusinessID)
	if err != nil {
		h.respondLoadError(w, r, err, "load business")
		return nil, nil, false
	}
	return inv, biz, true
}

func (h *Handler) respondLoadError(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, business.ErrNotFound), errors.Is(err, catalog.ErrNotFound):
		http.NotFound(w, r)
	case errors.Is(err, shared.ErrForbidden):
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	default:
		h.logger.Error(op, slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) renderInvoiceFormErrors(w http.ResponseWriter, r *http.Request, businessID uuid.UUID, form any, errs formErrors) {
	products, err := h.products.List(r.Context(), currentUserID(r), businessID, true)
	if err != nil {
		products = nil
	}
	h.render(w, r, "pages/invoice_form.html", map[string]any{
		"BusinessID": businessID,
		"Products":   products,
		"Form":       form,
		"Errors":     errs,
	}, http.StatusBadRequest)
}

func (h *Handler) renderInvoiceFormError(w http.ResponseWriter, r *http.Request, businessID uuid.UUID, form any, msg string) {
	h.renderInvoiceFormErrors(w, r, businessID, form, formErrors{"general": msg})
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
		Title:       "Invoices",
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

// parseLineItems decodes the parallel form arrays used by the
// invoice form: item_product_id[], item_name[], item_description[],
// item_quantity[], item_unit_price[].
func parseLineItems(r *http.Request) ([]LineItemInput, error) {
	names := r.PostForm["item_name"]
	productIDs := r.PostForm["item_product_id"]
	descriptions := r.PostForm["item_description"]
	quantities := r.PostForm["item_quantity"]
	prices := r.PostForm["item_unit_price"]

	items := make([]LineItemInput, 0, len(names))
	for i := range names {
		item := LineItemInput{
			Name:      names[i],
			Quantity:  1,
			UnitPrice: "0",
		}
		if i < len(productIDs) && productIDs[i] != "" {
			id, err := uuid.Parse(productIDs[i])
			if err != nil {
				return nil, errors.New("invalid product reference on row " + strconv.Itoa(i+1))
			}
			item.ProductID = &id
		}
		if i < len(descriptions) {
			item.Description = descriptions[i]
		}
		if i < len(quantities) && quantities[i] != "" {
			qty, err := strconv.ParseInt(quantities[i], 10, 64)
			if err != nil || qty < 0 {
				return nil, errors.New("invalid quantity on row " + strconv.Itoa(i+1))
			}
			item.Quantity = qty
		}
		if i < len(prices) && prices[i] != "" {
			item.UnitPrice = prices[i]
		}
		items = append(items, item)
	}
	return items, nil
}

func formFromInvoice(inv *Invoice) UpdateInvoiceInput {
	items := make([]LineItemInput, 0, len(inv.Items))
	for _, item := range inv.Items {
		items = append(items, LineItemInput{
			ProductID:   item.ProductID,
			Name:        item.Name,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice.StringFixed(2),
		})
	}
	form := UpdateInvoiceInput{
		CustomerName:    inv.Customer.Name,
		CustomerEmail:   inv.Customer.Email,
		CustomerPhone:   inv.Customer.Phone,
		CustomerAddress: inv.Customer.Address,
		Items:           items,
		DiscountRate:    inv.DiscountRate.StringFixed(2),
		TaxRate:         inv.TaxRate.StringFixed(2),
		InvoiceDate:     inv.InvoiceDate,
		DueDate:         inv.DueDate,
		Notes:           inv.Notes,
	}
	if prefs := inv.Preferences; prefs != nil {
		form.ItemLabel = prefs.ItemLabel
		form.QuantityLabel = prefs.QuantityLabel
		form.PriceLabel = prefs.PriceLabel
		form.TotalLabel = prefs.TotalLabel
	}
	return form
}

func isInputError(err error) bool {
	return errors.Is(err, ErrNoItems) || errors.Is(err, ErrInvalidRate) || errors.Is(err, ErrInvalidItem)
}

func parseDate(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseOptionalDate(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil
	}
	return &t
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
