package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/smallbill/smallbill/internal/business"
	"github.com/smallbill/smallbill/internal/invoicing"
	"github.com/smallbill/smallbill/internal/mailer"
	"github.com/smallbill/smallbill/internal/view"
)

// InvoiceLoader supplies the worker with invoice data and records
// delivery success.
type InvoiceLoader interface {
	InvoiceForDelivery(ctx context.Context, invoiceID uuid.UUID) (*invoicing.Invoice, error)
	MarkSent(ctx context.Context, invoiceID uuid.UUID) error
}

// BusinessLoader resolves the sending business without ownership
// context; queued IDs were authorized at enqueue time.
type BusinessLoader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*business.Business, error)
}

// PDFRenderer renders HTML to a PDF attachment. Nil disables the
// attachment; the email still goes out.
type PDFRenderer interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

// Sender abstracts the SMTP transport for tests.
type Sender interface {
	Send(msg mailer.Message) error
}

// InvoiceEmailHandler delivers invoice emails and, on success, moves
// draft invoices to sent. Delivery failure leaves the status alone:
// "sent" means the customer actually got the email.
type InvoiceEmailHandler struct {
	logger     *slog.Logger
	invoices   InvoiceLoader
	businesses BusinessLoader
	templates  *view.Engine
	sender     Sender
	pdf        PDFRenderer
}

// NewInvoiceEmailHandler constructs the handler.
func NewInvoiceEmailHandler(
	logger *slog.Logger,
	invoices InvoiceLoader,
	businesses BusinessLoader,
	templates *view.Engine,
	sender Sender,
	pdf PDFRenderer,
) *InvoiceEmailHandler {
	return &InvoiceEmailHandler{
		logger:     logger,
		invoices:   invoices,
		businesses: businesses,
		templates:  templates,
		sender:     sender,
		pdf:        pdf,
	}
}

// Handle processes one TaskTypeInvoiceEmail task.
func (h *InvoiceEmailHandler) Handle(ctx context.Context, t *asynq.Task) error {
	var payload InvoiceEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	inv, err := h.invoices.InvoiceForDelivery(ctx, payload.InvoiceID)
	if err != nil {
		h.logger.Error("load invoice for delivery", slog.Any("error", err))
		return asynq.SkipRetry
	}
	to := payload.Recipient
	if to == "" {
		if inv.Customer.Email == nil {
			h.logger.Warn("invoice has no customer email", slog.String("invoice", inv.InvoiceNumber))
			return asynq.SkipRetry
		}
		to = *inv.Customer.Email
	}
	biz, err := h.businesses.GetByID(ctx, inv.BusinessID)
	if err != nil {
		h.logger.Error("load business for delivery", slog.Any("error", err))
		return asynq.SkipRetry
	}

	html, err := h.templates.RenderString("pages/invoice_email.html", view.TemplateData{
		Title: "Invoice " + inv.InvoiceNumber,
		Data: map[string]any{
			"Business": biz,
			"Invoice":  inv,
			"Message":  payload.Message,
		},
	})
	if err != nil {
		h.logger.Error("render invoice email", slog.Any("error", err))
		return asynq.SkipRetry
	}

	subject := payload.Subject
	if subject == "" {
		subject = fmt.Sprintf("Invoice %s from %s", inv.InvoiceNumber, biz.Name)
	}
	textBody := fmt.Sprintf("Invoice %s from %s. Amount due: %s %s.",
		inv.InvoiceNumber, biz.Name, biz.Currency, inv.Total.StringFixed(2))
	if payload.Message != "" {
		textBody = payload.Message + "\n\n" + textBody
	}
	msg := mailer.Message{
		To:       to,
		Subject:  subject,
		HTMLBody: html,
		TextBody: textBody,
	}

	if h.pdf != nil {
		printHTML, err := h.templates.RenderString("pages/invoice_print.html", view.TemplateData{
			Title: "Invoice " + inv.InvoiceNumber,
			Data: map[string]any{
				"Business": biz,
				"Invoice":  inv,
			},
		})
		if err == nil {
			if pdfBytes, err := h.pdf.RenderHTML(ctx, printHTML); err == nil {
				msg.AttachmentName = "invoice-" + inv.InvoiceNumber + ".pdf"
				msg.Attachment = pdfBytes
			} else {
				h.logger.Warn("invoice pdf attachment skipped", slog.Any("error", err))
			}
		}
	}

	if err := h.sender.Send(msg); err != nil {
		h.logger.Error("invoice email delivery failed",
			slog.String("invoice", inv.InvoiceNumber),
			slog.Any("error", err))
		return err
	}

	if err := h.invoices.MarkSent(ctx, inv.ID); err != nil {
		h.logger.Error("mark invoice sent", slog.Any("error", err))
		return err
	}
	h.logger.Info("invoice email delivered",
		slog.String("invoice", inv.InvoiceNumber),
		slog.String("to", to))
	return nil
}
