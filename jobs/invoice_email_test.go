package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbill/smallbill/internal/business"
	"github.com/smallbill/smallbill/internal/invoicing"
	"github.com/smallbill/smallbill/internal/mailer"
	"github.com/smallbill/smallbill/internal/view"
)

type stubInvoices struct {
	inv  *invoicing.Invoice
	sent []uuid.UUID
}

func (s *stubInvoices) InvoiceForDelivery(ctx context.Context, invoiceID uuid.UUID) (*invoicing.Invoice, error) {
	if s.inv == nil || s.inv.ID != invoiceID {
		return nil, invoicing.ErrNotFound
	}
	return s.inv, nil
}

func (s *stubInvoices) MarkSent(ctx context.Context, invoiceID uuid.UUID) error {
	s.sent = append(s.sent, invoiceID)
	return nil
}

type stubBusinesses struct {
	biz *business.Business
}

func (s *stubBusinesses) GetByID(ctx context.Context, id uuid.UUID) (*business.Business, error) {
	return s.biz, nil
}

type stubSender struct {
	msgs []mailer.Message
	err  error
}

func (s *stubSender) Send(msg mailer.Message) error {
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func newEmailFixture(t *testing.T) (*InvoiceEmailHandler, *stubInvoices, *stubSender) {
	t.Helper()
	email := "customer@example.com"
	inv := &invoicing.Invoice{
		ID:            uuid.New(),
		BusinessID:    uuid.New(),
		InvoiceNumber: "INV-202609-0001",
		Customer:      invoicing.CustomerSnapshot{Name: "Ravi Kumar", Email: &email},
		Total:         decimal.NewFromInt(1180),
		Status:        invoicing.StatusDraft,
		InvoiceDate:   time.Date(2026, time.September, 1, 0, 0, 0, 0, time.UTC),
	}
	biz := &business.Business{
		ID:       inv.BusinessID,
		Name:     "Sharma Traders",
		Email:    "billing@sharmatraders.example",
		Currency: "INR",
	}
	templates, err := view.NewEngine()
	require.NoError(t, err)
	invoices := &stubInvoices{inv: inv}
	sender := &stubSender{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewInvoiceEmailHandler(logger, invoices, &stubBusinesses{biz: biz}, templates, sender, nil)
	return handler, invoices, sender
}

func mustTask(t *testing.T, payload InvoiceEmailPayload) *asynq.Task {
	t.Helper()
	task, err := NewInvoiceEmailTask(payload)
	require.NoError(t, err)
	return task
}

func TestHandleDeliversToCustomer(t *testing.T) {
	handler, invoices, sender := newEmailFixture(t)

	task := mustTask(t, InvoiceEmailPayload{InvoiceID: invoices.inv.ID})
	require.NoError(t, handler.Handle(context.Background(), task))

	require.Len(t, sender.msgs, 1)
	msg := sender.msgs[0]
	assert.Equal(t, "customer@example.com", msg.To)
	assert.Equal(t, "Invoice INV-202609-0001 from Sharma Traders", msg.Subject)
	assert.Equal(t, []uuid.UUID{invoices.inv.ID}, invoices.sent)
}

func TestHandleAppliesOverrides(t *testing.T) {
	handler, invoices, sender := newEmailFixture(t)

	task := mustTask(t, InvoiceEmailPayload{
		InvoiceID: invoices.inv.ID,
		Recipient: "accounts@customer.example",
		Subject:   "Your September invoice",
		Message:   "Thanks for your business.",
	})
	require.NoError(t, handler.Handle(context.Background(), task))

	require.Len(t, sender.msgs, 1)
	msg := sender.msgs[0]
	assert.Equal(t, "accounts@customer.example", msg.To)
	assert.Equal(t, "Your September invoice", msg.Subject)
	assert.Contains(t, msg.TextBody, "Thanks for your business.")
	assert.Contains(t, msg.HTMLBody, "Thanks for your business.")
}

func TestHandleRecipientOverridesMissingAddress(t *testing.T) {
	handler, invoices, sender := newEmailFixture(t)
	invoices.inv.Customer.Email = nil

	task := mustTask(t, InvoiceEmailPayload{
		InvoiceID: invoices.inv.ID,
		Recipient: "accounts@customer.example",
	})
	require.NoError(t, handler.Handle(context.Background(), task))

	require.Len(t, sender.msgs, 1)
	assert.Equal(t, "accounts@customer.example", sender.msgs[0].To)
}

func TestHandleFailedSendReturnsError(t *testing.T) {
	handler, invoices, sender := newEmailFixture(t)
	sender.err = errors.New("smtp: connection refused")

	task := mustTask(t, InvoiceEmailPayload{InvoiceID: invoices.inv.ID})
	err := handler.Handle(context.Background(), task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, invoices.sent)
}
