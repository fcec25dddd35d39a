// Package invoicing manages invoices: line items, computed totals and
// the status lifecycle from draft through payment.
package invoicing

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound indicates the invoice does not exist.
	ErrNotFound = errors.New("invoicing: not found")
	// ErrInvalidStatus indicates a forbidden status transition or a
	// mutation attempted outside draft.
	ErrInvalidStatus = errors.New("invoicing: invalid status transition")
	// ErrNoItems indicates an invoice submitted without line items.
	ErrNoItems = errors.New("invoicing: at least one item required")
	// ErrInvalidRate indicates a discount or tax rate outside [0,100].
	ErrInvalidRate = errors.New("invoicing: rate must be between 0 and 100")
	// ErrInvalidItem indicates a line item with bad quantity or price.
	ErrInvalidItem = errors.New("invoicing: invalid line item")
)

// InvoiceStatus enumerates the invoice lifecycle.
type InvoiceStatus string

const (
	StatusDraft     InvoiceStatus = "draft"
	StatusSent      InvoiceStatus = "sent"
	StatusApproved  InvoiceStatus = "approved"
	StatusPaid      InvoiceStatus = "paid"
	StatusOverdue   InvoiceStatus = "overdue"
	StatusCancelled InvoiceStatus = "cancelled"
)

// allowedTransitions is the edge set of the status machine. Overdue is
// assigned manually, never derived from the due date.
var allowedTransitions = map[InvoiceStatus][]InvoiceStatus{
	StatusDraft:     {StatusSent, StatusApproved, StatusCancelled},
	StatusSent:      {StatusApproved, StatusPaid, StatusOverdue, StatusCancelled},
	StatusApproved:  {StatusPaid, StatusCancelled},
	StatusOverdue:   {StatusPaid, StatusCancelled},
	StatusPaid:      {},
	StatusCancelled: {},
}

// CanTransition reports whether moving from one status to the next is allowed.
func CanTransition(from, to InvoiceStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ItemKind tags a line item as product-backed or free-text.
type ItemKind string

const (
	ItemKindProduct ItemKind = "PRODUCT"
	ItemKindCustom  ItemKind = "CUSTOM"
)

// LineItem is one priced row on an invoice. Product-backed rows carry
// a snapshot of the product at add-time; the ProductID is not a live
// reference. LineTotal is always Quantity times UnitPrice, recomputed
// on every change, never independently stored.
type LineItem struct {
	Kind        ItemKind
	ProductID   *uuid.UUID
	Name        string
	Description string
	Quantity    int64
	UnitPrice   decimal.Decimal
	LineTotal   decimal.Decimal
}

// CustomerSnapshot is copied onto the invoice at creation; it is not a
// reference to a customer entity.
type CustomerSnapshot struct {
	Name    string
	Email   *string
	Phone   *string
	Address *string
}

// DisplayPreferences carries per-invoice column header overrides.
// Cosmetic only, no computational effect.
type DisplayPreferences struct {
	ItemLabel     *string
	QuantityLabel *string
	PriceLabel    *string
	TotalLabel    *string
}

// Invoice is a billing document issued by a business. The stored
// monetary fields cache the output of ComputeTotals.
type Invoice struct {
	ID             uuid.UUID
	BusinessID     uuid.UUID
	InvoiceNumber  string
	Customer       CustomerSnapshot
	Items          []LineItem
	Subtotal       decimal.Decimal
	DiscountRate   decimal.Decimal
	DiscountAmount decimal.Decimal
	TaxRate        decimal.Decimal
	TaxAmount      decimal.Decimal
	Total          decimal.Decimal
	Status         InvoiceStatus
	InvoiceDate    time.Time
	DueDate        *time.Time
	PaidAt         *time.Time
	Notes          string
	Preferences    *DisplayPreferences
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Editable reports whether items, customer and rates may still change.
func (inv *Invoice) Editable() bool {
	return inv.Status == StatusDraft
}

// LineItemInput carries one row of a create or update request.
type LineItemInput struct {
	ProductID   *uuid.UUID
	Name        string `validate:"required,max=200"`
	Description string `validate:"omitempty,max=500"`
	Quantity    int64  `validate:"min=0"`
	UnitPrice   string `validate:"required"`
}

// CreateInvoiceInput carries validated fields for creating an invoice.
type CreateInvoiceInput struct {
	CustomerName    string          `validate:"required,max=200"`
	CustomerEmail   *string         `validate:"omitempty,email"`
	CustomerPhone   *string         `validate:"omitempty,max=32"`
	CustomerAddress *string         `validate:"omitempty,max=500"`
	Items           []LineItemInput `validate:"required,min=1,dive"`
	DiscountRate    string
	TaxRate         string
	InvoiceDate     time.Time
	DueDate         *time.Time
	Notes           string  `validate:"omitempty,max=2000"`
	ItemLabel       *string `validate:"omitempty,max=50"`
	QuantityLabel   *string `validate:"omitempty,max=50"`
	PriceLabel      *string `validate:"omitempty,max=50"`
	TotalLabel      *string `validate:"omitempty,max=50"`
}

// UpdateInvoiceInput mirrors CreateInvoiceInput for draft edits. The
// whole editable surface is rewritten on each save.
type UpdateInvoiceInput struct {
	CustomerName    string          `validate:"required,max=200"`
	CustomerEmail   *string         `validate:"omitempty,email"`
	CustomerPhone   *string         `validate:"omitempty,max=32"`
	CustomerAddress *string         `validate:"omitempty,max=500"`
	Items           []LineItemInput `validate:"required,min=1,dive"`
	DiscountRate    string
	TaxRate         string
	InvoiceDate     time.Time
	DueDate         *time.Time
	Notes           string  `validate:"omitempty,max=2000"`
	ItemLabel       *string `validate:"omitempty,max=50"`
	QuantityLabel   *string `validate:"omitempty,max=50"`
	PriceLabel      *string `validate:"omitempty,max=50"`
	TotalLabel      *string `validate:"omitempty,max=50"`
}

// displayPreferences collapses the label overrides, nil when no
// override is set so stored invoices keep the standard headers.
func displayPreferences(item, quantity, price, total *string) *DisplayPreferences {
	if item == nil && quantity == nil && price == nil && total == nil {
		return nil
	}
	return &DisplayPreferences{
		ItemLabel:     item,
		QuantityLabel: quantity,
		PriceLabel:    price,
		TotalLabel:    total,
	}
}
