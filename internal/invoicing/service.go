package invoicing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/smallbill/smallbill/internal/business"
	"github.com/smallbill/smallbill/internal/catalog"
	"github.com/smallbill/smallbill/internal/shared"
)

// BusinessDirectory resolves owned businesses; it doubles as the
// ownership guard.
type BusinessDirectory interface {
	Get(ctx context.Context, ownerID, id uuid.UUID) (*business.Business, error)
}

// ProductCatalog resolves owned products for line item snapshots.
type ProductCatalog interface {
	Get(ctx context.Context, ownerID, productID uuid.UUID) (*catalog.Product, error)
}

// EmailOptions carries per-send overrides for an invoice email. Empty
// fields fall back to the customer address and the standard subject.
type EmailOptions struct {
	Recipient string
	Subject   string
	Message   string
}

// EmailEnqueuer schedules an invoice email for background delivery.
type EmailEnqueuer interface {
	EnqueueInvoiceEmail(ctx context.Context, invoiceID uuid.UUID, opts EmailOptions) error
}

// Service wraps invoicing business rules.
type Service struct {
	repo       Repository
	businesses BusinessDirectory
	products   ProductCatalog
	enqueuer   EmailEnqueuer
	now        func() time.Time
}

// NewService constructs a Service. enqueuer may be nil in processes
// that never send email.
func NewService(repo Repository, businesses BusinessDirectory, products ProductCatalog, enqueuer EmailEnqueuer) *Service {
	return &Service{
		repo:       repo,
		businesses: businesses,
		products:   products,
		enqueuer:   enqueuer,
		now:        time.Now,
	}
}

// Create builds a draft invoice from the input, computes its totals
// and persists it with a business-scoped invoice number, all in one
// transaction.
func (s *Service) Create(ctx context.Context, ownerID, businessID uuid.UUID, input CreateInvoiceInput) (*Invoice, error) {
	if _, err := s.businesses.Get(ctx, ownerID, businessID); err != nil {
		return nil, err
	}

	items, err := s.buildItems(ctx, ownerID, input.Items)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNoItems
	}

	discountRate, taxRate, err := parseRates(input.DiscountRate, input.TaxRate)
	if err != nil {
		return nil, err
	}
	totals, err := ComputeTotals(items, discountRate, taxRate)
	if err != nil {
		return nil, err
	}

	invoiceDate := input.InvoiceDate
	if invoiceDate.IsZero() {
		invoiceDate = s.now()
	}

	inv := Invoice{
		ID:         uuid.New(),
		BusinessID: businessID,
		Customer: CustomerSnapshot{
			Name:    input.CustomerName,
			Email:   input.CustomerEmail,
			Phone:   input.CustomerPhone,
			Address: input.CustomerAddress,
		},
		Items:          items,
		Subtotal:       totals.Subtotal,
		DiscountRate:   discountRate,
		DiscountAmount: totals.DiscountAmount,
		TaxRate:        taxRate,
		TaxAmount:      totals.TaxAmount,
		Total:          totals.Total,
		Status:         StatusDraft,
		InvoiceDate:    invoiceDate,
		DueDate:        input.DueDate,
		Notes:          input.Notes,
		Preferences:    displayPreferences(input.ItemLabel, input.QuantityLabel, input.PriceLabel, input.TotalLabel),
	}

	// Concurrent creates can race on the month sequence. The unique
	// index on (business_id, invoice_number) catches the loser, which
	// recounts and tries again.
	for attempt := 0; ; attempt++ {
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			seq, err := tx.CountInvoicesForMonth(ctx, businessID, invoiceDate.Year(), invoiceDate.Month())
			if err != nil {
				return err
			}
			inv.InvoiceNumber = formatInvoiceNumber(invoiceDate, seq+1)
			if err := tx.InsertInvoice(ctx, inv); err != nil {
				return err
			}
			for i, item := range inv.Items {
				if err := tx.InsertInvoiceItem(ctx, inv.ID, i, item); err != nil {
					return err
				}
			}
			return nil
		})
		if err == nil {
			return &inv, nil
		}
		if !isUniqueViolation(err) || attempt >= 2 {
			return nil, err
		}
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Get returns an invoice of an owned business.
func (s *Service) Get(ctx context.Context, ownerID, invoiceID uuid.UUID) (*Invoice, error) {
	inv, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if _, err := s.businesses.Get(ctx, ownerID, inv.BusinessID); err != nil {
		return nil, err
	}
	return inv, nil
}

// List returns one page of an owned business's invoices, newest first.
// The second return reports whether more pages follow.
func (s *Service) List(ctx context.Context, ownerID, businessID uuid.UUID, page shared.Pagination) ([]Invoice, bool, error) {
	if _, err := s.businesses.Get(ctx, ownerID, businessID); err != nil {
		return nil, false, err
	}
	invoices, err := s.repo.ListInvoices(ctx, businessID, page.Limit()+1, page.Offset())
	if err != nil {
		return nil, false, err
	}
	hasMore := len(invoices) > page.Limit()
	if hasMore {
		invoices = invoices[:page.Limit()]
	}
	return invoices, hasMore, nil
}

// Update rewrites the editable surface of a draft invoice and
// recomputes the cached totals. Invoices past draft reject edits.
func (s *Service) Update(ctx context.Context, ownerID, invoiceID uuid.UUID, input UpdateInvoiceInput) (*Invoice, error) {
	inv, err := s.Get(ctx, ownerID, invoiceID)
	if err != nil {
		return nil, err
	}
	if !inv.Editable() {
		return nil, fmt.Errorf("%w: invoice is %s", ErrInvalidStatus, inv.Status)
	}

	items, err := s.buildItems(ctx, ownerID, input.Items)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNoItems
	}

	discountRate, taxRate, err := parseRates(input.DiscountRate, input.TaxRate)
	if err != nil {
		return nil, err
	}
	totals, err := ComputeTotals(items, discountRate, taxRate)
	if err != nil {
		return nil, err
	}

	inv.Customer = CustomerSnapshot{
		Name:    input.CustomerName,
		Email:   input.CustomerEmail,
		Phone:   input.CustomerPhone,
		Address: input.CustomerAddress,
	}
	inv.Items = items
	inv.Subtotal = totals.Subtotal
	inv.DiscountRate = discountRate
	inv.DiscountAmount = totals.DiscountAmount
	inv.TaxRate = taxRate
	inv.TaxAmount = totals.TaxAmount
	inv.Total = totals.Total
	if !input.InvoiceDate.IsZero() {
		inv.InvoiceDate = input.InvoiceDate
	}
	inv.DueDate = input.DueDate
	inv.Notes = input.Notes
	inv.Preferences = displayPreferences(input.ItemLabel, input.QuantityLabel, input.PriceLabel, input.TotalLabel)

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateInvoice(ctx, *inv); err != nil {
			return err
		}
		if err := tx.DeleteInvoiceItems(ctx, inv.ID); err != nil {
			return err
		}
		for i, item := range inv.Items {
			if err := tx.InsertInvoiceItem(ctx, inv.ID, i, item); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// Delete hard-removes a draft invoice. There is no soft delete; past
// draft, cancel instead.
func (s *Service) Delete(ctx context.Context, ownerID, invoiceID uuid.UUID) error {
	inv, err := s.Get(ctx, ownerID, invoiceID)
	if err != nil {
		return err
	}
	if inv.Status != StatusDraft {
		return ErrInvalidStatus
	}
	return s.repo.DeleteInvoice(ctx, invoiceID)
}

// Transition moves an invoice to a new status. Moving to paid stamps
// PaidAt with the transition time.
func (s *Service) Transition(ctx context.Context, ownerID, invoiceID uuid.UUID, to InvoiceStatus) (*Invoice, error) {
	inv, err := s.Get(ctx, ownerID, invoiceID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(inv.Status, to) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidStatus, inv.Status, to)
	}

	var paidAt *time.Time
	if to == StatusPaid {
		now := s.now()
		paidAt = &now
	}
	if err := s.repo.UpdateStatus(ctx, invoiceID, inv.Status, to, paidAt); err != nil {
		return nil, err
	}
	inv.Status = to
	if paidAt != nil {
		inv.PaidAt = paidAt
	}
	return inv, nil
}

// SendEmail schedules delivery of the invoice to the customer. The
// draft-to-sent transition happens only after delivery succeeds, in
// MarkSent.
func (s *Service) SendEmail(ctx context.Context, ownerID, invoiceID uuid.UUID, opts EmailOptions) error {
	if s.enqueuer == nil {
		return fmt.Errorf("invoicing: email delivery not configured")
	}
	inv, err := s.Get(ctx, ownerID, invoiceID)
	if err != nil {
		return err
	}
	if opts.Recipient == "" && inv.Customer.Email == nil {
		return fmt.Errorf("%w: customer has no email address", ErrInvalidItem)
	}
	return s.enqueuer.EnqueueInvoiceEmail(ctx, invoiceID, opts)
}

// MarkSent records successful email delivery by moving a draft to
// sent. Invoices already past draft are left untouched: delivery is
// the trigger, not the authority.
func (s *Service) MarkSent(ctx context.Context, invoiceID uuid.UUID) error {
	err := s.repo.UpdateStatus(ctx, invoiceID, StatusDraft, StatusSent, nil)
	if errors.Is(err, ErrInvalidStatus) {
		return nil
	}
	return err
}

// InvoiceForDelivery loads an invoice and its business without an
// ownership check, for background workers acting on queued IDs.
func (s *Service) InvoiceForDelivery(ctx context.Context, invoiceID uuid.UUID) (*Invoice, error) {
	return s.repo.GetInvoice(ctx, invoiceID)
}

func (s *Service) buildItems(ctx context.Context, ownerID uuid.UUID, inputs []LineItemInput) ([]LineItem, error) {
	items := make([]LineItem, 0, len(inputs))
	for i, in := range inputs {
		if in.Quantity < 0 {
			return nil, fmt.Errorf("%w: row %d has negative quantity", ErrInvalidItem, i+1)
		}

		item := LineItem{
			Kind:        ItemKindCustom,
			Name:        in.Name,
			Description: in.Description,
			Quantity:    in.Quantity,
		}

		if in.ProductID != nil {
			product, err := s.products.Get(ctx, ownerID, *in.ProductID)
			if err != nil {
				return nil, fmt.Errorf("%w: row %d references unknown product", ErrInvalidItem, i+1)
			}
			item.Kind = ItemKindProduct
			item.ProductID = in.ProductID
			if item.Name == "" {
				item.Name = product.Name
			}
			if item.Description == "" {
				item.Description = product.Description
			}
			if in.UnitPrice == "" {
				item.UnitPrice = product.Price
			}
		}

		if in.UnitPrice != "" {
			price, err := decimal.NewFromString(in.UnitPrice)
			if err != nil || price.IsNegative() {
				return nil, fmt.Errorf("%w: row %d has invalid unit price", ErrInvalidItem, i+1)
			}
			item.UnitPrice = price
		}

		if item.Kind == ItemKindCustom && item.Name == "" {
			return nil, fmt.Errorf("%w: row %d needs a name", ErrInvalidItem, i+1)
		}

		RecomputeLineTotal(&item)
		items = append(items, item)
	}
	return items, nil
}

func parseRates(rawDiscount, rawTax string) (decimal.Decimal, decimal.Decimal, error) {
	discountRate, err := parseRate(rawDiscount)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	taxRate, err := parseRate(rawTax)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return discountRate, taxRate, nil
}

func parseRate(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidRate, raw)
	}
	if rate.IsNegative() || rate.GreaterThan(oneHundred) {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidRate, rate)
	}
	return rate, nil
}

func formatInvoiceNumber(date time.Time, seq int64) string {
	return fmt.Sprintf("INV-%04d%02d-%04d", date.Year(), int(date.Month()), seq)
}
