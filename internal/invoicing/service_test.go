package invoicing

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbill/smallbill/internal/business"
	"github.com/smallbill/smallbill/internal/catalog"
	"github.com/smallbill/smallbill/internal/shared"
)

type mockRepository struct {
	invoices map[uuid.UUID]*Invoice

	updateStatusCalls int
	insertFailures    []error
}

func newMockRepository() *mockRepository {
	return &mockRepository{invoices: make(map[uuid.UUID]*Invoice)}
}

func (m *mockRepository) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *inv
	copied.Items = append([]LineItem(nil), inv.Items...)
	return &copied, nil
}

func (m *mockRepository) ListInvoices(ctx context.Context, businessID uuid.UUID, limit, offset int) ([]Invoice, error) {
	var out []Invoice
	for _, inv := range m.invoices {
		if inv.BusinessID == businessID {
			out = append(out, *inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InvoiceDate.After(out[j].InvoiceDate) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to InvoiceStatus, paidAt *time.Time) error {
	m.updateStatusCalls++
	inv, ok := m.invoices[id]
	if !ok {
		return ErrNotFound
	}
	if inv.Status != from {
		return ErrInvalidStatus
	}
	inv.Status = to
	if paidAt != nil {
		inv.PaidAt = paidAt
	}
	return nil
}

func (m *mockRepository) DeleteInvoice(ctx context.Context, id uuid.UUID) error {
	if _, ok := m.invoices[id]; !ok {
		return ErrNotFound
	}
	delete(m.invoices, id)
	return nil
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &mockTxRepo{mock: m})
}

type mockTxRepo struct {
	mock *mockRepository
}

func (tx *mockTxRepo) CountInvoicesForMonth(ctx context.Context, businessID uuid.UUID, year int, month time.Month) (int64, error) {
	var count int64
	for _, inv := range tx.mock.invoices {
		if inv.BusinessID == businessID && inv.InvoiceDate.Year() == year && inv.InvoiceDate.Month() == month {
			count++
		}
	}
	return count, nil
}

func (tx *mockTxRepo) InsertInvoice(ctx context.Context, inv Invoice) error {
	if len(tx.mock.insertFailures) > 0 {
		err := tx.mock.insertFailures[0]
		tx.mock.insertFailures = tx.mock.insertFailures[1:]
		return err
	}
	inv.Items = nil
	tx.mock.invoices[inv.ID] = &inv
	return nil
}

func (tx *mockTxRepo) UpdateInvoice(ctx context.Context, inv Invoice) error {
	stored, ok := tx.mock.invoices[inv.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Status != StatusDraft {
		return ErrInvalidStatus
	}
	inv.Items = nil
	inv.Status = stored.Status
	tx.mock.invoices[inv.ID] = &inv
	return nil
}

func (tx *mockTxRepo) DeleteInvoiceItems(ctx context.Context, invoiceID uuid.UUID) error {
	if inv, ok := tx.mock.invoices[invoiceID]; ok {
		inv.Items = nil
	}
	return nil
}

func (tx *mockTxRepo) InsertInvoiceItem(ctx context.Context, invoiceID uuid.UUID, position int, item LineItem) error {
	inv, ok := tx.mock.invoices[invoiceID]
	if !ok {
		return ErrNotFound
	}
	inv.Items = append(inv.Items, item)
	return nil
}

type mockDirectory struct {
	businesses map[uuid.UUID]*business.Business
}

func (m *mockDirectory) Get(ctx context.Context, ownerID, id uuid.UUID) (*business.Business, error) {
	b, ok := m.businesses[id]
	if !ok {
		return nil, business.ErrNotFound
	}
	if b.OwnerID != ownerID {
		return nil, shared.ErrForbidden
	}
	return b, nil
}

type mockCatalog struct {
	products map[uuid.UUID]*catalog.Product
}

func (m *mockCatalog) Get(ctx context.Context, ownerID, productID uuid.UUID) (*catalog.Product, error) {
	p, ok := m.products[productID]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return p, nil
}

type captureEnqueuer struct {
	enqueued []uuid.UUID
	options  []EmailOptions
}

func (c *captureEnqueuer) EnqueueInvoiceEmail(ctx context.Context, invoiceID uuid.UUID, opts EmailOptions) error {
	c.enqueued = append(c.enqueued, invoiceID)
	c.options = append(c.options, opts)
	return nil
}

type fixture struct {
	repo       *mockRepository
	service    *Service
	enqueuer   *captureEnqueuer
	ownerID    uuid.UUID
	businessID uuid.UUID
	productID  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ownerID := uuid.New()
	businessID := uuid.New()
	productID := uuid.New()

	repo := newMockRepository()
	directory := &mockDirectory{businesses: map[uuid.UUID]*business.Business{
		businessID: {ID: businessID, OwnerID: ownerID, Name: "Acme Traders", Currency: "INR"},
	}}
	products := &mockCatalog{products: map[uuid.UUID]*catalog.Product{
		productID: {
			ID:          productID,
			BusinessID:  businessID,
			Name:        "Widget",
			Description: "Standard widget",
			Price:       decimal.NewFromInt(50),
			IsActive:    true,
		},
	}}
	enqueuer := &captureEnqueuer{}

	service := NewService(repo, directory, products, enqueuer)
	service.now = func() time.Time {
		return time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)
	}

	return &fixture{
		repo:       repo,
		service:    service,
		enqueuer:   enqueuer,
		ownerID:    ownerID,
		businessID: businessID,
		productID:  productID,
	}
}

func (f *fixture) createInput() CreateInvoiceInput {
	email := "customer@example.com"
	return CreateInvoiceInput{
		CustomerName:  "Ravi Kumar",
		CustomerEmail: &email,
		Items: []LineItemInput{
			{ProductID: &f.productID, Quantity: 2},
		},
		InvoiceDate: time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC),
	}
}

func TestCreateAssignsSequentialNumbers(t *testing.T) {
	f := newFixture(t)

	first, err := f.service.Create(context.Background(), f.ownerID, f.businessID, f.createInput())
	require.NoError(t, err)
	second, err := f.service.Create(context.Background(), f.ownerID, f.businessID, f.createInput())
	require.NoError(t, err)

	assert.Equal(t, "INV-202603-0001", first.InvoiceNumber)
	assert.Equal(t, "INV-202603-0002", second.InvoiceNumber)
	assert.Equal(t, StatusDraft, first.Status)
}

func TestCreateRetriesOnNumberCollision(t *testing.T) {
	f := newFixture(t)

	f.repo.insertFailures = []error{&pgconn.PgError{Code: "23505"}}
	inv, err := f.service.Create(context.Background(), f.ownerID, f.businessID, f.createInput())
	require.NoError(t, err)
	assert.Equal(t, "INV-202603-0001", inv.InvoiceNumber)

	// Anything other than a duplicate number surfaces untouched.
	f.repo.insertFailures = []error{&pgconn.PgError{Code: "23502"}}
	_, err = f.service.Create(context.Background(), f.ownerID, f.businessID, f.createInput())
	assert.Error(t, err)
}

func TestCreateStoresDisplayPreferences(t *testing.T) {
	f := newFixture(t)

	input := f.createInput()
	itemLabel := "Description"
	totalLabel := "Amount"
	input.ItemLabel = &itemLabel
	input.TotalLabel = &totalLabel

	inv, err := f.service.Create(context.Background(), f.ownerID, f.businessID, input)
	require.NoError(t, err)

	stored, err := f.service.Get(context.Background(), f.ownerID, inv.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Preferences)
	require.NotNil(t, stored.Preferences.ItemLabel)
	assert.Equal(t, "Description", *stored.Preferences.ItemLabel)
	assert.Nil(t, stored.Preferences.QuantityLabel)
	require.NotNil(t, stored.Preferences.TotalLabel)
	assert.Equal(t, "Amount", *stored.Preferences.TotalLabel)

	// Plain invoices keep no preference row at all.
	bare, err := f.service.Create(context.Background(), f.ownerID, f.businessID, f.createInput())
	require.NoError(t, err)
	assert.Nil(t, bare.Preferences)
}

func TestCreateSnapshotsProduct(t *testing.T) {
	f := newFixture(t)

	inv, err := f.service.Create(context.Background(), f.ownerID, f.businessID, f.createInput())
	require.NoError(t, err)

	require.Len(t, inv.Items, 1)
	item := inv.Items[0]
	assert.Equal(t, ItemKindProduct, item.Kind)
	assert.Equal(t, "Widget", item.Name)
	assert.Equal(t, "Standard widget", item.Description)
	assert.True(t, item.UnitPrice.Equal(decimal.NewFromInt(50)))
	assert.True(t, item.LineTotal.Equal(decimal.NewFromInt(100)))
	assert.True(t, inv.Total.Equal(decimal.NewFromInt(100)))
}

func TestCreateRejectsEmptyItems(t *testing.T) {
	f := newFixture(t)

	input := f.createInput()
	input.Items = nil
	_, err := f.service.Create(context.Background(), f.ownerID, f.businessID, input)
	assert.ErrorIs(t, err, ErrNoItems)
}

func TestCreateRejectsBadRate(t *testing.T) {
	f := newFixture(t)

	input := f.createInput()
	input.DiscountRate = "150"
	_, err := f.service.Create(context.Background(), f.ownerID, f.businessID, input)
	assert.ErrorIs(t, err, ErrInvalidRate)
}

func TestCreateRejectsCustomItemWithoutName(t *testing.T) {
	f := newFixture(t)

	input := f.createInput()
	input.Items = []LineItemInput{{Quantity: 1, UnitPrice: "10"}}
	_, err := f.service.Create(context.Background(), f.ownerID, f.businessID, input)
	assert.ErrorIs(t, err, ErrInvalidItem)
}

func TestCreateForeignBusinessForbidden(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Create(context.Background(), uuid.New(), f.businessID, f.createInput())
	assert.ErrorIs(t, err, shared.ErrForbidden)
}

func TestUpdatePreservesItemOrder(t *testing.T) {
	f := newFixture(t)

	inv, err := f.service.Create(context.Background(), f.ownerID, f.businessID, f.createInput())
	require.NoError(t, err)

	update := UpdateInvoiceInput{
		CustomerName: "Ravi Kumar",
		Items: []LineItemInput{
			{Name: "Setup fee", Quantity: 1, UnitPrice: "25"},
			{ProductID: &f.productID, Quantity: 3},
			{Name: "Delivery", Quantity: 1, UnitPrice: "5"},
		},
		InvoiceDate: inv.InvoiceDate,
	}
	updated, err := f.service.Update(context.Background(), f.ownerID, inv.ID, update)
	require.NoError(t, err)

	require.Len(t, updated.Items, 3)
	assert.Equal(t, "Setup fee", updated.Items[0].Name)
	assert.Equal(t, "Widget", updated.Items[1].Name)
	assert.Equal(t, "Delivery", updated.Items[2].Name)

	reloaded, err := f.service.Get(context.Background(), f.ownerID, inv.ID)
	require.NoError(t, err)
	require.Len(t, reloaded.Items, 3)
	assert.Equal(t, "Setup fee", reloaded.Items[0].Name)
	assert.Equal(t, "Delivery", reloaded.Items[2].Name)
	assert.True(t, reloaded.Total.Equal(decimal.NewFromInt(180)), "total %s", reloaded.Total)
}

func TestUpdateRejectsNonDraft(t *testing.T) {
	f := newFixture(t)

	inv, err := f.service.Create(context.Background(), f.ownerID, f.businessID, f.createInput())
	require.NoError(t, err)
	_, err = f.service.Transition(context.Background(), f.ownerID, inv.ID, StatusApproved)
	require.NoError(t, err)

	update := UpdateInvoiceInput{
		CustomerName: "Someone Else",
		Items:        []LineItemInput{{Name: "Row", Quantity: 1, UnitPrice: "1"}},
	}
	_, err = f.service.Update(context.Background(), f.ownerID, inv.ID, update)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestTransitionPaidStampsPaidAt(t *testing.T) {
	f := newFixture(t)

	inv, err := f.service.Create(context.Background(), f.ownerID, f.businessID, f.createInput())
	require.NoError(t, err)
	_, err = f.service.Transition(context.Background(), f.ownerID, inv.ID, StatusApproved)
	require.NoError(t, err)

	paid, err := f.service.Transition(context.Background(), f.ownerID, inv.ID, StatusPaid)
	require.NoError(t, err)
	require.NotNil(t, paid.PaidAt)
	assert.Equal(t, 2026, paid.PaidAt.Year())
}

func TestTransitionRejectsIllegalMoves(t *testing.T) {
	f := newFixture(t)

	inv, err := f.service.Create(context.Background(), f.ownerID, f.businessID, f.createInput())
	require.NoError(t, err)
	_, err = f.service.Transition(context.Background(), f.ownerID, inv.ID, StatusApproved)
	require.NoError(t, err)
	_, err = f.service.Transition(context.Background(), f.ownerID, inv.ID, StatusPaid)
	require.NoError(t, err)

	// Paid is terminal.
	_, err = f.service.Transition(context.Background(), f.ownerID, inv.ID, StatusCancelled)
	assert.ErrorIs(t, err, ErrInvalidStatus)

	// Draft cannot jump straight to paid.
	other, err := f.service.Create(context.Background(), f.ownerID, f.businessID, f.createInput())
	require.NoError(t, err)
	_, err = f.service.Transition(context.Background(), f.ownerID, other.ID, StatusPaid)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestSendEmailEnqueues(t *testing.T) {
	f := newFixture(t)

	inv, err := f.service.Create(context.Background(), f.ownerID, f.businessID, f.createInput())
	require.NoError(t, err)

	require.NoError(t, f.service.SendEmail(context.Background(), f.ownerID, inv.ID, EmailOptions{}))
	require.Len(t, f.enqueuer.enqueued, 1)
	assert.Equal(t, inv.ID, f.enqueuer.enqueued[0])

	// Enqueuing alone never changes the status.
	reloaded, err := f.service.Get(context.Background(), f.ownerID, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, reloaded.Status)
}

func TestSendEmailCarriesOverrides(t *testing.T) {
	f := newFixture(t)

	inv, err := f.service.Create(context.Background(), f.ownerID, f.businessID, f.createInput())
	require.NoError(t, err)

	opts := EmailOptions{
		Recipient: "accounts@customer.example",
		Subject:   "Your September invoice",
		Message:   "Thanks for your business.",
	}
	require.NoError(t, f.service.SendEmail(context.Background(), f.ownerID, inv.ID, opts))
	require.Len(t, f.enqueuer.options, 1)
	assert.Equal(t, opts, f.enqueuer.options[0])
}

func TestSendEmailRecipientOverridesMissingAddress(t *testing.T) {
	f := newFixture(t)

	input := f.createInput()
	input.CustomerEmail = nil
	inv, err := f.service.Create(context.Background(), f.ownerID, f.businessID, input)
	require.NoError(t, err)

	err = f.service.SendEmail(context.Background(), f.ownerID, inv.ID, EmailOptions{Recipient: "accounts@customer.example"})
	require.NoError(t, err)
	require.Len(t, f.enqueuer.enqueued, 1)
}

func TestSendEmailRequiresCustomerAddress(t *testing.T) {
	f := newFixture(t)

	input := f.createInput()
	input.CustomerEmail = nil
	inv, err := f.service.Create(context.Background(), f.ownerID, f.businessID, input)
	require.NoError(t, err)

	err = f.service.SendEmail(context.Background(), f.ownerID, inv.ID, EmailOptions{})
	assert.ErrorIs(t, err, ErrInvalidItem)
}

func TestMarkSentMovesDraft(t *testing.T) {
	f := newFixture(t)

	inv, err := f.service.Create(context.Background(), f.ownerID, f.businessID, f.createInput())
	require.NoError(t, err)

	require.NoError(t, f.service.MarkSent(context.Background(), inv.ID))
	reloaded, err := f.service.Get(context.Background(), f.ownerID, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, reloaded.Status)
}

func TestMarkSentTolerantOfEarlierTransition(t *testing.T) {
	f := newFixture(t)

	inv, err := f.service.Create(context.Background(), f.ownerID, f.businessID, f.createInput())
	require.NoError(t, err)
	_, err = f.service.Transition(context.Background(), f.ownerID, inv.ID, StatusApproved)
	require.NoError(t, err)

	// Delivery confirmation after a manual approve is not an error.
	require.NoError(t, f.service.MarkSent(context.Background(), inv.ID))
	reloaded, err := f.service.Get(context.Background(), f.ownerID, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, reloaded.Status)
}

func TestDeleteRemovesInvoice(t *testing.T) {
	f := newFixture(t)

	inv, err := f.service.Create(context.Background(), f.ownerID, f.businessID, f.createInput())
	require.NoError(t, err)

	require.NoError(t, f.service.Delete(context.Background(), f.ownerID, inv.ID))
	_, err = f.service.Get(context.Background(), f.ownerID, inv.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRejectsNonDraft(t *testing.T) {
	f := newFixture(t)

	inv, err := f.service.Create(context.Background(), f.ownerID, f.businessID, f.createInput())
	require.NoError(t, err)
	_, err = f.service.Transition(context.Background(), f.ownerID, inv.ID, StatusApproved)
	require.NoError(t, err)

	err = f.service.Delete(context.Background(), f.ownerID, inv.ID)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestListPaginates(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 25; i++ {
		_, err := f.service.Create(context.Background(), f.ownerID, f.businessID, f.createInput())
		require.NoError(t, err)
	}

	first, hasMore, err := f.service.List(context.Background(), f.ownerID, f.businessID, shared.Pagination{Page: 1, PageSize: 20})
	require.NoError(t, err)
	assert.Len(t, first, 20)
	assert.True(t, hasMore)

	second, hasMore, err := f.service.List(context.Background(), f.ownerID, f.businessID, shared.Pagination{Page: 2, PageSize: 20})
	require.NoError(t, err)
	assert.Len(t, second, 5)
	assert.False(t, hasMore)
}

func TestCanTransitionTable(t *testing.T) {
	assert.True(t, CanTransition(StatusDraft, StatusSent))
	assert.True(t, CanTransition(StatusDraft, StatusApproved))
	assert.True(t, CanTransition(StatusSent, StatusOverdue))
	assert.True(t, CanTransition(StatusOverdue, StatusPaid))
	assert.False(t, CanTransition(StatusDraft, StatusPaid))
	assert.False(t, CanTransition(StatusPaid, StatusCancelled))
	assert.False(t, CanTransition(StatusCancelled, StatusDraft))
	assert.False(t, CanTransition(StatusApproved, StatusSent))
}
