package catalog

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbill/smallbill/internal/shared"
)

type mockRepository struct {
	products map[uuid.UUID]*Product
	changes  map[uuid.UUID][]PriceChange
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		products: make(map[uuid.UUID]*Product),
		changes:  make(map[uuid.UUID][]PriceChange),
	}
}

func (m *mockRepository) CreateProduct(ctx context.Context, p Product) error {
	m.products[p.ID] = &p
	return nil
}

func (m *mockRepository) GetProduct(ctx context.Context, id uuid.UUID) (*Product, error) {
	p, ok := m.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (m *mockRepository) ListProducts(ctx context.Context, businessID uuid.UUID, activeOnly bool) ([]Product, error) {
	var out []Product
	for _, p := range m.products {
		if p.BusinessID != businessID {
			continue
		}
		if activeOnly && !p.IsActive {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func (m *mockRepository) UpdateProduct(ctx context.Context, p Product) error {
	if _, ok := m.products[p.ID]; !ok {
		return ErrNotFound
	}
	m.products[p.ID] = &p
	return nil
}

func (m *mockRepository) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	if _, ok := m.products[id]; !ok {
		return ErrNotFound
	}
	delete(m.products, id)
	return nil
}

func (m *mockRepository) ListPriceChanges(ctx context.Context, productID uuid.UUID) ([]PriceChange, error) {
	return m.changes[productID], nil
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &mockTxRepo{mock: m})
}

type mockTxRepo struct {
	mock *mockRepository
}

func (tx *mockTxRepo) GetProductForUpdate(ctx context.Context, id uuid.UUID) (*Product, error) {
	return tx.mock.GetProduct(ctx, id)
}

func (tx *mockTxRepo) SetProductPrice(ctx context.Context, id uuid.UUID, price decimal.Decimal) error {
	p, ok := tx.mock.products[id]
	if !ok {
		return ErrNotFound
	}
	p.Price = price
	return nil
}

func (tx *mockTxRepo) InsertPriceChange(ctx context.Context, change PriceChange) error {
	tx.mock.changes[change.ProductID] = append(tx.mock.changes[change.ProductID], change)
	return nil
}

type mockGuard struct {
	ownerID    uuid.UUID
	businessID uuid.UUID
}

func (g *mockGuard) Owns(ctx context.Context, ownerID, businessID uuid.UUID) error {
	if businessID != g.businessID {
		return ErrNotFound
	}
	if ownerID != g.ownerID {
		return shared.ErrForbidden
	}
	return nil
}

func newTestService(t *testing.T) (*Service, *mockRepository, uuid.UUID, uuid.UUID) {
	t.Helper()
	ownerID := uuid.New()
	businessID := uuid.New()
	repo := newMockRepository()
	service := NewService(repo, &mockGuard{ownerID: ownerID, businessID: businessID})
	return service, repo, ownerID, businessID
}

func TestCreateRoundsPrice(t *testing.T) {
	service, _, ownerID, businessID := newTestService(t)

	p, err := service.Create(context.Background(), ownerID, businessID, CreateProductInput{
		Name:  "Widget",
		Price: "10.005",
	})
	require.NoError(t, err)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("10.01")), "price %s", p.Price)
	assert.True(t, p.IsActive)
}

func TestCreateRejectsBadPrice(t *testing.T) {
	service, _, ownerID, businessID := newTestService(t)

	_, err := service.Create(context.Background(), ownerID, businessID, CreateProductInput{Name: "Widget", Price: "-5"})
	assert.ErrorIs(t, err, ErrInvalidPrice)

	_, err = service.Create(context.Background(), ownerID, businessID, CreateProductInput{Name: "Widget", Price: "ten"})
	assert.ErrorIs(t, err, ErrInvalidPrice)
}

func TestCreateForeignBusinessForbidden(t *testing.T) {
	service, _, _, businessID := newTestService(t)

	_, err := service.Create(context.Background(), uuid.New(), businessID, CreateProductInput{Name: "Widget", Price: "10"})
	assert.ErrorIs(t, err, shared.ErrForbidden)
}

func TestUpdatePriceRecordsHistory(t *testing.T) {
	service, repo, ownerID, businessID := newTestService(t)

	p, err := service.Create(context.Background(), ownerID, businessID, CreateProductInput{Name: "Widget", Price: "10"})
	require.NoError(t, err)

	reason := "supplier cost increase"
	updated, err := service.UpdatePrice(context.Background(), ownerID, p.ID, "12", &reason)
	require.NoError(t, err)
	assert.True(t, updated.Price.Equal(decimal.NewFromInt(12)))

	history := repo.changes[p.ID]
	require.Len(t, history, 1)
	change := history[0]
	assert.True(t, change.OldPrice.Equal(decimal.NewFromInt(10)))
	assert.True(t, change.NewPrice.Equal(decimal.NewFromInt(12)))
	assert.Equal(t, ownerID, change.ChangedBy)
	require.NotNil(t, change.Reason)
	assert.Equal(t, reason, *change.Reason)
}

func TestUpdatePriceDefaultsReason(t *testing.T) {
	service, repo, ownerID, businessID := newTestService(t)

	p, err := service.Create(context.Background(), ownerID, businessID, CreateProductInput{Name: "Widget", Price: "10"})
	require.NoError(t, err)

	_, err = service.UpdatePrice(context.Background(), ownerID, p.ID, "12", nil)
	require.NoError(t, err)

	history := repo.changes[p.ID]
	require.Len(t, history, 1)
	require.NotNil(t, history[0].Reason)
	assert.Equal(t, "Price update", *history[0].Reason)
}

func TestUpdatePriceUnchangedWritesNothing(t *testing.T) {
	service, repo, ownerID, businessID := newTestService(t)

	p, err := service.Create(context.Background(), ownerID, businessID, CreateProductInput{Name: "Widget", Price: "10"})
	require.NoError(t, err)

	_, err = service.UpdatePrice(context.Background(), ownerID, p.ID, "10.00", nil)
	require.NoError(t, err)
	assert.Empty(t, repo.changes[p.ID])
}

func TestUpdateDoesNotTouchPrice(t *testing.T) {
	service, _, ownerID, businessID := newTestService(t)

	p, err := service.Create(context.Background(), ownerID, businessID, CreateProductInput{Name: "Widget", Price: "10"})
	require.NoError(t, err)

	name := "Premium Widget"
	inactive := false
	updated, err := service.Update(context.Background(), ownerID, p.ID, UpdateProductInput{
		Name:     &name,
		IsActive: &inactive,
	})
	require.NoError(t, err)
	assert.Equal(t, "Premium Widget", updated.Name)
	assert.False(t, updated.IsActive)
	assert.True(t, updated.Price.Equal(decimal.NewFromInt(10)))
}

func TestListActiveOnly(t *testing.T) {
	service, _, ownerID, businessID := newTestService(t)

	active, err := service.Create(context.Background(), ownerID, businessID, CreateProductInput{Name: "Active", Price: "1"})
	require.NoError(t, err)
	retired, err := service.Create(context.Background(), ownerID, businessID, CreateProductInput{Name: "Retired", Price: "1"})
	require.NoError(t, err)

	off := false
	_, err = service.Update(context.Background(), ownerID, retired.ID, UpdateProductInput{IsActive: &off})
	require.NoError(t, err)

	all, err := service.List(context.Background(), ownerID, businessID, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	activeOnly, err := service.List(context.Background(), ownerID, businessID, true)
	require.NoError(t, err)
	require.Len(t, activeOnly, 1)
	assert.Equal(t, active.ID, activeOnly[0].ID)
}

func TestPriceHistoryRequiresOwnership(t *testing.T) {
	service, _, ownerID, businessID := newTestService(t)

	p, err := service.Create(context.Background(), ownerID, businessID, CreateProductInput{Name: "Widget", Price: "10"})
	require.NoError(t, err)

	_, err = service.PriceHistory(context.Background(), uuid.New(), p.ID)
	assert.ErrorIs(t, err, shared.ErrForbidden)
}
