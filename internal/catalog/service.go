package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrInvalidPrice indicates a negative or unparsable price.
var ErrInvalidPrice = errors.New("catalog: invalid price")

// BusinessGuard verifies a user owns a business before catalog writes.
type BusinessGuard interface {
	Owns(ctx context.Context, ownerID, businessID uuid.UUID) error
}

// Repository is the persistence surface the service depends on.
type Repository interface {
	CreateProduct(ctx context.Context, p Product) error
	GetProduct(ctx context.Context, id uuid.UUID) (*Product, error)
	ListProducts(ctx context.Context, businessID uuid.UUID, activeOnly bool) ([]Product, error)
	UpdateProduct(ctx context.Context, p Product) error
	DeleteProduct(ctx context.Context, id uuid.UUID) error
	ListPriceChanges(ctx context.Context, productID uuid.UUID) ([]PriceChange, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// Service wraps catalog business rules.
type Service struct {
	repo  Repository
	guard BusinessGuard
}

// NewService constructs a Service.
func NewService(repo Repository, guard BusinessGuard) *Service {
	return &Service{repo: repo, guard: guard}
}

// Create adds a product to an owned business.
func (s *Service) Create(ctx context.Context, ownerID, businessID uuid.UUID, input CreateProductInput) (*Product, error) {
	if err := s.guard.Owns(ctx, ownerID, businessID); err != nil {
		return nil, err
	}
	price, err := parsePrice(input.Price)
	if err != nil {
		return nil, err
	}
	p := Product{
		ID:          uuid.New(),
		BusinessID:  businessID,
		Name:        input.Name,
		Description: input.Description,
		Price:       price,
		Category:    input.Category,
		SKU:         input.SKU,
		Barcode:     input.Barcode,
		IsActive:    true,
	}
	if err := s.repo.CreateProduct(ctx, p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Get returns a product of an owned business.
func (s *Service) Get(ctx context.Context, ownerID, productID uuid.UUID) (*Product, error) {
	p, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Owns(ctx, ownerID, p.BusinessID); err != nil {
		return nil, err
	}
	return p, nil
}

// List returns products of an owned business.
func (s *Service) List(ctx context.Context, ownerID, businessID uuid.UUID, activeOnly bool) ([]Product, error) {
	if err := s.guard.Owns(ctx, ownerID, businessID); err != nil {
		return nil, err
	}
	return s.repo.ListProducts(ctx, businessID, activeOnly)
}

// Update applies non-price changes to a product.
func (s *Service) Update(ctx context.Context, ownerID, productID uuid.UUID, input UpdateProductInput) (*Product, error) {
	p, err := s.Get(ctx, ownerID, productID)
	if err != nil {
		return nil, err
	}
	if input.Name != nil {
		p.Name = *input.Name
	}
	if input.Description != nil {
		p.Description = *input.Description
	}
	if input.Category != nil {
		p.Category = input.Category
	}
	if input.SKU != nil {
		p.SKU = input.SKU
	}
	if input.Barcode != nil {
		p.Barcode = input.Barcode
	}
	if input.IsActive != nil {
		p.IsActive = *input.IsActive
	}
	if err := s.repo.UpdateProduct(ctx, *p); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdatePrice changes a product price and records the audit entry in
// the same transaction. An unchanged price writes nothing.
func (s *Service) UpdatePrice(ctx context.Context, ownerID, productID uuid.UUID, rawPrice string, reason *string) (*Product, error) {
	newPrice, err := parsePrice(rawPrice)
	if err != nil {
		return nil, err
	}
	p, err := s.Get(ctx, ownerID, productID)
	if err != nil {
		return nil, err
	}
	if p.Price.Equal(newPrice) {
		return p, nil
	}
	if reason == nil || *reason == "" {
		def := "Price update"
		reason = &def
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetProductForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		if locked.Price.Equal(newPrice) {
			return nil
		}
		if err := tx.SetProductPrice(ctx, productID, newPrice); err != nil {
			return err
		}
		return tx.InsertPriceChange(ctx, PriceChange{
			ID:        uuid.New(),
			ProductID: productID,
			OldPrice:  locked.Price,
			NewPrice:  newPrice,
			ChangedBy: ownerID,
			Reason:    reason,
		})
	})
	if err != nil {
		return nil, err
	}
	p.Price = newPrice
	return p, nil
}

// Delete removes a product of an owned business.
func (s *Service) Delete(ctx context.Context, ownerID, productID uuid.UUID) error {
	if _, err := s.Get(ctx, ownerID, productID); err != nil {
		return err
	}
	return s.repo.DeleteProduct(ctx, productID)
}

// PriceHistory returns the audit entries of an owned product.
func (s *Service) PriceHistory(ctx context.Context, ownerID, productID uuid.UUID) ([]PriceChange, error) {
	if _, err := s.Get(ctx, ownerID, productID); err != nil {
		return nil, err
	}
	return s.repo.ListPriceChanges(ctx, productID)
}

func parsePrice(raw string) (decimal.Decimal, error) {
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidPrice, raw)
	}
	if price.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: must not be negative", ErrInvalidPrice)
	}
	return price.Round(2), nil
}
