// Package catalog manages products and their price audit trail.
package catalog

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product is a sellable item belonging to a business. Price is the
// only field with an audit trail.
type Product struct {
	ID          uuid.UUID
	BusinessID  uuid.UUID
	Name        string
	Description string
	Price       decimal.Decimal
	Category    *string
	SKU         *string
	Barcode     *string
	ImageURL    *string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PriceChange is one append-only audit entry recorded whenever a
// product's price changes. Entries are never mutated or deleted.
type PriceChange struct {
	ID        uuid.UUID
	ProductID uuid.UUID
	OldPrice  decimal.Decimal
	NewPrice  decimal.Decimal
	ChangedBy uuid.UUID
	Reason    *string
	ChangedAt time.Time
}

// CreateProductInput carries validated fields for creating a product.
type CreateProductInput struct {
	Name        string  `validate:"required,min=1,max=200"`
	Description string  `validate:"omitempty,max=1000"`
	Price       string  `validate:"required"`
	Category    *string `validate:"omitempty,max=100"`
	SKU         *string `validate:"omitempty,max=64"`
	Barcode     *string `validate:"omitempty,max=64"`
}

// UpdateProductInput carries optional fields for updating a product.
// Price is deliberately absent: price changes go through UpdatePrice
// so the audit trail stays complete.
type UpdateProductInput struct {
	Name        *string `validate:"omitempty,min=1,max=200"`
	Description *string `validate:"omitempty,max=1000"`
	Category    *string `validate:"omitempty,max=100"`
	SKU         *string `validate:"omitempty,max=64"`
	Barcode     *string `validate:"omitempty,max=64"`
	IsActive    *bool
}
