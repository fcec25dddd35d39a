// Package business manages business profiles owned by users.
package business

import (
	"time"

	"github.com/google/uuid"
)

// Business is a billing entity owned by a user. Invoices, products and
// income reports all hang off one business.
type Business struct {
	ID          uuid.UUID
	OwnerID     uuid.UUID
	Name        string
	Description string
	Address     string
	Phone       string
	Email       string
	Currency    string
	GSTNumber   *string
	LogoURL     *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DefaultCurrency is assigned when a business does not pick one.
const DefaultCurrency = "INR"

// CreateBusinessInput carries validated fields for creating a business.
type CreateBusinessInput struct {
	Name        string  `validate:"required,min=2,max=200"`
	Description string  `validate:"omitempty,max=1000"`
	Address     string  `validate:"required,max=500"`
	Phone       string  `validate:"required,max=32"`
	Email       string  `validate:"required,email"`
	Currency    string  `validate:"omitempty,len=3,alpha"`
	GSTNumber   *string `validate:"omitempty,max=32"`
}

// UpdateBusinessInput carries optional fields for updating a business.
// Nil fields are left unchanged.
type UpdateBusinessInput struct {
	Name        *string `validate:"omitempty,min=2,max=200"`
	Description *string `validate:"omitempty,max=1000"`
	Address     *string `validate:"omitempty,max=500"`
	Phone       *string `validate:"omitempty,max=32"`
	Email       *string `validate:"omitempty,email"`
	Currency    *string `validate:"omitempty,len=3,alpha"`
	GSTNumber   *string `validate:"omitempty,max=32"`
}
