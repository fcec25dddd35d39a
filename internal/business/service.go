package business

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/smallbill/smallbill/internal/shared"
)

// LogoStore persists uploaded logo images and returns their public URL.
type LogoStore interface {
	Save(ctx context.Context, businessID uuid.UUID, filename string, r io.Reader) (string, error)
}

// Service wraps business profile rules, including ownership checks.
type Service struct {
	repo  Repository
	logos LogoStore
}

// NewService constructs a Service.
func NewService(repo Repository, logos LogoStore) *Service {
	return &Service{repo: repo, logos: logos}
}

// Create registers a new business owned by ownerID.
func (s *Service) Create(ctx context.Context, ownerID uuid.UUID, input CreateBusinessInput) (*Business, error) {
	currency := strings.ToUpper(input.Currency)
	if currency == "" {
		currency = DefaultCurrency
	}
	b := Business{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		Name:        input.Name,
		Description: input.Description,
		Address:     input.Address,
		Phone:       input.Phone,
		Email:       input.Email,
		Currency:    currency,
		GSTNumber:   input.GSTNumber,
	}
	if err := s.repo.Create(ctx, b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Get returns a business after verifying the caller owns it.
func (s *Service) Get(ctx context.Context, ownerID, id uuid.UUID) (*Business, error) {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.OwnerID != ownerID {
		return nil, shared.ErrForbidden
	}
	return b, nil
}

// Owns verifies the caller owns the business, without loading it for
// the caller. Other modules use this as their ownership guard.
func (s *Service) Owns(ctx context.Context, ownerID, id uuid.UUID) error {
	_, err := s.Get(ctx, ownerID, id)
	return err
}

// List returns all businesses owned by the caller.
func (s *Service) List(ctx context.Context, ownerID uuid.UUID) ([]Business, error) {
	return s.repo.ListByOwner(ctx, ownerID)
}

// Update applies the non-nil fields of input to an owned business.
func (s *Service) Update(ctx context.Context, ownerID, id uuid.UUID, input UpdateBusinessInput) (*Business, error) {
	b, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if input.Name != nil {
		b.Name = *input.Name
	}
	if input.Description != nil {
		b.Description = *input.Description
	}
	if input.Address != nil {
		b.Address = *input.Address
	}
	if input.Phone != nil {
		b.Phone = *input.Phone
	}
	if input.Email != nil {
		b.Email = *input.Email
	}
	if input.Currency != nil {
		b.Currency = strings.ToUpper(*input.Currency)
	}
	if input.GSTNumber != nil {
		b.GSTNumber = input.GSTNumber
	}
	if err := s.repo.Update(ctx, *b); err != nil {
		return nil, err
	}
	return b, nil
}

// Delete removes an owned business.
func (s *Service) Delete(ctx context.Context, ownerID, id uuid.UUID) error {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

// UploadLogo stores a logo image for an owned business and records its URL.
func (s *Service) UploadLogo(ctx context.Context, ownerID, id uuid.UUID, filename string, r io.Reader) (string, error) {
	if s.logos == nil {
		return "", errors.New("business: logo storage not configured")
	}
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return "", err
	}
	url, err := s.logos.Save(ctx, id, filename, r)
	if err != nil {
		return "", err
	}
	if err := s.repo.UpdateLogoURL(ctx, id, url); err != nil {
		return "", err
	}
	return url, nil
}
