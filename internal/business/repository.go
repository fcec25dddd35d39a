package business

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the business does not exist.
var ErrNotFound = errors.New("business: not found")

// Repository defines persistence operations for businesses.
type Repository interface {
	Create(ctx context.Context, b Business) error
	GetByID(ctx context.Context, id uuid.UUID) (*Business, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]Business, error)
	Update(ctx context.Context, b Business) error
	UpdateLogoURL(ctx context.Context, id uuid.UUID, logoURL string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Create inserts a business row.
func (r *PGRepository) Create(ctx context.Context, b Business) error {
	query := `
		INSERT INTO businesses (id, owner_id, name, description, address, phone, email, currency, gst_number, logo_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())`
	_, err := r.pool.Exec(ctx, query,
		b.ID, b.OwnerID, b.Name, b.Description, b.Address, b.Phone, b.Email, b.Currency,
		textOrNull(b.GSTNumber), textOrNull(b.LogoURL),
	)
	return err
}

// GetByID fetches a single business.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*Business, error) {
	query := `
		SELECT id, owner_id, name, description, address, phone, email, currency, gst_number, logo_url, created_at, updated_at
		FROM businesses
		WHERE id = $1`
	b, err := scanBusiness(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

// ListByOwner returns all businesses owned by a user, newest first.
func (r *PGRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]Business, error) {
	query := `
		SELECT id, owner_id, name, description, address, phone, email, currency, gst_number, logo_url, created_at, updated_at
		FROM businesses
		WHERE owner_id = $1
		ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Business
	for rows.Next() {
		b, err := scanBusiness(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// Update rewrites the mutable business columns.
func (r *PGRepository) Update(ctx context.Context, b Business) error {
	query := `
		UPDATE businesses
		SET name = $2, description = $3, address = $4, phone = $5, email = $6, currency = $7, gst_number = $8, updated_at = NOW()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, b.ID, b.Name, b.Description, b.Address, b.Phone, b.Email, b.Currency, textOrNull(b.GSTNumber))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLogoURL stores the public URL of an uploaded logo.
func (r *PGRepository) UpdateLogoURL(ctx context.Context, id uuid.UUID, logoURL string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE businesses SET logo_url = $2, updated_at = NOW() WHERE id = $1`, id, logoURL)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a business row.
func (r *PGRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM businesses WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanBusiness(row pgx.Row) (*Business, error) {
	var b Business
	var gst, logo pgtype.Text
	var createdAt, updatedAt pgtype.Timestamptz
	if err := row.Scan(&b.ID, &b.OwnerID, &b.Name, &b.Description, &b.Address, &b.Phone, &b.Email, &b.Currency, &gst, &logo, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if gst.Valid {
		val := gst.String
		b.GSTNumber = &val
	}
	if logo.Valid {
		val := logo.String
		b.LogoURL = &val
	}
	b.CreatedAt = createdAt.Time
	b.UpdatedAt = updatedAt.Time
	return &b, nil
}

func textOrNull(s *string) pgtype.Text {
	if s == nil || *s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: *s, Valid: true}
}

var _ Repository = (*PGRepository)(nil)
