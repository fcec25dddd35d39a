package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrNotFound indicates the product does not exist.
var ErrNotFound = errors.New("catalog: not found")

// PGRepository provides PostgreSQL backed persistence for the catalog.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// TxRepository exposes operations that run inside a transaction.
type TxRepository interface {
	GetProductForUpdate(ctx context.Context, id uuid.UUID) (*Product, error)
	SetProductPrice(ctx context.Context, id uuid.UUID, price decimal.Decimal) error
	InsertPriceChange(ctx context.Context, change PriceChange) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps the callback in a repeatable-read transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if err := fn(ctx, &txRepo{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

const productColumns = `id, business_id, name, description, price, category, sku, barcode, image_url, is_active, created_at, updated_at`

// CreateProduct inserts a product row.
func (r *PGRepository) CreateProduct(ctx context.Context, p Product) error {
	query := `
		INSERT INTO products (id, business_id, name, description, price, category, sku, barcode, image_url, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())`
	_, err := r.pool.Exec(ctx, query,
		p.ID, p.BusinessID, p.Name, p.Description, p.Price,
		textOrNull(p.Category), textOrNull(p.SKU), textOrNull(p.Barcode), textOrNull(p.ImageURL),
		p.IsActive,
	)
	return err
}

// GetProduct fetches a single product.
func (r *PGRepository) GetProduct(ctx context.Context, id uuid.UUID) (*Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// ListProducts returns products of a business ordered by name.
func (r *PGRepository) ListProducts(ctx context.Context, businessID uuid.UUID, activeOnly bool) ([]Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE business_id = $1`
	if activeOnly {
		query += ` AND is_active`
	}
	query += ` ORDER BY name`
	rows, err := r.pool.Query(ctx, query, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// UpdateProduct rewrites mutable non-price columns.
func (r *PGRepository) UpdateProduct(ctx context.Context, p Product) error {
	query := `
		UPDATE products
		SET name = $2, description = $3, category = $4, sku = $5, barcode = $6, image_url = $7, is_active = $8, updated_at = NOW()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, p.ID, p.Name, p.Description,
		textOrNull(p.Category), textOrNull(p.SKU), textOrNull(p.Barcode), textOrNull(p.ImageURL),
		p.IsActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProduct removes a product row.
func (r *PGRepository) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPriceChanges returns the audit entries of a product, newest first.
func (r *PGRepository) ListPriceChanges(ctx context.Context, productID uuid.UUID) ([]PriceChange, error) {
	query := `
		SELECT id, product_id, old_price, new_price, changed_by, reason, changed_at
		FROM price_changes
		WHERE product_id = $1
		ORDER BY changed_at DESC`
	rows, err := r.pool.Query(ctx, query, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PriceChange
	for rows.Next() {
		var c PriceChange
		var reason pgtype.Text
		var changedAt pgtype.Timestamptz
		if err := rows.Scan(&c.ID, &c.ProductID, &c.OldPrice, &c.NewPrice, &c.ChangedBy, &reason, &changedAt); err != nil {
			return nil, err
		}
		if reason.Valid {
			val := reason.String
			c.Reason = &val
		}
		c.ChangedAt = changedAt.Time
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- transactional operations ---

func (t *txRepo) GetProductForUpdate(ctx context.Context, id uuid.UUID) (*Product, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (t *txRepo) SetProductPrice(ctx context.Context, id uuid.UUID, price decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `UPDATE products SET price = $2, updated_at = NOW() WHERE id = $1`, id, price)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) InsertPriceChange(ctx context.Context, change PriceChange) error {
	query := `
		INSERT INTO price_changes (id, product_id, old_price, new_price, changed_by, reason, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`
	_, err := t.tx.Exec(ctx, query,
		change.ID, change.ProductID, change.OldPrice, change.NewPrice, change.ChangedBy,
		textOrNull(change.Reason))
	return err
}

func scanProduct(row pgx.Row) (*Product, error) {
	var p Product
	var category, sku, barcode, image pgtype.Text
	var createdAt, updatedAt pgtype.Timestamptz
	err := row.Scan(&p.ID, &p.BusinessID, &p.Name, &p.Description, &p.Price,
		&category, &sku, &barcode, &image, &p.IsActive, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if category.Valid {
		val := category.String
		p.Category = &val
	}
	if sku.Valid {
		val := sku.String
		p.SKU = &val
	}
	if barcode.Valid {
		val := barcode.String
		p.Barcode = &val
	}
	if image.Valid {
		val := image.String
		p.ImageURL = &val
	}
	p.CreatedAt = createdAt.Time
	p.UpdatedAt = updatedAt.Time
	return &p, nil
}

func textOrNull(s *string) pgtype.Text {
	if s == nil || *s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: *s, Valid: true}
}

var _ Repository = (*PGRepository)(nil)
