package invoicing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the persistence surface the service depends on.
type Repository interface {
	GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error)
	ListInvoices(ctx context.Context, businessID uuid.UUID, limit, offset int) ([]Invoice, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to InvoiceStatus, paidAt *time.Time) error
	DeleteInvoice(ctx context.Context, id uuid.UUID) error
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes operations that run inside a transaction.
type TxRepository interface {
	CountInvoicesForMonth(ctx context.Context, businessID uuid.UUID, year int, month time.Month) (int64, error)
	InsertInvoice(ctx context.Context, inv Invoice) error
	UpdateInvoice(ctx context.Context, inv Invoice) error
	DeleteInvoiceItems(ctx context.Context, invoiceID uuid.UUID) error
	InsertInvoiceItem(ctx context.Context, invoiceID uuid.UUID, position int, item LineItem) error
}

// PGRepository provides PostgreSQL backed persistence for invoices.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
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

const invoiceColumns = `id, business_id, invoice_number,
	customer_name, customer_email, customer_phone, customer_address,
	subtotal, discount_rate, discount_amount, tax_rate, tax_amount, total,
	status, invoice_date, due_date, paid_at, notes,
	pref_item_label, pref_quantity_label, pref_price_label, pref_total_label,
	created_at, updated_at`

// GetInvoice fetches an invoice with its ordered line items.
func (r *PGRepository) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
	inv, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	items, err := r.loadItems(ctx, id)
	if err != nil {
		return nil, err
	}
	inv.Items = items
	return inv, nil
}

// ListInvoices returns one page of a business's invoices, newest first,
// with their items loaded.
func (r *PGRepository) ListInvoices(ctx context.Context, businessID uuid.UUID, limit, offset int) ([]Invoice, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE business_id = $1 ORDER BY invoice_date DESC, created_at DESC LIMIT $2 OFFSET $3`, businessID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		items, err := r.loadItems(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Items = items
	}
	return out, nil
}

// UpdateStatus moves an invoice between statuses. The expected current
// status is part of the predicate so a concurrent transition loses.
func (r *PGRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to InvoiceStatus, paidAt *time.Time) error {
	query := `
		UPDATE invoices
		SET status = $3, paid_at = COALESCE($4, paid_at), updated_at = NOW()
		WHERE id = $1 AND status = $2`
	var paid pgtype.Timestamptz
	if paidAt != nil {
		paid = pgtype.Timestamptz{Time: paidAt.UTC(), Valid: true}
	}
	tag, err := r.pool.Exec(ctx, query, id, from, to, paid)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidStatus
	}
	return nil
}

// DeleteInvoice hard-deletes an invoice and its items.
func (r *PGRepository) DeleteInvoice(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM invoices WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) loadItems(ctx context.Context, invoiceID uuid.UUID) ([]LineItem, error) {
	query := `
		SELECT kind, product_id, name, description, quantity, unit_price, line_total
		FROM invoice_items
		WHERE invoice_id = $1
		ORDER BY position`
	rows, err := r.pool.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []LineItem
	for rows.Next() {
		var item LineItem
		var productID pgtype.UUID
		if err := rows.Scan(&item.Kind, &productID, &item.Name, &item.Description, &item.Quantity, &item.UnitPrice, &item.LineTotal); err != nil {
			return nil, err
		}
		if productID.Valid {
			val := uuid.UUID(productID.Bytes)
			item.ProductID = &val
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// --- transactional operations ---

func (t *txRepo) CountInvoicesForMonth(ctx context.Context, businessID uuid.UUID, year int, month time.Month) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM invoices
		WHERE business_id = $1
		  AND EXTRACT(YEAR FROM invoice_date) = $2
		  AND EXTRACT(MONTH FROM invoice_date) = $3`
	var count int64
	err := t.tx.QueryRow(ctx, query, businessID, year, int(month)).Scan(&count)
	return count, err
}

func (t *txRepo) InsertInvoice(ctx context.Context, inv Invoice) error {
	query := `
		INSERT INTO invoices (
			id, business_id, invoice_number,
			customer_name, customer_email, customer_phone, customer_address,
			subtotal, discount_rate, discount_amount, tax_rate, tax_amount, total,
			status, invoice_date, due_date, paid_at, notes,
			pref_item_label, pref_quantity_label, pref_price_label, pref_total_label,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, NOW(), NOW())`
	prefs := inv.Preferences
	if prefs == nil {
		prefs = &DisplayPreferences{}
	}
	_, err := t.tx.Exec(ctx, query,
		inv.ID, inv.BusinessID, inv.InvoiceNumber,
		inv.Customer.Name, textOrNull(inv.Customer.Email), textOrNull(inv.Customer.Phone), textOrNull(inv.Customer.Address),
		inv.Subtotal, inv.DiscountRate, inv.DiscountAmount, inv.TaxRate, inv.TaxAmount, inv.Total,
		inv.Status, inv.InvoiceDate, dateOrNull(inv.DueDate), timestampOrNull(inv.PaidAt), inv.Notes,
		textOrNull(prefs.ItemLabel), textOrNull(prefs.QuantityLabel), textOrNull(prefs.PriceLabel), textOrNull(prefs.TotalLabel),
	)
	return err
}

func (t *txRepo) UpdateInvoice(ctx context.Context, inv Invoice) error {
	query := `
		UPDATE invoices
		SET customer_name = $2, customer_email = $3, customer_phone = $4, customer_address = $5,
		    subtotal = $6, discount_rate = $7, discount_amount = $8, tax_rate = $9, tax_amount = $10, total = $11,
		    invoice_date = $12, due_date = $13, notes = $14,
		    pref_item_label = $15, pref_quantity_label = $16, pref_price_label = $17, pref_total_label = $18,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'draft'`
	prefs := inv.Preferences
	if prefs == nil {
		prefs = &DisplayPreferences{}
	}
	tag, err := t.tx.Exec(ctx, query,
		inv.ID,
		inv.Customer.Name, textOrNull(inv.Customer.Email), textOrNull(inv.Customer.Phone), textOrNull(inv.Customer.Address),
		inv.Subtotal, inv.DiscountRate, inv.DiscountAmount, inv.TaxRate, inv.TaxAmount, inv.Total,
		inv.InvoiceDate, dateOrNull(inv.DueDate), inv.Notes,
		textOrNull(prefs.ItemLabel), textOrNull(prefs.QuantityLabel), textOrNull(prefs.PriceLabel), textOrNull(prefs.TotalLabel),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidStatus
	}
	return nil
}

func (t *txRepo) DeleteInvoiceItems(ctx context.Context, invoiceID uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM invoice_items WHERE invoice_id = $1`, invoiceID)
	return err
}

func (t *txRepo) InsertInvoiceItem(ctx context.Context, invoiceID uuid.UUID, position int, item LineItem) error {
	query := `
		INSERT INTO invoice_items (invoice_id, position, kind, product_id, name, description, quantity, unit_price, line_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	var productID pgtype.UUID
	if item.ProductID != nil {
		productID = pgtype.UUID{Bytes: *item.ProductID, Valid: true}
	}
	_, err := t.tx.Exec(ctx, query,
		invoiceID, position, item.Kind, productID,
		item.Name, item.Description, item.Quantity, item.UnitPrice, item.LineTotal,
	)
	return err
}

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	var email, phone, address, prefItem, prefQty, prefPrice, prefTotal pgtype.Text
	var dueDate pgtype.Date
	var paidAt, createdAt, updatedAt pgtype.Timestamptz
	err := row.Scan(
		&inv.ID, &inv.BusinessID, &inv.InvoiceNumber,
		&inv.Customer.Name, &email, &phone, &address,
		&inv.Subtotal, &inv.DiscountRate, &inv.DiscountAmount, &inv.TaxRate, &inv.TaxAmount, &inv.Total,
		&inv.Status, &inv.InvoiceDate, &dueDate, &paidAt, &inv.Notes,
		&prefItem, &prefQty, &prefPrice, &prefTotal,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if email.Valid {
		val := email.String
		inv.Customer.Email = &val
	}
	if phone.Valid {
		val := phone.String
		inv.Customer.Phone = &val
	}
	if address.Valid {
		val := address.String
		inv.Customer.Address = &val
	}
	if dueDate.Valid {
		val := dueDate.Time
		inv.DueDate = &val
	}
	if paidAt.Valid {
		val := paidAt.Time
		inv.PaidAt = &val
	}
	if prefItem.Valid || prefQty.Valid || prefPrice.Valid || prefTotal.Valid {
		prefs := DisplayPreferences{}
		if prefItem.Valid {
			val := prefItem.String
			prefs.ItemLabel = &val
		}
		if prefQty.Valid {
			val := prefQty.String
			prefs.QuantityLabel = &val
		}
		if prefPrice.Valid {
			val := prefPrice.String
			prefs.PriceLabel = &val
		}
		if prefTotal.Valid {
			val := prefTotal.String
			prefs.TotalLabel = &val
		}
		inv.Preferences = &prefs
	}
	inv.CreatedAt = createdAt.Time
	inv.UpdatedAt = updatedAt.Time
	return &inv, nil
}

func textOrNull(s *string) pgtype.Text {
	if s == nil || *s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func dateOrNull(t *time.Time) pgtype.Date {
	if t == nil {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: *t, Valid: true}
}

func timestampOrNull(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t.UTC(), Valid: true}
}

var _ Repository = (*PGRepository)(nil)
