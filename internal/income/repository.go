package income

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PGRepository sums approved invoice totals on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// SumApprovedForBusiness sums approved invoice totals of one business.
func (r *PGRepository) SumApprovedForBusiness(ctx context.Context, businessID uuid.UUID, from, to *time.Time) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(total), 0)
		FROM invoices
		WHERE business_id = $1 AND status = 'approved'`
	args := []any{businessID}
	query, args = appendDateRange(query, args, "invoice_date", from, to)

	var sum decimal.Decimal
	err := r.pool.QueryRow(ctx, query, args...).Scan(&sum)
	return sum, err
}

// SumApprovedForOwner sums approved invoice totals across every
// business owned by the user.
func (r *PGRepository) SumApprovedForOwner(ctx context.Context, ownerID uuid.UUID, from, to *time.Time) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(i.total), 0)
		FROM invoices i
		JOIN businesses b ON b.id = i.business_id
		WHERE b.owner_id = $1 AND i.status = 'approved'`
	args := []any{ownerID}
	query, args = appendDateRange(query, args, "i.invoice_date", from, to)

	var sum decimal.Decimal
	err := r.pool.QueryRow(ctx, query, args...).Scan(&sum)
	return sum, err
}

func appendDateRange(query string, args []any, column string, from, to *time.Time) (string, []any) {
	if from != nil {
		args = append(args, *from)
		query += ` AND ` + column + ` >= $` + strconv.Itoa(len(args))
	}
	if to != nil {
		args = append(args, *to)
		query += ` AND ` + column + ` < $` + strconv.Itoa(len(args))
	}
	return query, args
}

var _ Repository = (*PGRepository)(nil)
