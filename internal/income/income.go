// Package income computes period income statistics. Income counts
// only invoices with approved status; paid and every other status
// contribute nothing.
package income

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Stats bundles the three income figures shown on the dashboard.
type Stats struct {
	TotalIncome        decimal.Decimal
	CurrentMonthIncome decimal.Decimal
	CurrentYearIncome  decimal.Decimal
}

// Repository sums approved invoice totals. A nil date pair means an
// unrestricted sum; from is inclusive, to exclusive.
type Repository interface {
	SumApprovedForBusiness(ctx context.Context, businessID uuid.UUID, from, to *time.Time) (decimal.Decimal, error)
	SumApprovedForOwner(ctx context.Context, ownerID uuid.UUID, from, to *time.Time) (decimal.Decimal, error)
}

// BusinessGuard verifies business ownership before reporting.
type BusinessGuard interface {
	Owns(ctx context.Context, ownerID, businessID uuid.UUID) error
}

// Service computes income statistics on demand. Each call scans the
// approved invoices fresh; at small-business volumes a cached or
// incremental figure is not worth the consistency risk.
type Service struct {
	repo  Repository
	guard BusinessGuard
	now   func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository, guard BusinessGuard) *Service {
	return &Service{repo: repo, guard: guard, now: time.Now}
}

// BusinessStats returns income figures for one owned business. The
// three sums run concurrently.
func (s *Service) BusinessStats(ctx context.Context, ownerID, businessID uuid.UUID) (*Stats, error) {
	if err := s.guard.Owns(ctx, ownerID, businessID); err != nil {
		return nil, err
	}
	return s.collect(ctx, func(ctx context.Context, from, to *time.Time) (decimal.Decimal, error) {
		return s.repo.SumApprovedForBusiness(ctx, businessID, from, to)
	})
}

// OwnerStats returns income figures across all businesses of a user.
func (s *Service) OwnerStats(ctx context.Context, ownerID uuid.UUID) (*Stats, error) {
	return s.collect(ctx, func(ctx context.Context, from, to *time.Time) (decimal.Decimal, error) {
		return s.repo.SumApprovedForOwner(ctx, ownerID, from, to)
	})
}

func (s *Service) collect(ctx context.Context, sum func(context.Context, *time.Time, *time.Time) (decimal.Decimal, error)) (*Stats, error) {
	now := s.now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	monthEnd := monthStart.AddDate(0, 1, 0)
	yearStart := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location())
	yearEnd := yearStart.AddDate(1, 0, 0)

	var stats Stats
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		total, err := sum(gctx, nil, nil)
		if err == nil {
			stats.TotalIncome = total
		}
		return err
	})
	g.Go(func() error {
		total, err := sum(gctx, &monthStart, &monthEnd)
		if err == nil {
			stats.CurrentMonthIncome = total
		}
		return err
	})
	g.Go(func() error {
		total, err := sum(gctx, &yearStart, &yearEnd)
		if err == nil {
			stats.CurrentYearIncome = total
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &stats, nil
}
