package invoicing

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestComputeTotalsDiscountThenTax(t *testing.T) {
	items := []LineItem{
		{Quantity: 2, UnitPrice: dec("50.00")},
	}

	totals, err := ComputeTotals(items, dec("10"), dec("5"))
	require.NoError(t, err)

	// 100 subtotal, 10% discount = 10, tax on 90 at 5% = 4.50
	assert.True(t, totals.Subtotal.Equal(dec("100.00")), "subtotal %s", totals.Subtotal)
	assert.True(t, totals.DiscountAmount.Equal(dec("10.00")), "discount %s", totals.DiscountAmount)
	assert.True(t, totals.TaxAmount.Equal(dec("4.50")), "tax %s", totals.TaxAmount)
	assert.True(t, totals.Total.Equal(dec("94.50")), "total %s", totals.Total)
}

func TestComputeTotalsNoItems(t *testing.T) {
	totals, err := ComputeTotals(nil, decimal.Zero, decimal.Zero)
	require.NoError(t, err)

	assert.True(t, totals.Subtotal.IsZero())
	assert.True(t, totals.DiscountAmount.IsZero())
	assert.True(t, totals.TaxAmount.IsZero())
	assert.True(t, totals.Total.IsZero())
}

func TestComputeTotalsRoundsHalfUp(t *testing.T) {
	items := []LineItem{
		{Quantity: 1, UnitPrice: dec("10.00")},
	}

	totals, err := ComputeTotals(items, dec("33.33"), decimal.Zero)
	require.NoError(t, err)

	// 10 * 33.33% = 3.333, rounded to 3.33; total from the exact
	// intermediate: 10 - 3.333 = 6.667, rounded to 6.67.
	assert.True(t, totals.DiscountAmount.Equal(dec("3.33")), "discount %s", totals.DiscountAmount)
	assert.True(t, totals.Total.Equal(dec("6.67")), "total %s", totals.Total)
}

func TestComputeTotalsRejectsBadRates(t *testing.T) {
	items := []LineItem{{Quantity: 1, UnitPrice: dec("10")}}

	cases := []struct {
		name     string
		discount decimal.Decimal
		tax      decimal.Decimal
	}{
		{"negative discount", dec("-1"), decimal.Zero},
		{"discount above 100", dec("100.01"), decimal.Zero},
		{"negative tax", decimal.Zero, dec("-0.5")},
		{"tax above 100", decimal.Zero, dec("101")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ComputeTotals(items, tc.discount, tc.tax)
			assert.ErrorIs(t, err, ErrInvalidRate)
		})
	}
}

func TestComputeTotalsBoundaryRates(t *testing.T) {
	items := []LineItem{{Quantity: 1, UnitPrice: dec("200")}}

	totals, err := ComputeTotals(items, dec("100"), dec("100"))
	require.NoError(t, err)
	assert.True(t, totals.DiscountAmount.Equal(dec("200.00")))
	assert.True(t, totals.Total.IsZero(), "total %s", totals.Total)

	totals, err = ComputeTotals(items, decimal.Zero, decimal.Zero)
	require.NoError(t, err)
	assert.True(t, totals.Total.Equal(totals.Subtotal))
}

func TestComputeTotalsRandomisedInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(0xb111))

	for i := 0; i < 200; i++ {
		n := 1 + rng.Intn(5)
		items := make([]LineItem, n)
		for j := range items {
			items[j] = LineItem{
				Quantity:  int64(rng.Intn(20)),
				UnitPrice: decimal.NewFromInt(int64(rng.Intn(100000))).Div(dec("100")),
			}
		}
		discount := decimal.NewFromInt(int64(rng.Intn(101)))
		tax := decimal.NewFromInt(int64(rng.Intn(101)))

		totals, err := ComputeTotals(items, discount, tax)
		require.NoError(t, err)

		assert.False(t, totals.Subtotal.IsNegative())
		assert.False(t, totals.Total.IsNegative(), "total %s with discount %s tax %s", totals.Total, discount, tax)
		assert.True(t, totals.DiscountAmount.LessThanOrEqual(totals.Subtotal))

		// Whole-percent rates on cent-precision items give exact
		// component sums after rounding.
		expected := totals.Subtotal.Sub(totals.DiscountAmount).Add(totals.TaxAmount)
		diff := totals.Total.Sub(expected).Abs()
		assert.True(t, diff.LessThanOrEqual(dec("0.02")), "total %s drifted %s from components", totals.Total, diff)
	}
}

func TestRecomputeLineTotal(t *testing.T) {
	item := LineItem{Quantity: 3, UnitPrice: dec("19.99"), LineTotal: dec("999")}
	RecomputeLineTotal(&item)
	assert.True(t, item.LineTotal.Equal(dec("59.97")), "line total %s", item.LineTotal)

	item = LineItem{Quantity: 0, UnitPrice: dec("19.99")}
	RecomputeLineTotal(&item)
	assert.True(t, item.LineTotal.IsZero())
}
