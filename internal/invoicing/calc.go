package invoicing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var oneHundred = decimal.NewFromInt(100)

// Totals is the output of the invoice totals calculation.
type Totals struct {
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	TaxAmount      decimal.Decimal
	Total          decimal.Decimal
}

// RecomputeLineTotal derives LineTotal from Quantity and UnitPrice.
// Called on every item mutation; the stored value is never trusted.
func RecomputeLineTotal(item *LineItem) {
	item.LineTotal = decimal.NewFromInt(item.Quantity).Mul(item.UnitPrice)
}

// ComputeTotals aggregates line items into invoice totals. The
// discount applies to the subtotal, tax applies to the discounted
// amount. Pure and deterministic; rounding to the currency minor unit
// happens once, on the returned amounts, half up.
//
// Rates are percentages and must lie in [0,100].
func ComputeTotals(items []LineItem, discountRate, taxRate decimal.Decimal) (Totals, error) {
	if err := validateRate("discount", discountRate); err != nil {
		return Totals{}, err
	}
	if err := validateRate("tax", taxRate); err != nil {
		return Totals{}, err
	}

	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(decimal.NewFromInt(item.Quantity).Mul(item.UnitPrice))
	}

	discountAmount := subtotal.Mul(discountRate).Div(oneHundred)
	afterDiscount := subtotal.Sub(discountAmount)
	taxAmount := afterDiscount.Mul(taxRate).Div(oneHundred)
	total := afterDiscount.Add(taxAmount)

	return Totals{
		Subtotal:       subtotal.Round(2),
		DiscountAmount: discountAmount.Round(2),
		TaxAmount:      taxAmount.Round(2),
		Total:          total.Round(2),
	}, nil
}

func validateRate(name string, rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(oneHundred) {
		return fmt.Errorf("%w: %s rate %s", ErrInvalidRate, name, rate)
	}
	return nil
}
