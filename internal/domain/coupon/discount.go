package coupon

import (
	"github.com/go-faster/errors"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Eligible returns the items the coupon's scope applies to.
func Eligible(c *Coupon, items []Item) []Item {
	switch c.ApplicableType {
	case ApplicableProduct:
		return lo.Filter(items, func(it Item, _ int) bool {
			return lo.Contains(c.ApplicableIDs, it.ProductID)
		})
	case ApplicableCollection:
		return lo.Filter(items, func(it Item, _ int) bool {
			return inScope(c.ApplicableIDs, it.Category) || inScope(c.ApplicableIDs, it.Section)
		})
	default:
		return items
	}
}

// inScope reports whether a non-empty collection name is listed.
func inScope(ids []string, name string) bool {
	return name != "" && lo.Contains(ids, name)
}

// Subtotal returns the sum of line totals.
func Subtotal(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.LineTotal())
	}
	return total
}

// Amount computes the discount for an eligible subtotal. The result is never
// negative and never exceeds eligible.
func Amount(c *Coupon, eligible decimal.Decimal) (decimal.Decimal, error) {
	var d decimal.Decimal
	switch c.DiscountType {
	case DiscountPercentage:
		d = eligible.Mul(c.DiscountValue).Div(hundred)
	case DiscountFixed:
		d = c.DiscountValue
	default:
		return decimal.Zero, errors.Errorf("unsupported discount type: %q", c.DiscountType)
	}

	d = decimal.Min(d, eligible)
	if d.IsNegative() {
		d = decimal.Zero
	}
	return d.Round(2), nil
}
