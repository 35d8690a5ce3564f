package coupon

import (
	"slices"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Apply calculates the discount in minor units for the coupon against the
// given items. Scoped coupons only discount matching items; a scoped coupon
// matching nothing is ErrInvalidCoupon. Validity (activity, expiry, limits)
// is checked separately by Coupon.Check.
//
// FIXED discounts are not clamped here; the order total is floored at zero.
func Apply(c *Coupon, items []Item) (int64, error) {
	base, matched := applicableSubtotal(c, items)
	if c.Scoped() && !matched {
		return 0, ErrInvalidCoupon
	}

	switch c.DiscountType {
	case DiscountPercentage:
		amount := decimal.NewFromInt(base).Mul(c.DiscountValue).Div(hundred).Round(0)
		return floorAtZero(amount.IntPart()), nil
	case DiscountFixed:
		return floorAtZero(c.DiscountValue.Round(0).IntPart()), nil
	default:
		return 0, errors.Errorf("unsupported discount type: %q", c.DiscountType)
	}
}

// applicableSubtotal sums price * quantity of the items the coupon applies
// to. An item matches a scoped coupon if it is in the category or in the
// product set.
func applicableSubtotal(c *Coupon, items []Item) (sum int64, matched bool) {
	for _, item := range items {
		if c.Scoped() && !matches(c, item) {
			continue
		}
		matched = true
		sum += item.Price * int64(item.Quantity)
	}
	return sum, matched
}

func matches(c *Coupon, item Item) bool {
	if c.CategoryID != "" && item.CategoryID == c.CategoryID {
		return true
	}
	return slices.Contains(c.ProductIDs, item.ProductID)
}

func floorAtZero(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
