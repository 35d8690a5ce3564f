// Package pricing resolves cart lines against the catalog and computes
// order totals. Nothing in this package mutates state.
package pricing

import (
	"context"
	"math"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/inventory"
	"github.com/xenking/storefront-checkout/internal/domain/product"
)

// Line is a cart line as submitted by the client.
type Line struct {
	ProductID       string
	VariantID       string
	Quantity        int
	SelectedOptions product.Options
}

// PricedLine is a Line with its price and name snapshot.
type PricedLine struct {
	Line
	Name       string
	CategoryID string
	UnitPrice  int64
	// Available is the stock observed during resolution.
	Available int
}

// ErrAmountOutOfRange is returned when a line amount or a subtotal does not
// fit in int64 minor units.
var ErrAmountOutOfRange = errors.New("amount out of range")

// Amount returns UnitPrice * Quantity.
func (l PricedLine) Amount() (int64, error) {
	if l.UnitPrice < 0 || l.Quantity < 0 {
		return 0, ErrAmountOutOfRange
	}
	if l.UnitPrice != 0 && int64(l.Quantity) > math.MaxInt64/l.UnitPrice {
		return 0, ErrAmountOutOfRange
	}
	return l.UnitPrice * int64(l.Quantity), nil
}

// Totals is the price breakdown of a cart.
type Totals struct {
	Subtotal        int64
	LoyaltyDiscount int64
	CouponDiscount  int64
	ShippingCost    int64
	Total           int64
}

// Compute assembles totals from the already computed parts.
func Compute(subtotal, loyaltyDiscount, couponDiscount int64, settings Settings) Totals {
	payable := max(0, subtotal-loyaltyDiscount-couponDiscount)
	shipping := settings.Shipping(subtotal)
	return Totals{
		Subtotal:        subtotal,
		LoyaltyDiscount: loyaltyDiscount,
		CouponDiscount:  couponDiscount,
		ShippingCost:    shipping,
		Total:           payable + shipping,
	}
}

// WithCouponDiscount returns a copy of t with the coupon discount replaced
// and the total recomputed.
func (t Totals) WithCouponDiscount(discount int64) Totals {
	payable := max(0, t.Subtotal-t.LoyaltyDiscount-discount)
	t.CouponDiscount = discount
	t.Total = payable + t.ShippingCost
	return t
}

// Subtotal sums line amounts.
func Subtotal(lines []PricedLine) (int64, error) {
	var sum int64
	for _, l := range lines {
		amount, err := l.Amount()
		if err != nil {
			return 0, errors.Wrapf(err, "product %s", l.ProductID)
		}
		if amount > math.MaxInt64-sum {
			return 0, ErrAmountOutOfRange
		}
		sum += amount
	}
	return sum, nil
}

// CouponItems converts priced lines for coupon discount calculation.
func CouponItems(lines []PricedLine) []coupon.Item {
	items := make([]coupon.Item, len(lines))
	for i, l := range lines {
		items[i] = coupon.Item{
			ProductID:  l.ProductID,
			CategoryID: l.CategoryID,
			Price:      l.UnitPrice,
			Quantity:   l.Quantity,
		}
	}
	return items
}

// StockLines converts priced lines for inventory reservation.
func StockLines(lines []PricedLine) []inventory.Line {
	out := make([]inventory.Line, len(lines))
	for i, l := range lines {
		out[i] = inventory.Line{
			ProductID: l.ProductID,
			VariantID: l.VariantID,
			Name:      l.Name,
			Quantity:  l.Quantity,
			Available: l.Available,
		}
	}
	return out
}

// Customer is the loyalty state of the ordering customer.
type Customer struct {
	TotalSpent int64
}

// Calculator prices carts against the catalog.
type Calculator struct {
	catalog product.Catalog
	coupons coupon.Store
	loyalty *Policy
	now     func() time.Time
}

// NewCalculator creates a Calculator. coupons is used for preview lookups
// only and never mutated.
func NewCalculator(catalog product.Catalog, coupons coupon.Store, loyalty *Policy) *Calculator {
	return &Calculator{
		catalog: catalog,
		coupons: coupons,
		loyalty: loyalty,
		now:     time.Now,
	}
}

// Resolve fetches products and variants for lines in two batch reads and
// snapshots unit price and name. A missing product or variant, or a variant
// that belongs to a different product, yields *product.UnknownItemError. A
// line whose amount overflows yields ErrAmountOutOfRange.
func (c *Calculator) Resolve(ctx context.Context, lines []Line) ([]PricedLine, error) {
	var productIDs, variantIDs []string
	for _, l := range lines {
		productIDs = append(productIDs, l.ProductID)
		if l.VariantID != "" {
			variantIDs = append(variantIDs, l.VariantID)
		}
	}

	products, err := c.catalog.ProductsByIDs(ctx, productIDs)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byProduct := make(map[string]product.Product, len(products))
	for _, p := range products {
		byProduct[p.ID] = p
	}

	byVariant := map[string]product.Variant{}
	if len(variantIDs) > 0 {
		variants, err := c.catalog.VariantsByIDs(ctx, variantIDs)
		if err != nil {
			return nil, errors.Wrap(err, "get variants")
		}
		for _, v := range variants {
			byVariant[v.ID] = v
		}
	}

	now := c.now()
	out := make([]PricedLine, len(lines))
	for i, l := range lines {
		p, ok := byProduct[l.ProductID]
		if !ok {
			return nil, &product.UnknownItemError{ProductID: l.ProductID, VariantID: l.VariantID}
		}
		pl := PricedLine{
			Line:       l,
			Name:       p.Name,
			CategoryID: p.CategoryID,
			UnitPrice:  p.EffectivePrice(now),
			Available:  p.Stock,
		}
		if l.VariantID != "" {
			v, ok := byVariant[l.VariantID]
			if !ok || v.ProductID != l.ProductID {
				return nil, &product.UnknownItemError{ProductID: l.ProductID, VariantID: l.VariantID}
			}
			pl.Name = p.Name + " - " + v.Name
			pl.UnitPrice = v.Price
			pl.Available = v.Stock
		}
		if _, err := pl.Amount(); err != nil {
			return nil, errors.Wrapf(err, "product %s", l.ProductID)
		}
		out[i] = pl
	}
	return out, nil
}

// Loyalty returns the loyalty discount for subtotal. A nil customer gets
// nothing.
func (c *Calculator) Loyalty(subtotal int64, customer *Customer) int64 {
	if customer == nil {
		return 0
	}
	return c.loyalty.Discount(subtotal, customer.TotalSpent)
}

// CouponDiscount previews the discount of code for lines. Unknown, inactive,
// expired, exhausted and inapplicable coupons contribute zero. Only store
// failures are returned as errors.
func (c *Calculator) CouponDiscount(ctx context.Context, code string, lines []PricedLine) (int64, error) {
	if code == "" {
		return 0, nil
	}
	cp, err := c.coupons.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, coupon.ErrInvalidCoupon) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "lookup coupon")
	}
	if cp.Check(c.now()) != nil {
		return 0, nil
	}
	discount, err := coupon.Apply(cp, CouponItems(lines))
	if err != nil {
		return 0, nil
	}
	return discount, nil
}

// ComputeTotals computes the full breakdown for resolved lines.
func (c *Calculator) ComputeTotals(
	ctx context.Context,
	lines []PricedLine,
	customer *Customer,
	couponCode string,
	settings Settings,
) (Totals, error) {
	subtotal, err := Subtotal(lines)
	if err != nil {
		return Totals{}, err
	}
	couponDiscount, err := c.CouponDiscount(ctx, couponCode, lines)
	if err != nil {
		return Totals{}, err
	}
	return Compute(subtotal, c.Loyalty(subtotal, customer), couponDiscount, settings), nil
}
