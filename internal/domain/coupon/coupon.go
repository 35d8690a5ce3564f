package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage off the applicable subtotal.
	DiscountPercentage DiscountType = "PERCENTAGE"
	// DiscountFixed takes a flat amount in minor units off the order.
	DiscountFixed DiscountType = "FIXED"
)

var (
	// ErrInvalidCoupon is returned when a coupon code is unknown, inactive,
	// or has no line it can apply to.
	ErrInvalidCoupon = errors.New("invalid coupon code")
	// ErrCouponExpired is returned when a coupon is past its expiry time.
	ErrCouponExpired = errors.New("coupon expired")
	// ErrCouponUsageLimitReached is returned when a coupon has exhausted its allowed uses.
	ErrCouponUsageLimitReached = errors.New("coupon usage limit reached")
)

// Coupon is a discount code and its eligibility constraints.
type Coupon struct {
	ID            string
	Code          string
	DiscountType  DiscountType
	DiscountValue decimal.Decimal
	IsActive      bool
	UsageLimit    *int
	UsedCount     int
	ExpiresAt     *time.Time
	CategoryID    string
	ProductIDs    []string
}

// Scoped reports whether the coupon only applies to a subset of the cart.
func (c *Coupon) Scoped() bool {
	return c.CategoryID != "" || len(c.ProductIDs) > 0
}

// Check validates activity, expiry and usage limit at now.
func (c *Coupon) Check(now time.Time) error {
	if !c.IsActive {
		return ErrInvalidCoupon
	}
	if c.ExpiresAt != nil && now.After(*c.ExpiresAt) {
		return ErrCouponExpired
	}
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return ErrCouponUsageLimitReached
	}
	return nil
}

// Item is a priced cart line for discount calculation purposes.
type Item struct {
	ProductID  string
	CategoryID string
	Price      int64
	Quantity   int
}

// Store provides coupon lookup and usage accounting. Implementations bound
// to a transaction make these calls part of the enclosing unit of work.
type Store interface {
	// FindByCode looks a coupon up case-insensitively. It returns
	// ErrInvalidCoupon when no coupon has that code.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	// IncrementUsage bumps used_count by one unless the usage limit is
	// reached. It reports false when no row was updated.
	IncrementUsage(ctx context.Context, id string) (bool, error)
	// DecrementUsage lowers used_count by one, never below zero.
	DecrementUsage(ctx context.Context, id string) error
}
