package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Reservation is a coupon use recorded inside an order transaction.
type Reservation struct {
	CouponID string
	Code     string
	Discount int64
}

// Ledger validates coupons at commit time and accounts for their usage.
// The store passed to each call decides which transaction the work joins.
type Ledger struct {
	now func() time.Time
}

// NewLedger creates a Ledger using the wall clock.
func NewLedger() *Ledger {
	return &Ledger{now: time.Now}
}

// ValidateAndReserve re-reads the coupon through store, re-checks validity,
// recomputes the discount for items, and consumes one use. A preview that
// saw the coupon as valid does not matter here: this check is authoritative.
func (l *Ledger) ValidateAndReserve(ctx context.Context, store Store, code string, items []Item) (*Reservation, error) {
	c, err := store.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrInvalidCoupon) {
			return nil, ErrInvalidCoupon
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if err := c.Check(l.now()); err != nil {
		return nil, err
	}

	discount, err := Apply(c, items)
	if err != nil {
		return nil, err
	}

	ok, err := store.IncrementUsage(ctx, c.ID)
	if err != nil {
		return nil, errors.Wrap(err, "increment coupon usage")
	}
	if !ok {
		// Another checkout took the last use between our read and update.
		return nil, ErrCouponUsageLimitReached
	}

	return &Reservation{
		CouponID: c.ID,
		Code:     c.Code,
		Discount: discount,
	}, nil
}

// Release gives back one use of the coupon. Used only when compensating a
// cancelled order.
func (l *Ledger) Release(ctx context.Context, store Store, couponID string) error {
	if err := store.DecrementUsage(ctx, couponID); err != nil {
		return errors.Wrap(err, "decrement coupon usage")
	}
	return nil
}
