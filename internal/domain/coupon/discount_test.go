package coupon

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestApply(t *testing.T) {
	cart := []Item{
		{ProductID: "a", CategoryID: "shoes", Price: 1000, Quantity: 2},
		{ProductID: "b", CategoryID: "hats", Price: 500, Quantity: 1},
	}

	tests := []struct {
		name        string
		coupon      *Coupon
		items       []Item
		want        int64
		wantErr     error
		wantErrText string
	}{
		{
			name:   "percentage on whole cart",
			coupon: &Coupon{DiscountType: DiscountPercentage, DiscountValue: d("10")},
			items:  cart,
			want:   250,
		},
		{
			name:   "percentage rounds half up",
			coupon: &Coupon{DiscountType: DiscountPercentage, DiscountValue: d("15")},
			items:  []Item{{ProductID: "a", Price: 333, Quantity: 1}},
			// 333 * 15 / 100 = 49.95
			want: 50,
		},
		{
			name:   "fractional percentage",
			coupon: &Coupon{DiscountType: DiscountPercentage, DiscountValue: d("12.5")},
			items:  []Item{{ProductID: "a", Price: 1001, Quantity: 1}},
			// 125.125
			want: 125,
		},
		{
			name:   "percentage scoped to category",
			coupon: &Coupon{DiscountType: DiscountPercentage, DiscountValue: d("10"), CategoryID: "hats"},
			items:  cart,
			want:   50,
		},
		{
			name:   "percentage scoped to product set",
			coupon: &Coupon{DiscountType: DiscountPercentage, DiscountValue: d("50"), ProductIDs: []string{"a"}},
			items:  cart,
			want:   1000,
		},
		{
			name: "category and product scopes combine as union",
			coupon: &Coupon{
				DiscountType: DiscountPercentage, DiscountValue: d("10"),
				CategoryID: "hats", ProductIDs: []string{"a"},
			},
			items: cart,
			want:  250,
		},
		{
			name:    "scoped coupon with no matching line",
			coupon:  &Coupon{DiscountType: DiscountPercentage, DiscountValue: d("10"), CategoryID: "bags"},
			items:   cart,
			wantErr: ErrInvalidCoupon,
		},
		{
			name:   "fixed amount",
			coupon: &Coupon{DiscountType: DiscountFixed, DiscountValue: d("300")},
			items:  cart,
			want:   300,
		},
		{
			name:   "fixed amount larger than subtotal is not clamped",
			coupon: &Coupon{DiscountType: DiscountFixed, DiscountValue: d("10000")},
			items:  cart,
			want:   10000,
		},
		{
			name:   "negative value floors at zero",
			coupon: &Coupon{DiscountType: DiscountFixed, DiscountValue: d("-5")},
			items:  cart,
			want:   0,
		},
		{
			name:        "unsupported discount type",
			coupon:      &Coupon{DiscountType: DiscountType("BOGUS"), DiscountValue: d("10")},
			items:       cart,
			wantErrText: "unsupported discount type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply(tt.coupon, tt.items)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			if tt.wantErrText != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErrText)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoupon_Check(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	limit := 3

	assert.NoError(t, (&Coupon{IsActive: true}).Check(now))
	assert.ErrorIs(t, (&Coupon{}).Check(now), ErrInvalidCoupon)
	assert.ErrorIs(t, (&Coupon{IsActive: true, ExpiresAt: &past}).Check(now), ErrCouponExpired)
	assert.ErrorIs(t, (&Coupon{IsActive: true, UsageLimit: &limit, UsedCount: 3}).Check(now), ErrCouponUsageLimitReached)
	assert.NoError(t, (&Coupon{IsActive: true, UsageLimit: &limit, UsedCount: 2}).Check(now))
	// Expiry instant itself is still valid.
	assert.NoError(t, (&Coupon{IsActive: true, ExpiresAt: &now}).Check(now))
}
