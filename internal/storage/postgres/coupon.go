package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/internal/domain/coupon"
)

const (
	getCouponByCodeSQL = `SELECT id, code, discount_type, discount_value, is_active,
		usage_limit, used_count, expires_at, COALESCE(category_id, ''), product_ids
		FROM coupons WHERE UPPER(code) = UPPER($1)`

	incrementCouponUsageSQL = `UPDATE coupons SET used_count = used_count + 1
		WHERE id = $1 AND (usage_limit IS NULL OR used_count < usage_limit)`

	decrementCouponUsageSQL = `UPDATE coupons SET used_count = used_count - 1
		WHERE id = $1 AND used_count > 0`
)

var _ coupon.Store = (*CouponRepository)(nil)

// CouponRepository implements coupon.Store backed by PostgreSQL.
type CouponRepository struct {
	db dbtx
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{db: pool}
}

// FindByCode looks up a coupon by code, case-insensitively. Inactive coupons
// are returned too; validity is the caller's decision.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.db.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, errors.Wrapf(err, "find coupon by code %q", code)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrInvalidCoupon
		}
		return nil, errors.Wrapf(err, "find coupon by code %q", code)
	}
	return &c, nil
}

// IncrementUsage consumes one use unless the limit is already reached.
func (r *CouponRepository) IncrementUsage(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Exec(ctx, incrementCouponUsageSQL, id)
	if err != nil {
		return false, errors.Wrapf(err, "increment usage of coupon %q", id)
	}
	return tag.RowsAffected() == 1, nil
}

// DecrementUsage gives one use back, never going below zero.
func (r *CouponRepository) DecrementUsage(ctx context.Context, id string) error {
	if _, err := r.db.Exec(ctx, decrementCouponUsageSQL, id); err != nil {
		return errors.Wrapf(err, "decrement usage of coupon %q", id)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
	)
	err := row.Scan(
		&c.ID, &c.Code, &discountType, &c.DiscountValue, &c.IsActive,
		&c.UsageLimit, &c.UsedCount, &c.ExpiresAt, &c.CategoryID, &c.ProductIDs,
	)
	c.DiscountType = coupon.DiscountType(discountType)
	return c, err
}
