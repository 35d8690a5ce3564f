package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/product"
)

const (
	upsertProductSQL = `INSERT INTO products
		(id, name, category_id, price, sale_price, sale_starts_at, sale_ends_at, stock)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			category_id = EXCLUDED.category_id,
			price = EXCLUDED.price,
			sale_price = EXCLUDED.sale_price,
			sale_starts_at = EXCLUDED.sale_starts_at,
			sale_ends_at = EXCLUDED.sale_ends_at,
			stock = EXCLUDED.stock`

	upsertVariantSQL = `INSERT INTO product_variants (id, product_id, name, price, stock, attributes)
		VALUES ($1, $2, $3, $4, $5, $6::json)
		ON CONFLICT (id) DO UPDATE SET
			product_id = EXCLUDED.product_id,
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			stock = EXCLUDED.stock,
			attributes = EXCLUDED.attributes`

	upsertCouponSQL = `INSERT INTO coupons
		(id, code, discount_type, discount_value, is_active, usage_limit, used_count, expires_at, category_id, product_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10)
		ON CONFLICT (id) DO UPDATE SET
			code = EXCLUDED.code,
			discount_type = EXCLUDED.discount_type,
			discount_value = EXCLUDED.discount_value,
			is_active = EXCLUDED.is_active,
			usage_limit = EXCLUDED.usage_limit,
			expires_at = EXCLUDED.expires_at,
			category_id = EXCLUDED.category_id,
			product_ids = EXCLUDED.product_ids`

	upsertLoyaltySQL = `INSERT INTO customer_loyalty (user_id, total_spent) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET total_spent = EXCLUDED.total_spent`

	upsertAPIKeySQL = `INSERT INTO api_keys (id, key_hash, name, scopes, active)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (id) DO UPDATE SET
			key_hash = EXCLUDED.key_hash,
			name = EXCLUDED.name,
			scopes = EXCLUDED.scopes,
			active = TRUE`

	createCouponStagingSQL = `CREATE TEMP TABLE coupon_staging
		(LIKE coupons INCLUDING DEFAULTS) ON COMMIT DROP`

	mergeCouponStagingSQL = `INSERT INTO coupons
		(id, code, discount_type, discount_value, is_active, usage_limit, expires_at)
		SELECT DISTINCT ON (UPPER(code)) id, code, discount_type, discount_value, is_active, usage_limit, expires_at
		FROM coupon_staging
		ORDER BY UPPER(code)
		ON CONFLICT DO NOTHING`
)

// Admin performs operator writes: catalog seeding, coupon imports, loyalty
// balances and API keys. Checkout never uses it.
type Admin struct {
	pool *pgxpool.Pool
}

// NewAdmin returns an Admin that uses the given pool.
func NewAdmin(pool *pgxpool.Pool) *Admin {
	return &Admin{pool: pool}
}

// UpsertProduct creates or replaces a product.
func (a *Admin) UpsertProduct(ctx context.Context, p product.Product) error {
	if _, err := a.pool.Exec(ctx, upsertProductSQL,
		p.ID, p.Name, p.CategoryID, p.Price, p.SalePrice, p.SaleStartsAt, p.SaleEndsAt, p.Stock,
	); err != nil {
		return errors.Wrapf(err, "upsert product %q", p.ID)
	}
	return nil
}

// UpsertVariant creates or replaces a variant.
func (a *Admin) UpsertVariant(ctx context.Context, v product.Variant) error {
	attrs, err := v.Attributes.MarshalJSON()
	if err != nil {
		return errors.Wrap(err, "encode attributes")
	}
	if _, err := a.pool.Exec(ctx, upsertVariantSQL,
		v.ID, v.ProductID, v.Name, v.Price, v.Stock, string(attrs),
	); err != nil {
		return errors.Wrapf(err, "upsert variant %q", v.ID)
	}
	return nil
}

// UpsertCoupon creates or replaces a coupon. The used count of an existing
// coupon is kept.
func (a *Admin) UpsertCoupon(ctx context.Context, c coupon.Coupon) error {
	productIDs := c.ProductIDs
	if productIDs == nil {
		productIDs = []string{}
	}
	if _, err := a.pool.Exec(ctx, upsertCouponSQL,
		c.ID, c.Code, string(c.DiscountType), c.DiscountValue, c.IsActive,
		c.UsageLimit, c.UsedCount, c.ExpiresAt, c.CategoryID, productIDs,
	); err != nil {
		return errors.Wrapf(err, "upsert coupon %q", c.Code)
	}
	return nil
}

// SetTotalSpent sets a customer's loyalty balance.
func (a *Admin) SetTotalSpent(ctx context.Context, userID string, spent int64) error {
	if _, err := a.pool.Exec(ctx, upsertLoyaltySQL, userID, spent); err != nil {
		return errors.Wrapf(err, "set total spent for %q", userID)
	}
	return nil
}

// UpsertAPIKey stores an active API key.
func (a *Admin) UpsertAPIKey(ctx context.Context, k auth.APIKeyInfo) error {
	if _, err := a.pool.Exec(ctx, upsertAPIKeySQL, k.ID, k.KeyHash, k.Name, k.Scopes); err != nil {
		return errors.Wrapf(err, "upsert api key %q", k.ID)
	}
	return nil
}

// PutSetting stores an integer setting.
func (a *Admin) PutSetting(ctx context.Context, key string, value int64) error {
	return (&Settings{db: a.pool}).Put(ctx, key, value)
}

// ImportCoupons bulk loads coupons with COPY into a staging table and
// merges them. Codes that already exist, case-insensitively, are skipped.
// It returns the number of coupons inserted.
func (a *Admin) ImportCoupons(ctx context.Context, coupons []coupon.Coupon) (int64, error) {
	var inserted int64
	err := pgx.BeginFunc(ctx, a.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, createCouponStagingSQL); err != nil {
			return errors.Wrap(err, "create staging table")
		}

		i := 0
		src := pgx.CopyFromFunc(func() ([]any, error) {
			if i >= len(coupons) {
				return nil, nil
			}
			c := coupons[i]
			i++
			id := c.ID
			if id == "" {
				id = uuid.NewString()
			}
			return []any{id, c.Code, string(c.DiscountType), c.DiscountValue, c.IsActive, c.UsageLimit, c.ExpiresAt}, nil
		})
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"coupon_staging"},
			[]string{"id", "code", "discount_type", "discount_value", "is_active", "usage_limit", "expires_at"},
			src,
		); err != nil {
			return errors.Wrap(err, "copy coupons")
		}

		tag, err := tx.Exec(ctx, mergeCouponStagingSQL)
		if err != nil {
			return errors.Wrap(err, "merge coupons")
		}
		inserted = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}
