package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/product"
	"github.com/xenking/storefront-checkout/internal/storage/postgres"
)

func main() {
	var (
		databaseURL  string
		apiKey       string
		apiKeyPepper string
		freeShipping int64
		flatFee      int64
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&apiKey, "api-key", "", "admin API key to seed (or SHOP_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or SHOP_API_KEY_PEPPER env)")
	flag.Int64Var(&freeShipping, "free-shipping-threshold", 20000, "free shipping threshold in minor units")
	flag.Int64Var(&flatFee, "flat-shipping-fee", 2990, "flat shipping fee in minor units")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("SHOP_SEED_API_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("SHOP_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, apiKey, apiKeyPepper, freeShipping, flatFee); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, apiKey, pepper string, freeShipping, flatFee int64) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	admin := postgres.NewAdmin(pool)

	if err := seedCatalog(ctx, admin); err != nil {
		return errors.Wrap(err, "seed catalog")
	}
	if err := seedCoupons(ctx, admin); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	slog.Info("seeding settings",
		slog.Int64("free_shipping_threshold", freeShipping),
		slog.Int64("flat_shipping_fee", flatFee),
	)
	if err := admin.PutSetting(ctx, postgres.KeyFreeShippingThreshold, freeShipping); err != nil {
		return err
	}
	if err := admin.PutSetting(ctx, postgres.KeyFlatShippingFee, flatFee); err != nil {
		return err
	}

	slog.Info("seeding loyalty balances")
	for userID, spent := range map[string]int64{
		"demo-silver": 150000,
		"demo-gold":   600000,
	} {
		if err := admin.SetTotalSpent(ctx, userID, spent); err != nil {
			return err
		}
	}

	if apiKey == "" {
		slog.Warn("no API key given, admin endpoints stay locked")
		return nil
	}
	if err := seedAPIKey(ctx, admin, apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	return nil
}

func seedCatalog(ctx context.Context, admin *postgres.Admin) error {
	saleEnds := time.Now().AddDate(0, 1, 0)
	salePrice := int64(3990)

	products := []product.Product{
		{ID: "mug-classic", Name: "Classic Mug", CategoryID: "kitchen", Price: 1000, Stock: 100},
		{ID: "tee-basic", Name: "Basic Tee", CategoryID: "apparel", Price: 900, Stock: 50},
		{ID: "lamp-desk", Name: "Desk Lamp", CategoryID: "home", Price: 4990, SalePrice: &salePrice, SaleEndsAt: &saleEnds, Stock: 20},
		{ID: "poster-limited", Name: "Limited Poster", CategoryID: "art", Price: 2500, Stock: 1},
	}
	variants := []product.Variant{
		{ID: "tee-basic-red-m", ProductID: "tee-basic", Name: "Red / M", Price: 500, Stock: 25,
			Attributes: product.Options{{Name: "color", Value: "red"}, {Name: "size", Value: "M"}}},
		{ID: "tee-basic-blue-l", ProductID: "tee-basic", Name: "Blue / L", Price: 550, Stock: 25,
			Attributes: product.Options{{Name: "color", Value: "blue"}, {Name: "size", Value: "L"}}},
	}

	slog.Info("upserting products", slog.Int("count", len(products)))
	for _, p := range products {
		if err := admin.UpsertProduct(ctx, p); err != nil {
			return err
		}
		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}
	for _, v := range variants {
		if err := admin.UpsertVariant(ctx, v); err != nil {
			return err
		}
		slog.Info("upserted variant", slog.String("id", v.ID), slog.String("product_id", v.ProductID))
	}
	return nil
}

func seedCoupons(ctx context.Context, admin *postgres.Admin) error {
	slog.Info("seeding demo coupons")

	limit := 5
	expired := time.Now().AddDate(0, 0, -1)
	coupons := []coupon.Coupon{
		{ID: "save10", Code: "SAVE10", DiscountType: coupon.DiscountPercentage,
			DiscountValue: decimal.NewFromInt(10), IsActive: true, UsageLimit: &limit},
		{ID: "fiver", Code: "FIVER", DiscountType: coupon.DiscountFixed,
			DiscountValue: decimal.NewFromInt(500), IsActive: true},
		{ID: "kitchen15", Code: "KITCHEN15", DiscountType: coupon.DiscountPercentage,
			DiscountValue: decimal.RequireFromString("15.5"), IsActive: true, CategoryID: "kitchen"},
		{ID: "old", Code: "OLD", DiscountType: coupon.DiscountPercentage,
			DiscountValue: decimal.NewFromInt(50), IsActive: true, ExpiresAt: &expired},
	}

	for _, c := range coupons {
		if err := admin.UpsertCoupon(ctx, c); err != nil {
			return err
		}
		slog.Info("upserted coupon", slog.String("code", c.Code), slog.String("type", string(c.DiscountType)))
	}
	return nil
}

func seedAPIKey(ctx context.Context, admin *postgres.Admin, apiKey, pepper string) error {
	slog.Info("seeding admin API key")

	authenticator := auth.NewAuthenticator(nil, []byte(pepper))
	key := auth.APIKeyInfo{
		ID:      "default-admin",
		KeyHash: authenticator.Hash(apiKey),
		Name:    "Default admin key",
		Scopes:  []string{auth.ScopeOrdersAdmin},
	}
	if err := admin.UpsertAPIKey(ctx, key); err != nil {
		return err
	}

	slog.Info("upserted API key", slog.String("id", key.ID), slog.String("name", key.Name))
	return nil
}
