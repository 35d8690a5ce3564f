//go:build integration

package postgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/customer"
	"github.com/xenking/storefront-checkout/internal/domain/inventory"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/pricing"
	"github.com/xenking/storefront-checkout/internal/domain/product"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "shop",
				"POSTGRES_PASSWORD": "shop",
				"POSTGRES_DB":       "shop",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := container.Terminate(context.Background()); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://shop:shop@%s:%s/shop?sslmode=disable", host, port.Port())
	testPool, err = NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer testPool.Close()

	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	// Migrations are idempotent.
	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrate twice: %v", err)
	}

	return m.Run()
}

func resetDB(t *testing.T) {
	t.Helper()
	_, err := testPool.Exec(context.Background(), `TRUNCATE order_items, orders, product_variants, products,
		coupons, customer_loyalty, customer_addresses, settings, api_keys CASCADE`)
	require.NoError(t, err)
}

func seedScenario(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for _, q := range []string{
		`INSERT INTO products (id, name, category_id, price, stock) VALUES ('A', 'Mug', 'kitchen', 1000, 10)`,
		`INSERT INTO products (id, name, category_id, price, stock) VALUES ('B', 'Shirt', 'apparel', 900, 10)`,
		`INSERT INTO product_variants (id, product_id, name, price, stock, attributes)
			VALUES ('B-red', 'B', 'Red', 500, 10, '{"size":"M","color":"red","fit":"slim"}')`,
		`INSERT INTO coupons (id, code, discount_type, discount_value, usage_limit, used_count)
			VALUES ('c-save10', 'SAVE10', 'PERCENTAGE', 10, 5, 4)`,
		`INSERT INTO settings (key, value) VALUES ('flat_shipping_fee', '2990')`,
	} {
		_, err := testPool.Exec(ctx, q)
		require.NoError(t, err)
	}
}

func newService(t *testing.T) *order.Service {
	t.Helper()
	tiers, err := pricing.ParseTiers(pricing.DefaultTiers)
	require.NoError(t, err)

	calc := pricing.NewCalculator(NewCatalog(testPool), NewCouponRepository(testPool), pricing.NewPolicy(tiers))
	svc, err := order.NewService(
		calc,
		NewSettings(testPool, pricing.Settings{FreeShippingThreshold: 20000, FlatShippingFee: 1}),
		NewLoyaltyReader(testPool),
		NewOrderRepository(testPool),
		NewTransactor(testPool),
	)
	require.NoError(t, err)
	return svc
}

func checkoutRequest(lines ...pricing.Line) order.CreateRequest {
	return order.CreateRequest{
		Lines: lines,
		Customer: order.Customer{
			Name:  "Ann Buyer",
			Email: "ann@example.com",
			Address: customer.Address{
				Line1: "1 Main St", City: "Budapest", PostalCode: "1011", Country: "HU",
			},
		},
		PaymentMethod: order.PaymentCard,
	}
}

func productStock(t *testing.T, id string) int {
	t.Helper()
	var stock int
	require.NoError(t, testPool.QueryRow(context.Background(), `SELECT stock FROM products WHERE id = $1`, id).Scan(&stock))
	return stock
}

func variantStock(t *testing.T, id string) int {
	t.Helper()
	var stock int
	require.NoError(t, testPool.QueryRow(context.Background(), `SELECT stock FROM product_variants WHERE id = $1`, id).Scan(&stock))
	return stock
}

func couponUsed(t *testing.T, id string) int {
	t.Helper()
	var used int
	require.NoError(t, testPool.QueryRow(context.Background(), `SELECT used_count FROM coupons WHERE id = $1`, id).Scan(&used))
	return used
}

func TestCheckout_ScenarioWithCouponAndCancel(t *testing.T) {
	resetDB(t)
	seedScenario(t)
	ctx := context.Background()
	svc := newService(t)

	req := checkoutRequest(
		pricing.Line{ProductID: "A", Quantity: 2},
		pricing.Line{ProductID: "B", VariantID: "B-red", Quantity: 1, SelectedOptions: product.Options{
			{Name: "size", Value: "M"}, {Name: "color", Value: "red"}, {Name: "engraving", Value: "A.B."},
		}},
	)
	req.CouponCode = "save10"
	req.UserID = "u1"

	res, err := svc.Create(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), res.Totals.Subtotal)
	assert.Equal(t, int64(250), res.Totals.CouponDiscount)
	assert.Equal(t, int64(2990), res.Totals.ShippingCost)
	assert.Equal(t, int64(5240), res.Totals.Total)
	assert.Equal(t, 5, couponUsed(t, "c-save10"))
	assert.Equal(t, 8, productStock(t, "A"))
	assert.Equal(t, 9, variantStock(t, "B-red"))

	stored, err := NewOrderRepository(testPool).Get(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, stored.Status)
	assert.Equal(t, "c-save10", stored.CouponID)
	assert.Equal(t, int64(2500), stored.Subtotal)
	assert.Equal(t, int64(2990), stored.ShippingCost)
	assert.Equal(t, res.Order.CustomerAddress, stored.CustomerAddress)
	require.Len(t, stored.Items, 2)
	assert.Equal(t, "Shirt - Red", stored.Items[1].Name)
	// JSON columns keep key order.
	assert.Equal(t, req.Lines[1].SelectedOptions, stored.Items[1].SelectedOptions)

	// Catalog changes do not alter the stored order.
	_, err = testPool.Exec(ctx, `UPDATE products SET price = 99999 WHERE id = 'A'`)
	require.NoError(t, err)
	stored, err = NewOrderRepository(testPool).Get(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), stored.Items[0].Price)
	assert.Equal(t, int64(5240), stored.TotalPrice)

	_, err = svc.Cancel(ctx, order.CancelRequest{OrderID: res.Order.ID, UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 4, couponUsed(t, "c-save10"))
	assert.Equal(t, 10, productStock(t, "A"))
	assert.Equal(t, 10, variantStock(t, "B-red"))

	_, err = svc.Cancel(ctx, order.CancelRequest{OrderID: res.Order.ID, UserID: "u1"})
	var terr *order.InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 4, couponUsed(t, "c-save10"))
	assert.Equal(t, 10, productStock(t, "A"))
}

func TestCheckout_LastUnitRace(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	_, err := testPool.Exec(ctx, `INSERT INTO products (id, name, price, stock) VALUES ('A', 'Mug', 1000, 1)`)
	require.NoError(t, err)
	svc := newService(t)

	const attempts = 8
	errs := make([]error, attempts)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, errs[i] = svc.Create(ctx, checkoutRequest(pricing.Line{ProductID: "A", Quantity: 1}))
		}()
	}
	close(start)
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		var oos *inventory.OutOfStockError
		if !errors.As(err, &oos) {
			assert.ErrorIs(t, err, inventory.ErrStockConflict)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 0, productStock(t, "A"))

	var orders int
	require.NoError(t, testPool.QueryRow(ctx, `SELECT count(*) FROM orders`).Scan(&orders))
	assert.Equal(t, 1, orders)
}

func TestCheckout_ConcurrentCouponLimit(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	for _, q := range []string{
		`INSERT INTO products (id, name, price, stock) VALUES ('A', 'Mug', 1000, 100)`,
		`INSERT INTO coupons (id, code, discount_type, discount_value, usage_limit) VALUES ('c1', 'THREE', 'FIXED', 100, 3)`,
	} {
		_, err := testPool.Exec(ctx, q)
		require.NoError(t, err)
	}
	svc := newService(t)

	const attempts = 12
	var wg sync.WaitGroup
	start := make(chan struct{})
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			req := checkoutRequest(pricing.Line{ProductID: "A", Quantity: 1})
			req.CouponCode = "THREE"
			_, err := svc.Create(ctx, req)
			if err != nil {
				assert.ErrorIs(t, err, coupon.ErrCouponUsageLimitReached)
			}
		}()
	}
	close(start)
	wg.Wait()

	var withCoupon int
	require.NoError(t, testPool.QueryRow(ctx, `SELECT count(*) FROM orders WHERE coupon_id = 'c1'`).Scan(&withCoupon))
	assert.Equal(t, 3, withCoupon)
	assert.Equal(t, 3, couponUsed(t, "c1"))
}

func TestCheckout_FailedInsertRollsBackReservations(t *testing.T) {
	resetDB(t)
	seedScenario(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := NewTransactor(testPool).WithinTx(ctx, func(ctx context.Context, tx order.Tx) error {
		require.NoError(t, inventory.Reserve(ctx, tx.Stock(), []inventory.Line{{ProductID: "A", Quantity: 3}}))
		ok, err := tx.Coupons().IncrementUsage(ctx, "c-save10")
		require.NoError(t, err)
		require.True(t, ok)
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.Equal(t, 10, productStock(t, "A"))
	assert.Equal(t, 4, couponUsed(t, "c-save10"))
}

func TestStock_ConditionalDecrement(t *testing.T) {
	resetDB(t)
	seedScenario(t)
	ctx := context.Background()
	stock := NewStock(testPool)

	ok, err := stock.DecrementVariantStock(ctx, "B-red", 11)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = stock.DecrementVariantStock(ctx, "B-red", 10)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = stock.DecrementProductStock(ctx, "missing", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCatalog_VariantAttributesKeepOrder(t *testing.T) {
	resetDB(t)
	seedScenario(t)

	variants, err := NewCatalog(testPool).VariantsByIDs(context.Background(), []string{"B-red", "missing"})
	require.NoError(t, err)
	require.Len(t, variants, 1)
	assert.Equal(t, product.Options{
		{Name: "size", Value: "M"}, {Name: "color", Value: "red"}, {Name: "fit", Value: "slim"},
	}, variants[0].Attributes)
}

func TestCoupons_FindAndRelease(t *testing.T) {
	resetDB(t)
	seedScenario(t)
	ctx := context.Background()
	repo := NewCouponRepository(testPool)

	c, err := repo.FindByCode(ctx, "Save10")
	require.NoError(t, err)
	assert.Equal(t, "c-save10", c.ID)
	assert.True(t, decimal.NewFromInt(10).Equal(c.DiscountValue))
	require.NotNil(t, c.UsageLimit)
	assert.Equal(t, 5, *c.UsageLimit)
	assert.Empty(t, c.ProductIDs)

	_, err = repo.FindByCode(ctx, "nope")
	require.ErrorIs(t, err, coupon.ErrInvalidCoupon)

	_, err = testPool.Exec(ctx, `UPDATE coupons SET used_count = 0 WHERE id = 'c-save10'`)
	require.NoError(t, err)
	require.NoError(t, repo.DecrementUsage(ctx, "c-save10"))
	assert.Equal(t, 0, couponUsed(t, "c-save10"))
}

func TestSettings_DefaultsAndOverrides(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	settings := NewSettings(testPool, pricing.Settings{FreeShippingThreshold: 20000, FlatShippingFee: 2990})

	got, err := settings.ShippingSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, pricing.Settings{FreeShippingThreshold: 20000, FlatShippingFee: 2990}, got)

	require.NoError(t, settings.Put(ctx, KeyFreeShippingThreshold, 15000))
	got, err = settings.ShippingSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(15000), got.FreeShippingThreshold)
	assert.Equal(t, int64(2990), got.FlatShippingFee)
}

func TestCustomer_LoyaltyAndAddresses(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	_, err := testPool.Exec(ctx, `INSERT INTO customer_loyalty (user_id, total_spent) VALUES ('u1', 600000)`)
	require.NoError(t, err)

	loyalty := NewLoyaltyReader(testPool)
	spent, err := loyalty.TotalSpent(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(600000), spent)
	spent, err = loyalty.TotalSpent(ctx, "u2")
	require.NoError(t, err)
	assert.Zero(t, spent)

	book := NewAddressBook(testPool)
	addr := customer.Address{Name: "Ann", Line1: "1 Main St", City: "Budapest", PostalCode: "1011", Country: "HU"}
	saved, err := book.SaveIfNew(ctx, "u1", addr)
	require.NoError(t, err)
	assert.True(t, saved)
	saved, err = book.SaveIfNew(ctx, "u1", addr)
	require.NoError(t, err)
	assert.False(t, saved)
}

func TestAPIKeys_FindByHash(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	repo := NewAPIKeyRepository(testPool)
	authn := auth.NewAuthenticator(repo, []byte("pepper"))

	_, err := testPool.Exec(ctx, `INSERT INTO api_keys (id, key_hash, name, scopes) VALUES ('k1', $1, 'ops', $2)`,
		authn.Hash("secret"), []string{auth.ScopeOrdersAdmin})
	require.NoError(t, err)

	info, err := authn.Authenticate(ctx, "secret", auth.ScopeOrdersAdmin)
	require.NoError(t, err)
	assert.Equal(t, "ops", info.Name)

	_, err = repo.FindByHash(ctx, "deadbeef")
	require.ErrorIs(t, err, auth.ErrKeyNotFound)
}

func TestAdmin_SeedWrites(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	admin := NewAdmin(testPool)

	require.NoError(t, admin.UpsertProduct(ctx, product.Product{ID: "T", Name: "Tee", Price: 900, Stock: 3}))
	require.NoError(t, admin.UpsertVariant(ctx, product.Variant{
		ID: "T-red", ProductID: "T", Name: "Red", Price: 500, Stock: 2,
		Attributes: product.Options{{Name: "size", Value: "M"}, {Name: "color", Value: "red"}},
	}))
	variants, err := NewCatalog(testPool).VariantsByIDs(ctx, []string{"T-red"})
	require.NoError(t, err)
	require.Len(t, variants, 1)
	assert.Equal(t, "size", variants[0].Attributes[0].Name)

	limit := 5
	c := coupon.Coupon{
		ID: "c1", Code: "SAVE10", DiscountType: coupon.DiscountPercentage,
		DiscountValue: decimal.NewFromInt(10), IsActive: true, UsageLimit: &limit,
	}
	require.NoError(t, admin.UpsertCoupon(ctx, c))
	_, err = testPool.Exec(ctx, `UPDATE coupons SET used_count = 2 WHERE id = 'c1'`)
	require.NoError(t, err)
	c.DiscountValue = decimal.NewFromInt(15)
	require.NoError(t, admin.UpsertCoupon(ctx, c))
	assert.Equal(t, 2, couponUsed(t, "c1"))

	require.NoError(t, admin.SetTotalSpent(ctx, "u1", 150000))
	spent, err := NewLoyaltyReader(testPool).TotalSpent(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(150000), spent)

	require.NoError(t, admin.PutSetting(ctx, KeyFlatShippingFee, 500))
	got, err := NewSettings(testPool, pricing.Settings{FreeShippingThreshold: 1}).ShippingSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(500), got.FlatShippingFee)
}

func TestAdmin_ImportCoupons(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	admin := NewAdmin(testPool)

	require.NoError(t, admin.UpsertCoupon(ctx, coupon.Coupon{
		ID: "existing", Code: "ALPHA123", DiscountType: coupon.DiscountFixed,
		DiscountValue: decimal.NewFromInt(100), IsActive: true,
	}))

	batch := []coupon.Coupon{
		{Code: "alpha123", DiscountType: coupon.DiscountPercentage, DiscountValue: decimal.NewFromInt(10), IsActive: true},
		{Code: "BRAVO456", DiscountType: coupon.DiscountPercentage, DiscountValue: decimal.NewFromInt(10), IsActive: true},
		{Code: "bravo456", DiscountType: coupon.DiscountPercentage, DiscountValue: decimal.NewFromInt(10), IsActive: true},
		{ID: "given", Code: "CHARLIE7X", DiscountType: coupon.DiscountPercentage, DiscountValue: decimal.NewFromInt(10), IsActive: true},
	}
	inserted, err := admin.ImportCoupons(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, int64(2), inserted)

	repo := NewCouponRepository(testPool)
	existing, err := repo.FindByCode(ctx, "alpha123")
	require.NoError(t, err)
	assert.Equal(t, "existing", existing.ID)
	assert.Equal(t, coupon.DiscountFixed, existing.DiscountType)

	given, err := repo.FindByCode(ctx, "charlie7x")
	require.NoError(t, err)
	assert.Equal(t, "given", given.ID)

	// Re-importing is a no-op.
	inserted, err = admin.ImportCoupons(ctx, batch)
	require.NoError(t, err)
	assert.Zero(t, inserted)
}
