package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/customer"
	"github.com/xenking/storefront-checkout/internal/domain/inventory"
	"github.com/xenking/storefront-checkout/internal/domain/order"
)

var _ order.Transactor = (*Transactor)(nil)

// Transactor runs order units of work in READ COMMITTED transactions.
type Transactor struct {
	pool *pgxpool.Pool
}

// NewTransactor returns a Transactor that uses the given pool.
func NewTransactor(pool *pgxpool.Pool) *Transactor {
	return &Transactor{pool: pool}
}

// WithinTx commits when fn returns nil and rolls back otherwise.
func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	return pgx.BeginTxFunc(ctx, t.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, txStores{db: tx})
	})
}

type txStores struct {
	db dbtx
}

func (s txStores) Stock() inventory.Store { return &Stock{db: s.db} }
func (s txStores) Coupons() coupon.Store { return &CouponRepository{db: s.db} }
func (s txStores) Orders() order.Repository { return &OrderRepository{db: s.db} }
func (s txStores) Addresses() customer.AddressBook { return &AddressBook{db: s.db} }
