package order

import (
	"context"

	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/customer"
	"github.com/xenking/storefront-checkout/internal/domain/inventory"
)

// Repository persists orders.
type Repository interface {
	// Insert stores the order and all of its items.
	Insert(ctx context.Context, o *Order) error
	// Get loads an order with items. It returns ErrNotFound when absent.
	Get(ctx context.Context, id string) (*Order, error)
	// CompareAndSetStatus moves the order from one status to another and
	// reports false when the stored status was not from.
	CompareAndSetStatus(ctx context.Context, id string, from, to Status) (bool, error)
}

// Tx exposes stores bound to a single database transaction.
type Tx interface {
	Stock() inventory.Store
	Coupons() coupon.Store
	Orders() Repository
	Addresses() customer.AddressBook
}

// Transactor runs fn in a transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
