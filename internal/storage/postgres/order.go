package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/internal/domain/order"
)

const (
	insertOrderSQL = `INSERT INTO orders (id, status, customer_name, customer_email, customer_address,
		payment_method, payment_intent_id, subtotal, shipping_cost, total_price, discount_amount,
		loyalty_discount, coupon_id, coupon_code, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::json, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	insertOrderItemSQL = `INSERT INTO order_items (id, order_id, position, product_id, variant_id,
		name, price, quantity, selected_options)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::json)`

	getOrderSQL = `SELECT id, status, customer_name, customer_email, customer_address,
		payment_method, COALESCE(payment_intent_id, ''), subtotal, shipping_cost, total_price,
		discount_amount, loyalty_discount, COALESCE(coupon_id, ''), COALESCE(coupon_code, ''),
		COALESCE(user_id, ''), created_at, updated_at
		FROM orders WHERE id = $1`

	getOrderItemsSQL = `SELECT id, order_id, product_id, COALESCE(variant_id, ''), name, price,
		quantity, selected_options
		FROM order_items WHERE order_id = $1 ORDER BY position`

	compareAndSetStatusSQL = `UPDATE orders SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	db dbtx
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{db: pool}
}

// Insert writes the order row and its items in one batch round trip.
func (r *OrderRepository) Insert(ctx context.Context, o *order.Order) error {
	address, err := o.CustomerAddress.MarshalJSON()
	if err != nil {
		return errors.Wrap(err, "encode address")
	}

	b := &pgx.Batch{}
	b.Queue(insertOrderSQL,
		o.ID, o.Status.String(), o.CustomerName, o.CustomerEmail, string(address),
		string(o.PaymentMethod), nullString(o.PaymentIntentID), o.Subtotal, o.ShippingCost,
		o.TotalPrice, o.DiscountAmount, o.LoyaltyDiscount, nullString(o.CouponID),
		nullString(o.CouponCode), nullString(o.UserID), o.CreatedAt, o.UpdatedAt,
	)
	for i, it := range o.Items {
		var options *string
		if it.SelectedOptions != nil {
			raw, err := it.SelectedOptions.MarshalJSON()
			if err != nil {
				return errors.Wrapf(err, "encode options of item %d", i)
			}
			s := string(raw)
			options = &s
		}
		b.Queue(insertOrderItemSQL,
			it.ID, o.ID, i, it.ProductID, nullString(it.VariantID),
			it.Name, it.Price, it.Quantity, options,
		)
	}

	br := r.db.SendBatch(ctx, b)
	for i := range b.Len() {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			if i == 0 {
				return errors.Wrapf(err, "insert order %q", o.ID)
			}
			return errors.Wrapf(err, "insert item %d of order %q", i-1, o.ID)
		}
	}
	if err := br.Close(); err != nil {
		return errors.Wrapf(err, "insert order %q", o.ID)
	}
	return nil
}

// Get loads an order with its items.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	var (
		o       order.Order
		status  string
		method  string
		address []byte
	)
	err := r.db.QueryRow(ctx, getOrderSQL, id).Scan(
		&o.ID, &status, &o.CustomerName, &o.CustomerEmail, &address,
		&method, &o.PaymentIntentID, &o.Subtotal, &o.ShippingCost, &o.TotalPrice,
		&o.DiscountAmount, &o.LoyaltyDiscount, &o.CouponID, &o.CouponCode,
		&o.UserID, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %q", id)
	}
	o.Status, _ = order.ParseStatus(status)
	o.PaymentMethod = order.PaymentMethod(method)
	if err := o.CustomerAddress.UnmarshalJSON(address); err != nil {
		return nil, errors.Wrapf(err, "decode address of order %q", id)
	}

	rows, err := r.db.Query(ctx, getOrderItemsSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get items of order %q", id)
	}
	o.Items, err = pgx.CollectRows(rows, scanOrderItem)
	if err != nil {
		return nil, errors.Wrapf(err, "get items of order %q", id)
	}
	return &o, nil
}

// CompareAndSetStatus changes the status only if it still equals from.
func (r *OrderRepository) CompareAndSetStatus(ctx context.Context, id string, from, to order.Status) (bool, error) {
	tag, err := r.db.Exec(ctx, compareAndSetStatusSQL, id, from.String(), to.String())
	if err != nil {
		return false, errors.Wrapf(err, "set status of order %q", id)
	}
	return tag.RowsAffected() == 1, nil
}

func scanOrderItem(row pgx.CollectableRow) (order.Item, error) {
	var (
		it      order.Item
		options []byte
	)
	if err := row.Scan(
		&it.ID, &it.OrderID, &it.ProductID, &it.VariantID, &it.Name,
		&it.Price, &it.Quantity, &options,
	); err != nil {
		return it, err
	}
	if options != nil {
		if err := it.SelectedOptions.UnmarshalJSON(options); err != nil {
			return it, errors.Wrapf(err, "decode options of item %q", it.ID)
		}
	}
	return it, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
