// Package events publishes order lifecycle events to external systems
// after the originating transaction has committed.
package events

import (
	"context"
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/storefront-checkout/internal/domain/order"
)

// TypeOrderCreated is the event type of a committed checkout.
const TypeOrderCreated = "order.created"

// Message is an encoded event. Key is used for partitioning where the
// backend supports it.
type Message struct {
	Type string
	Key  string
	Body []byte
}

// Publisher delivers messages to a backend.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// OrderCreated builds the order.created message for a committed order.
func OrderCreated(res *order.CreateResult) Message {
	return Message{
		Type: TypeOrderCreated,
		Key:  res.Order.ID,
		Body: encodeOrderCreated(res),
	}
}

func encodeOrderCreated(res *order.CreateResult) []byte {
	o := res.Order
	t := res.Totals

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("type")
	e.Str(TypeOrderCreated)
	e.FieldStart("orderId")
	e.Str(o.ID)
	e.FieldStart("status")
	e.Str(o.Status.String())
	if o.UserID != "" {
		e.FieldStart("userId")
		e.Str(o.UserID)
	}
	e.FieldStart("customerEmail")
	e.Str(o.CustomerEmail)
	e.FieldStart("paymentMethod")
	e.Str(string(o.PaymentMethod))
	if o.CouponCode != "" {
		e.FieldStart("couponCode")
		e.Str(o.CouponCode)
	}

	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(it.ProductID)
		if it.VariantID != "" {
			e.FieldStart("variantId")
			e.Str(it.VariantID)
		}
		e.FieldStart("name")
		e.Str(it.Name)
		e.FieldStart("price")
		e.Int64(it.Price)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.ObjEnd()
	}
	e.ArrEnd()

	e.FieldStart("subtotal")
	e.Int64(t.Subtotal)
	e.FieldStart("loyaltyDiscount")
	e.Int64(t.LoyaltyDiscount)
	e.FieldStart("couponDiscount")
	e.Int64(t.CouponDiscount)
	e.FieldStart("shippingCost")
	e.Int64(t.ShippingCost)
	e.FieldStart("total")
	e.Int64(t.Total)
	e.FieldStart("createdAt")
	e.Str(o.CreatedAt.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
	return e.Bytes()
}
