package order

import (
	"time"

	"github.com/xenking/storefront-checkout/internal/domain/customer"
	"github.com/xenking/storefront-checkout/internal/domain/product"
)

// Status is the lifecycle state of an order.
type Status int

const (
	// StatusUnknown is any stored value this version does not recognize.
	StatusUnknown Status = iota
	StatusPending
	StatusPaid
	StatusShipped
	StatusCompleted
	StatusCancelled
)

var statusNames = map[Status]string{
	StatusPending:   "pending",
	StatusPaid:      "paid",
	StatusShipped:   "shipped",
	StatusCompleted: "completed",
	StatusCancelled: "cancelled",
}

// transitions lists every legal edge of the state machine.
var transitions = map[Status][]Status{
	StatusPending: {StatusPaid, StatusCancelled},
	StatusPaid:    {StatusShipped},
	StatusShipped: {StatusCompleted},
}

// String returns the wire tag of s, "unknown" for unrecognized values.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseStatus maps a wire tag to a Status. Unrecognized tags yield
// StatusUnknown and false.
func ParseStatus(s string) (Status, bool) {
	for st, name := range statusNames {
		if name == s {
			return st, true
		}
	}
	return StatusUnknown, false
}

// CanTransition reports whether from -> to is an allowed edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PaymentMethod is a tag recorded on the order. Capture happens elsewhere.
type PaymentMethod string

const (
	PaymentCard           PaymentMethod = "card"
	PaymentCashOnDelivery PaymentMethod = "cash_on_delivery"
	PaymentBankTransfer   PaymentMethod = "bank_transfer"
)

// Valid reports whether m is a supported payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCard, PaymentCashOnDelivery, PaymentBankTransfer:
		return true
	default:
		return false
	}
}

// Order is a persisted checkout. Amounts are minor units and never change
// after creation.
type Order struct {
	ID              string
	Status          Status
	CustomerName    string
	CustomerEmail   string
	CustomerAddress customer.Address
	PaymentMethod   PaymentMethod
	PaymentIntentID string
	Subtotal        int64
	ShippingCost    int64
	TotalPrice      int64
	// DiscountAmount is the coupon discount.
	DiscountAmount  int64
	LoyaltyDiscount int64
	CouponID        string
	CouponCode      string
	UserID          string
	Items           []Item
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OwnedBy reports whether userID owns the order. Guest orders are owned by
// nobody.
func (o *Order) OwnedBy(userID string) bool {
	return o.UserID != "" && o.UserID == userID
}

// Item is an order line with its price and name snapshot.
type Item struct {
	ID              string
	OrderID         string
	ProductID       string
	VariantID       string
	Name            string
	Price           int64
	Quantity        int
	SelectedOptions product.Options
}
