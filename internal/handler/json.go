package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/pricing"
)

const maxBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, fn func(d *jx.Decoder, key string) error) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return &order.ValidationError{Field: "body", Reason: "unreadable request body"}
	}
	if err := jx.DecodeBytes(body).Obj(fn); err != nil {
		var v *order.ValidationError
		if errors.As(err, &v) {
			return v
		}
		return &order.ValidationError{Field: "body", Reason: "malformed JSON: " + err.Error()}
	}
	return nil
}

func decodeLines(d *jx.Decoder) ([]pricing.Line, error) {
	var lines []pricing.Line
	err := d.Arr(func(d *jx.Decoder) error {
		var l pricing.Line
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "productId":
				l.ProductID, err = d.Str()
			case "variantId":
				l.VariantID, err = optStr(d)
			case "quantity":
				l.Quantity, err = d.Int()
			case "selectedOptions":
				err = l.SelectedOptions.Decode(d)
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		lines = append(lines, l)
		return nil
	})
	return lines, err
}

// optStr reads a string that may be null.
func optStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func decodeQuoteRequest(w http.ResponseWriter, r *http.Request) (order.QuoteRequest, error) {
	req := order.QuoteRequest{UserID: userID(r)}
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "items":
			req.Lines, err = decodeLines(d)
		case "couponCode":
			req.CouponCode, err = optStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return req, err
}

func decodeCreateRequest(w http.ResponseWriter, r *http.Request) (order.CreateRequest, error) {
	req := order.CreateRequest{UserID: userID(r)}
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "items":
			req.Lines, err = decodeLines(d)
		case "customer":
			err = decodeCustomer(d, &req.Customer)
		case "paymentMethod":
			var s string
			s, err = d.Str()
			req.PaymentMethod = order.PaymentMethod(s)
		case "paymentIntentId":
			req.PaymentIntentID, err = optStr(d)
		case "couponCode":
			req.CouponCode, err = optStr(d)
		case "saveAddress":
			req.SaveAddress, err = d.Bool()
		default:
			err = d.Skip()
		}
		return err
	})
	return req, err
}

func decodeCustomer(d *jx.Decoder, c *order.Customer) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "name":
			c.Name, err = d.Str()
		case "email":
			c.Email, err = d.Str()
		case "phone":
			c.Phone, err = optStr(d)
		case "address":
			err = c.Address.Decode(d)
		default:
			err = d.Skip()
		}
		return err
	})
}

func decodeStatusRequest(w http.ResponseWriter, r *http.Request) (order.Status, error) {
	var raw string
	if err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		if key == "status" {
			var err error
			raw, err = d.Str()
			return err
		}
		return d.Skip()
	}); err != nil {
		return order.StatusUnknown, err
	}
	st, ok := order.ParseStatus(raw)
	if !ok {
		return order.StatusUnknown, &order.ValidationError{Field: "status", Reason: "unknown status " + raw}
	}
	return st, nil
}

func encodeTotals(e *jx.Encoder, t pricing.Totals) {
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
}

func encodeQuote(q *order.Quote) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("items")
	e.ArrStart()
	for _, l := range q.Lines {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(l.ProductID)
		if l.VariantID != "" {
			e.FieldStart("variantId")
			e.Str(l.VariantID)
		}
		e.FieldStart("name")
		e.Str(l.Name)
		e.FieldStart("unitPrice")
		e.Int64(l.UnitPrice)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		// Resolved lines always have an amount in range.
		amount, _ := l.Amount()
		e.FieldStart("amount")
		e.Int64(amount)
		if len(l.SelectedOptions) > 0 {
			e.FieldStart("selectedOptions")
			l.SelectedOptions.Encode(&e)
		}
		e.ObjEnd()
	}
	e.ArrEnd()
	encodeTotals(&e, q.Totals)
	e.ObjEnd()
	return e.Bytes()
}

func encodeOrder(o *order.Order) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("status")
	e.Str(o.Status.String())
	if o.UserID != "" {
		e.FieldStart("userId")
		e.Str(o.UserID)
	}

	e.FieldStart("customer")
	e.ObjStart()
	e.FieldStart("name")
	e.Str(o.CustomerName)
	e.FieldStart("email")
	e.Str(o.CustomerEmail)
	e.FieldStart("address")
	o.CustomerAddress.Encode(&e)
	e.ObjEnd()

	e.FieldStart("paymentMethod")
	e.Str(string(o.PaymentMethod))
	if o.PaymentIntentID != "" {
		e.FieldStart("paymentIntentId")
		e.Str(o.PaymentIntentID)
	}

	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(it.ID)
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
		if len(it.SelectedOptions) > 0 {
			e.FieldStart("selectedOptions")
			it.SelectedOptions.Encode(&e)
		}
		e.ObjEnd()
	}
	e.ArrEnd()

	e.FieldStart("subtotal")
	e.Int64(o.Subtotal)
	e.FieldStart("shippingCost")
	e.Int64(o.ShippingCost)
	e.FieldStart("discountAmount")
	e.Int64(o.DiscountAmount)
	e.FieldStart("loyaltyDiscount")
	e.Int64(o.LoyaltyDiscount)
	e.FieldStart("totalPrice")
	e.Int64(o.TotalPrice)
	if o.CouponCode != "" {
		e.FieldStart("couponCode")
		e.Str(o.CouponCode)
	}
	e.FieldStart("createdAt")
	e.Str(o.CreatedAt.UTC().Format(time.RFC3339))
	e.FieldStart("updatedAt")
	e.Str(o.UpdatedAt.UTC().Format(time.RFC3339))
	e.ObjEnd()
	return e.Bytes()
}
