package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/inventory"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/pricing"
	"github.com/xenking/storefront-checkout/internal/domain/product"
	"github.com/xenking/storefront-checkout/pkg/httpmiddleware"
)

// apiError is the JSON error body. Details are extra fields written next
// to code and message.
type apiError struct {
	status  int
	code    string
	message string
	details func(e *jx.Encoder)
}

func (a apiError) encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("code")
	e.Str(a.code)
	e.FieldStart("message")
	e.Str(a.message)
	if a.details != nil {
		a.details(e)
	}
	e.ObjEnd()
}

// classify maps err to its HTTP representation. Unrecognized errors are
// internal.
func classify(err error) apiError {
	var (
		validation *order.ValidationError
		unknown    *product.UnknownItemError
		outOfStock *inventory.OutOfStockError
		transition *order.InvalidTransitionError
	)
	switch {
	case errors.As(err, &validation):
		return apiError{
			status:  http.StatusBadRequest,
			code:    "validation_failed",
			message: validation.Error(),
			details: func(e *jx.Encoder) {
				e.FieldStart("field")
				e.Str(validation.Field)
			},
		}
	case errors.As(err, &unknown):
		return apiError{
			status:  http.StatusUnprocessableEntity,
			code:    "unknown_item",
			message: unknown.Error(),
			details: func(e *jx.Encoder) {
				e.FieldStart("productId")
				e.Str(unknown.ProductID)
				if unknown.VariantID != "" {
					e.FieldStart("variantId")
					e.Str(unknown.VariantID)
				}
			},
		}
	case errors.As(err, &outOfStock):
		return apiError{
			status:  http.StatusConflict,
			code:    "out_of_stock",
			message: outOfStock.Error(),
			details: func(e *jx.Encoder) {
				e.FieldStart("productId")
				e.Str(outOfStock.ProductID)
				if outOfStock.VariantID != "" {
					e.FieldStart("variantId")
					e.Str(outOfStock.VariantID)
				}
				e.FieldStart("requested")
				e.Int(outOfStock.Requested)
				e.FieldStart("available")
				e.Int(outOfStock.Available)
			},
		}
	case errors.Is(err, inventory.ErrInvalidQuantity), errors.Is(err, pricing.ErrAmountOutOfRange):
		return apiError{
			status:  http.StatusBadRequest,
			code:    "validation_failed",
			message: err.Error(),
			details: func(e *jx.Encoder) {
				e.FieldStart("field")
				e.Str("items.quantity")
			},
		}
	case errors.Is(err, inventory.ErrStockConflict):
		return apiError{status: http.StatusConflict, code: "stock_conflict", message: err.Error()}
	case errors.Is(err, coupon.ErrInvalidCoupon):
		return apiError{status: http.StatusUnprocessableEntity, code: "invalid_coupon", message: "invalid coupon code"}
	case errors.Is(err, coupon.ErrCouponExpired):
		return apiError{status: http.StatusUnprocessableEntity, code: "coupon_expired", message: "coupon expired"}
	case errors.Is(err, coupon.ErrCouponUsageLimitReached):
		return apiError{status: http.StatusUnprocessableEntity, code: "coupon_limit_reached", message: "coupon usage limit reached"}
	case errors.As(err, &transition):
		return apiError{
			status:  http.StatusConflict,
			code:    "invalid_transition",
			message: transition.Error(),
			details: func(e *jx.Encoder) {
				e.FieldStart("from")
				e.Str(transition.From.String())
				e.FieldStart("to")
				e.Str(transition.To.String())
			},
		}
	case errors.Is(err, order.ErrNotFound):
		return apiError{status: http.StatusNotFound, code: "not_found", message: "order not found"}
	case errors.Is(err, order.ErrForbidden), errors.Is(err, auth.ErrMissingScope):
		return apiError{status: http.StatusForbidden, code: "forbidden", message: err.Error()}
	case errors.Is(err, auth.ErrUnauthorized):
		return apiError{status: http.StatusUnauthorized, code: "unauthorized", message: "missing or invalid api key"}
	default:
		return apiError{status: http.StatusInternalServerError, code: "internal", message: "internal error"}
	}
}

// writeError is the single place where errors become HTTP responses.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	a := classify(err)
	if a.status >= http.StatusInternalServerError {
		zctx.From(ctx).Error("Request failed", zap.Error(err))
		if id := httpmiddleware.RequestIDFromContext(ctx); id != "" {
			a.details = func(e *jx.Encoder) {
				e.FieldStart("requestId")
				e.Str(id)
			}
		}
	}
	var e jx.Encoder
	a.encode(&e)
	writeJSON(w, a.status, e.Bytes())
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
