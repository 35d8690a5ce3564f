// Package handler exposes the checkout engine over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
	"github.com/xenking/storefront-checkout/internal/domain/order"
)

// HeaderUserID carries the authenticated storefront user. Requests without
// it are guest requests.
const HeaderUserID = "X-User-ID"

// OrderService is the order lifecycle used by the handlers.
type OrderService interface {
	Quote(ctx context.Context, req order.QuoteRequest) (*order.Quote, error)
	Create(ctx context.Context, req order.CreateRequest) (*order.CreateResult, error)
	Get(ctx context.Context, id, userID string, privileged bool) (*order.Order, error)
	Cancel(ctx context.Context, req order.CancelRequest) (*order.Order, error)
	UpdateStatus(ctx context.Context, id string, to order.Status) (*order.Order, error)
}

// Handler serves the checkout API.
type Handler struct {
	orders OrderService
	auth   *auth.Authenticator
}

// NewHandler creates a Handler.
func NewHandler(orders OrderService, authenticator *auth.Authenticator) *Handler {
	return &Handler{orders: orders, auth: authenticator}
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/cart/quote", h.Quote)
	mux.HandleFunc("POST /api/orders", h.CreateOrder)
	mux.HandleFunc("GET /api/orders/{id}", h.GetOrder)
	mux.HandleFunc("POST /api/orders/{id}/cancel", h.CancelOrder)

	admin := h.RequireScope(auth.ScopeOrdersAdmin)
	mux.Handle("GET /api/admin/orders/{id}", admin(http.HandlerFunc(h.AdminGetOrder)))
	mux.Handle("POST /api/admin/orders/{id}/status", admin(http.HandlerFunc(h.AdminUpdateStatus)))
	mux.Handle("POST /api/admin/orders/{id}/cancel", admin(http.HandlerFunc(h.AdminCancelOrder)))
}

func userID(r *http.Request) string {
	return r.Header.Get(HeaderUserID)
}
