package handler

import (
	"net/http"

	"github.com/xenking/storefront-checkout/internal/domain/order"
)

// Quote serves POST /api/cart/quote.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := decodeQuoteRequest(w, r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	q, err := h.orders.Quote(ctx, req)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeQuote(q))
}

// CreateOrder serves POST /api/orders.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := decodeCreateRequest(w, r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	res, err := h.orders.Create(ctx, req)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/orders/"+res.Order.ID)
	writeJSON(w, http.StatusCreated, encodeOrder(res.Order))
}

// GetOrder serves GET /api/orders/{id} for the owning user.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	h.get(w, r, false)
}

// AdminGetOrder serves GET /api/admin/orders/{id}.
func (h *Handler) AdminGetOrder(w http.ResponseWriter, r *http.Request) {
	h.get(w, r, true)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request, privileged bool) {
	ctx := r.Context()
	o, err := h.orders.Get(ctx, r.PathValue("id"), userID(r), privileged)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeOrder(o))
}

// CancelOrder serves POST /api/orders/{id}/cancel for the owning user.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	h.cancel(w, r, false)
}

// AdminCancelOrder serves POST /api/admin/orders/{id}/cancel. It can
// cancel guest orders.
func (h *Handler) AdminCancelOrder(w http.ResponseWriter, r *http.Request) {
	h.cancel(w, r, true)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request, privileged bool) {
	ctx := r.Context()
	o, err := h.orders.Cancel(ctx, order.CancelRequest{
		OrderID:    r.PathValue("id"),
		UserID:     userID(r),
		Privileged: privileged,
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeOrder(o))
}

// AdminUpdateStatus serves POST /api/admin/orders/{id}/status.
func (h *Handler) AdminUpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	to, err := decodeStatusRequest(w, r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	o, err := h.orders.UpdateStatus(ctx, r.PathValue("id"), to)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeOrder(o))
}
