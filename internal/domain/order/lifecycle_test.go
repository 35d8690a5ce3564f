package order_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-checkout/internal/domain/order"
)

func TestStatus(t *testing.T) {
	for _, tag := range []string{"pending", "paid", "shipped", "completed", "cancelled"} {
		st, ok := order.ParseStatus(tag)
		require.True(t, ok, tag)
		assert.Equal(t, tag, st.String())
	}

	st, ok := order.ParseStatus("refunded")
	assert.False(t, ok)
	assert.Equal(t, order.StatusUnknown, st)
	assert.Equal(t, "unknown", st.String())
}

func TestCanTransition(t *testing.T) {
	allowed := map[[2]order.Status]bool{
		{order.StatusPending, order.StatusPaid}:      true,
		{order.StatusPending, order.StatusCancelled}: true,
		{order.StatusPaid, order.StatusShipped}:      true,
		{order.StatusShipped, order.StatusCompleted}: true,
	}
	all := []order.Status{
		order.StatusUnknown, order.StatusPending, order.StatusPaid,
		order.StatusShipped, order.StatusCompleted, order.StatusCancelled,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]order.Status{from, to}], order.CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestCancel_RestoresStockAndCoupon(t *testing.T) {
	f := newFixture(t)
	req := scenarioRequest()
	req.CouponCode = "SAVE10"
	req.UserID = "u1"

	res, err := f.svc.Create(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 5, usedCountOf(t, f.store, "c-save10"))

	cancelled, err := f.svc.Cancel(context.Background(), order.CancelRequest{OrderID: res.Order.ID, UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, cancelled.Status)

	assert.Equal(t, 10, stockOf(t, f.store, "A"))
	assert.Equal(t, 10, variantStockOf(t, f.store, "B-red"))
	assert.Equal(t, 4, usedCountOf(t, f.store, "c-save10"))

	// The order is kept for audit.
	stored, err := f.store.Get(context.Background(), res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, stored.Status)
	assert.Len(t, stored.Items, 2)
}

func TestCancel_DoubleCancelIsRejected(t *testing.T) {
	f := newFixture(t)
	req := scenarioRequest()
	req.UserID = "u1"
	res, err := f.svc.Create(context.Background(), req)
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), order.CancelRequest{OrderID: res.Order.ID, UserID: "u1"})
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), order.CancelRequest{OrderID: res.Order.ID, UserID: "u1"})

	var terr *order.InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, order.StatusCancelled, terr.From)
	assert.Equal(t, 10, stockOf(t, f.store, "A"))
	assert.Equal(t, 10, variantStockOf(t, f.store, "B-red"))
}

func TestCancel_ConcurrentCompensatesOnce(t *testing.T) {
	f := newFixture(t)
	req := scenarioRequest()
	req.UserID = "u1"
	res, err := f.svc.Create(context.Background(), req)
	require.NoError(t, err)

	errs := make([]error, 8)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.Cancel(context.Background(), order.CancelRequest{OrderID: res.Order.ID, UserID: "u1"})
		}()
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		var terr *order.InvalidTransitionError
		assert.ErrorAs(t, err, &terr)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 10, stockOf(t, f.store, "A"))
	assert.Equal(t, 10, variantStockOf(t, f.store, "B-red"))
}

func TestCancel_NonPendingIsRejected(t *testing.T) {
	f := newFixture(t)
	req := scenarioRequest()
	req.UserID = "u1"
	res, err := f.svc.Create(context.Background(), req)
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(context.Background(), res.Order.ID, order.StatusPaid)
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), order.CancelRequest{OrderID: res.Order.ID, UserID: "u1"})

	var terr *order.InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, order.StatusPaid, terr.From)
	assert.Equal(t, 8, stockOf(t, f.store, "A"))
}

func TestCancel_Authorization(t *testing.T) {
	f := newFixture(t)

	owned := scenarioRequest()
	owned.UserID = "u1"
	ownedRes, err := f.svc.Create(context.Background(), owned)
	require.NoError(t, err)

	guestRes, err := f.svc.Create(context.Background(), scenarioRequest())
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), order.CancelRequest{OrderID: ownedRes.Order.ID, UserID: "u2"})
	require.ErrorIs(t, err, order.ErrForbidden)

	_, err = f.svc.Cancel(context.Background(), order.CancelRequest{OrderID: guestRes.Order.ID})
	require.ErrorIs(t, err, order.ErrForbidden)

	_, err = f.svc.Cancel(context.Background(), order.CancelRequest{OrderID: "missing", UserID: "u1"})
	require.ErrorIs(t, err, order.ErrNotFound)

	_, err = f.svc.Cancel(context.Background(), order.CancelRequest{OrderID: guestRes.Order.ID, Privileged: true})
	require.NoError(t, err)
}

func TestGet_Ownership(t *testing.T) {
	f := newFixture(t)
	req := scenarioRequest()
	req.UserID = "u1"
	res, err := f.svc.Create(context.Background(), req)
	require.NoError(t, err)

	got, err := f.svc.Get(context.Background(), res.Order.ID, "u1", false)
	require.NoError(t, err)
	assert.Equal(t, res.Order.ID, got.ID)

	_, err = f.svc.Get(context.Background(), res.Order.ID, "u2", false)
	require.ErrorIs(t, err, order.ErrForbidden)

	_, err = f.svc.Get(context.Background(), res.Order.ID, "", false)
	require.ErrorIs(t, err, order.ErrForbidden)
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Create(context.Background(), scenarioRequest())
	require.NoError(t, err)
	id := res.Order.ID

	_, err = f.svc.UpdateStatus(context.Background(), id, order.StatusShipped)
	var terr *order.InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, order.StatusPending, terr.From)
	assert.Equal(t, order.StatusShipped, terr.To)

	var verr *order.ValidationError
	_, err = f.svc.UpdateStatus(context.Background(), id, order.StatusCancelled)
	require.ErrorAs(t, err, &verr)
	_, err = f.svc.UpdateStatus(context.Background(), id, order.StatusUnknown)
	require.ErrorAs(t, err, &verr)

	for _, next := range []order.Status{order.StatusPaid, order.StatusShipped, order.StatusCompleted} {
		o, err := f.svc.UpdateStatus(context.Background(), id, next)
		require.NoError(t, err)
		assert.Equal(t, next, o.Status)
	}

	// Status changes never touch stock.
	assert.Equal(t, 8, stockOf(t, f.store, "A"))

	_, err = f.svc.UpdateStatus(context.Background(), "missing", order.StatusPaid)
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestQuote(t *testing.T) {
	f := newFixture(t)

	q, err := f.svc.Quote(context.Background(), order.QuoteRequest{
		Lines:      scenarioRequest().Lines,
		CouponCode: "SAVE10",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(250), q.Totals.CouponDiscount)
	assert.Equal(t, int64(5240), q.Totals.Total)
	assert.Len(t, q.Lines, 2)
	assert.Equal(t, 4, usedCountOf(t, f.store, "c-save10"))
	assert.Zero(t, f.store.OrderCount())

	_, err = f.svc.Quote(context.Background(), order.QuoteRequest{})
	var verr *order.ValidationError
	require.ErrorAs(t, err, &verr)
}
