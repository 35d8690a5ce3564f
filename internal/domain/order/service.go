package order

import (
	"context"
	"math"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/customer"
	"github.com/xenking/storefront-checkout/internal/domain/inventory"
	"github.com/xenking/storefront-checkout/internal/domain/pricing"
)

// MaxLineQuantity is the largest quantity accepted for a single cart line.
const MaxLineQuantity = math.MaxInt32

// Customer is the contact and shipping information of the buyer.
type Customer struct {
	Name    string
	Email   string
	Phone   string
	Address customer.Address
}

// CreateRequest holds the input for placing an order.
type CreateRequest struct {
	Lines           []pricing.Line
	Customer        Customer
	PaymentMethod   PaymentMethod
	PaymentIntentID string
	CouponCode      string
	// UserID is empty for guest checkouts.
	UserID      string
	SaveAddress bool
}

// CreateResult is the persisted order and its price breakdown.
type CreateResult struct {
	Order  *Order
	Totals pricing.Totals
}

// CancelRequest identifies the order to cancel and who is asking.
// Privileged callers bypass ownership checks.
type CancelRequest struct {
	OrderID    string
	UserID     string
	Privileged bool
}

// QuoteRequest is a cart preview.
type QuoteRequest struct {
	Lines      []pricing.Line
	UserID     string
	CouponCode string
}

// Quote is a priced cart.
type Quote struct {
	Lines  []pricing.PricedLine
	Totals pricing.Totals
}

// Notifier receives orders after their transaction committed. It must not
// block.
type Notifier interface {
	OrderCreated(ctx context.Context, res *CreateResult)
}

// Option configures a Service.
type Option func(*options)

type options struct {
	notifier Notifier
	meter    metric.MeterProvider
	tracer   trace.TracerProvider
}

// WithNotifier sets the post-commit order notifier.
func WithNotifier(n Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithMeterProvider sets the meter provider for checkout counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meter = mp }
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracer = tp }
}

// Service encapsulates the order lifecycle.
type Service struct {
	calc     *pricing.Calculator
	ledger   *coupon.Ledger
	settings pricing.SettingsSource
	loyalty  customer.LoyaltyReader
	orders   Repository
	tx       Transactor
	notifier Notifier
	now      func() time.Time

	tracer           trace.Tracer
	ordersCreated    metric.Int64Counter
	ordersCancelled  metric.Int64Counter
	stockConflicts   metric.Int64Counter
	couponRejections metric.Int64Counter
}

// NewService creates an order Service. orders is used for reads outside
// of transactions.
func NewService(
	calc *pricing.Calculator,
	settings pricing.SettingsSource,
	loyalty customer.LoyaltyReader,
	orders Repository,
	tx Transactor,
	opts ...Option,
) (*Service, error) {
	o := options{
		meter:  metricnoop.NewMeterProvider(),
		tracer: tracenoop.NewTracerProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Service{
		calc:     calc,
		ledger:   coupon.NewLedger(),
		settings: settings,
		loyalty:  loyalty,
		orders:   orders,
		tx:       tx,
		notifier: o.notifier,
		now:      time.Now,
		tracer:   o.tracer.Tracer("checkout/order"),
	}

	meter := o.meter.Meter("checkout/order")
	var err error
	if s.ordersCreated, err = meter.Int64Counter("checkout.orders.created",
		metric.WithDescription("Orders committed"),
	); err != nil {
		return nil, errors.Wrap(err, "orders created counter")
	}
	if s.ordersCancelled, err = meter.Int64Counter("checkout.orders.cancelled",
		metric.WithDescription("Orders cancelled with compensation"),
	); err != nil {
		return nil, errors.Wrap(err, "orders cancelled counter")
	}
	if s.stockConflicts, err = meter.Int64Counter("checkout.stock.conflicts",
		metric.WithDescription("Checkouts that lost a race for stock"),
	); err != nil {
		return nil, errors.Wrap(err, "stock conflicts counter")
	}
	if s.couponRejections, err = meter.Int64Counter("checkout.coupon.rejections",
		metric.WithDescription("Checkouts aborted by coupon re-validation"),
	); err != nil {
		return nil, errors.Wrap(err, "coupon rejections counter")
	}
	return s, nil
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, span := s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func(errp *error) {
		if err := *errp; err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// Quote prices a cart without any mutation.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (_ *Quote, rerr error) {
	ctx, end := s.startSpan(ctx, "order.Quote")
	defer end(&rerr)

	if err := validateLines(req.Lines); err != nil {
		return nil, err
	}
	priced, totals, err := s.price(ctx, req.Lines, req.UserID, req.CouponCode)
	if err != nil {
		return nil, err
	}
	return &Quote{Lines: priced, Totals: totals}, nil
}

func (s *Service) price(ctx context.Context, lines []pricing.Line, userID, couponCode string) ([]pricing.PricedLine, pricing.Totals, error) {
	priced, err := s.calc.Resolve(ctx, lines)
	if err != nil {
		return nil, pricing.Totals{}, err
	}

	settings, err := s.settings.ShippingSettings(ctx)
	if err != nil {
		return nil, pricing.Totals{}, errors.Wrap(err, "get shipping settings")
	}

	var cust *pricing.Customer
	if userID != "" {
		spent, err := s.loyalty.TotalSpent(ctx, userID)
		if err != nil {
			return nil, pricing.Totals{}, errors.Wrap(err, "get loyalty state")
		}
		cust = &pricing.Customer{TotalSpent: spent}
	}

	totals, err := s.calc.ComputeTotals(ctx, priced, cust, couponCode, settings)
	if err != nil {
		return nil, pricing.Totals{}, err
	}
	return priced, totals, nil
}

// Create prices the cart and, in one transaction, reserves stock, consumes
// the coupon, inserts the order and optionally saves the address.
func (s *Service) Create(ctx context.Context, req CreateRequest) (_ *CreateResult, rerr error) {
	ctx, end := s.startSpan(ctx, "order.Create",
		attribute.Int("order.lines", len(req.Lines)),
		attribute.Bool("order.coupon", req.CouponCode != ""),
	)
	defer end(&rerr)

	req.CouponCode = strings.TrimSpace(req.CouponCode)
	if err := validateCreate(&req); err != nil {
		return nil, err
	}

	priced, totals, err := s.price(ctx, req.Lines, req.UserID, req.CouponCode)
	if err != nil {
		return nil, err
	}
	stock := pricing.StockLines(priced)
	if err := inventory.CheckAvailable(stock); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	o := &Order{
		ID:              uuid.NewString(),
		Status:          StatusPending,
		CustomerName:    req.Customer.Name,
		CustomerEmail:   req.Customer.Email,
		CustomerAddress: req.Customer.Address,
		PaymentMethod:   req.PaymentMethod,
		PaymentIntentID: req.PaymentIntentID,
		UserID:          req.UserID,
		Items:           make([]Item, len(priced)),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for i, l := range priced {
		o.Items[i] = Item{
			ID:              uuid.NewString(),
			OrderID:         o.ID,
			ProductID:       l.ProductID,
			VariantID:       l.VariantID,
			Name:            l.Name,
			Price:           l.UnitPrice,
			Quantity:        l.Quantity,
			SelectedOptions: l.SelectedOptions,
		}
	}

	var final pricing.Totals
	if err := s.tx.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := inventory.Reserve(ctx, tx.Stock(), stock); err != nil {
			return err
		}

		// A code that previewed as worthless is not recorded on the order.
		final = totals.WithCouponDiscount(0)
		if req.CouponCode != "" && totals.CouponDiscount > 0 {
			res, err := s.ledger.ValidateAndReserve(ctx, tx.Coupons(), req.CouponCode, pricing.CouponItems(priced))
			if err != nil {
				return err
			}
			o.CouponID = res.CouponID
			o.CouponCode = res.Code
			final = totals.WithCouponDiscount(res.Discount)
		}

		o.Subtotal = final.Subtotal
		o.ShippingCost = final.ShippingCost
		o.DiscountAmount = final.CouponDiscount
		o.LoyaltyDiscount = final.LoyaltyDiscount
		o.TotalPrice = final.Total
		if err := tx.Orders().Insert(ctx, o); err != nil {
			return errors.Wrap(err, "insert order")
		}

		if req.SaveAddress && req.UserID != "" {
			if _, err := tx.Addresses().SaveIfNew(ctx, req.UserID, req.Customer.Address); err != nil {
				return errors.Wrap(err, "save address")
			}
		}
		return nil
	}); err != nil {
		s.recordCreateFailure(ctx, err)
		return nil, err
	}

	s.ordersCreated.Add(ctx, 1)
	zctx.From(ctx).Info("Order created",
		zap.String("order_id", o.ID),
		zap.Int64("total", o.TotalPrice),
		zap.String("coupon", o.CouponCode),
		zap.Bool("guest", o.UserID == ""),
	)

	res := &CreateResult{Order: o, Totals: final}
	if s.notifier != nil {
		s.notifier.OrderCreated(ctx, res)
	}
	return res, nil
}

func (s *Service) recordCreateFailure(ctx context.Context, err error) {
	lg := zctx.From(ctx)
	switch {
	case errors.Is(err, inventory.ErrStockConflict):
		s.stockConflicts.Add(ctx, 1)
		lg.Warn("Checkout lost stock race")
	case errors.Is(err, coupon.ErrInvalidCoupon),
		errors.Is(err, coupon.ErrCouponExpired),
		errors.Is(err, coupon.ErrCouponUsageLimitReached):
		s.couponRejections.Add(ctx, 1)
		lg.Warn("Coupon rejected at checkout", zap.Error(err))
	}
}

// Get returns an order visible to the requester.
func (s *Service) Get(ctx context.Context, id, userID string, privileged bool) (_ *Order, rerr error) {
	ctx, end := s.startSpan(ctx, "order.Get")
	defer end(&rerr)

	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !privileged && !o.OwnedBy(userID) {
		return nil, ErrForbidden
	}
	return o, nil
}

// Cancel moves a pending order to cancelled and gives back its stock and
// coupon use in the same transaction. The order itself is kept.
func (s *Service) Cancel(ctx context.Context, req CancelRequest) (_ *Order, rerr error) {
	ctx, end := s.startSpan(ctx, "order.Cancel",
		attribute.String("order.id", req.OrderID),
		attribute.Bool("privileged", req.Privileged),
	)
	defer end(&rerr)

	o, err := s.Get(ctx, req.OrderID, req.UserID, req.Privileged)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusPending {
		return nil, &InvalidTransitionError{From: o.Status, To: StatusCancelled}
	}

	lines := make([]inventory.Line, len(o.Items))
	for i, it := range o.Items {
		lines[i] = inventory.Line{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Name:      it.Name,
			Quantity:  it.Quantity,
		}
	}

	if err := s.tx.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		ok, err := tx.Orders().CompareAndSetStatus(ctx, o.ID, StatusPending, StatusCancelled)
		if err != nil {
			return errors.Wrap(err, "set status")
		}
		if !ok {
			// A concurrent cancel or status update got there first.
			return s.lostTransition(ctx, tx.Orders(), o.ID, StatusCancelled)
		}
		if err := inventory.Release(ctx, tx.Stock(), lines); err != nil {
			return err
		}
		if o.CouponID != "" {
			if err := s.ledger.Release(ctx, tx.Coupons(), o.CouponID); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	o.Status = StatusCancelled
	o.UpdatedAt = s.now().UTC()
	s.ordersCancelled.Add(ctx, 1)
	zctx.From(ctx).Info("Order cancelled",
		zap.String("order_id", o.ID),
		zap.Bool("privileged", req.Privileged),
	)
	return o, nil
}

// UpdateStatus applies an admin status change along a forward edge of the
// state machine. Stock and coupons are not touched; cancellation goes
// through Cancel.
func (s *Service) UpdateStatus(ctx context.Context, id string, to Status) (_ *Order, rerr error) {
	ctx, end := s.startSpan(ctx, "order.UpdateStatus",
		attribute.String("order.id", id),
		attribute.String("order.status", to.String()),
	)
	defer end(&rerr)

	switch to {
	case StatusUnknown:
		return nil, &ValidationError{Field: "status", Reason: "unknown status"}
	case StatusCancelled:
		return nil, &ValidationError{Field: "status", Reason: "use cancel to cancel an order"}
	}

	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(o.Status, to) {
		return nil, &InvalidTransitionError{From: o.Status, To: to}
	}

	ok, err := s.orders.CompareAndSetStatus(ctx, id, o.Status, to)
	if err != nil {
		return nil, errors.Wrap(err, "set status")
	}
	if !ok {
		return nil, s.lostTransition(ctx, s.orders, id, to)
	}

	zctx.From(ctx).Info("Order status changed",
		zap.String("order_id", id),
		zap.Stringer("from", o.Status),
		zap.Stringer("to", to),
	)
	o.Status = to
	o.UpdatedAt = s.now().UTC()
	return o, nil
}

// lostTransition builds the error for a compare-and-set that matched no
// row, reporting the status that is stored now.
func (s *Service) lostTransition(ctx context.Context, orders Repository, id string, to Status) error {
	current, err := orders.Get(ctx, id)
	if err != nil {
		return err
	}
	return &InvalidTransitionError{From: current.Status, To: to}
}

func validateLines(lines []pricing.Line) error {
	if len(lines) == 0 {
		return &ValidationError{Field: "items", Reason: "cart is empty"}
	}
	for _, l := range lines {
		if l.ProductID == "" {
			return &ValidationError{Field: "items.productId", Reason: "required"}
		}
		if l.Quantity <= 0 {
			return &ValidationError{Field: "items.quantity", Reason: "must be greater than 0 for product " + l.ProductID}
		}
		if l.Quantity > MaxLineQuantity {
			return &ValidationError{
				Field:  "items.quantity",
				Reason: "must not exceed " + strconv.Itoa(MaxLineQuantity) + " for product " + l.ProductID,
			}
		}
	}
	return nil
}

func validateCreate(req *CreateRequest) error {
	if err := validateLines(req.Lines); err != nil {
		return err
	}

	c := &req.Customer
	c.Name = strings.TrimSpace(c.Name)
	c.Email = strings.TrimSpace(c.Email)
	if c.Name == "" {
		return &ValidationError{Field: "customer.name", Reason: "required"}
	}
	if c.Email == "" {
		return &ValidationError{Field: "customer.email", Reason: "required"}
	}
	if addr, err := mail.ParseAddress(c.Email); err != nil || addr.Address != c.Email {
		return &ValidationError{Field: "customer.email", Reason: "invalid email address"}
	}

	a := &c.Address
	if a.Name == "" {
		a.Name = c.Name
	}
	if a.Phone == "" {
		a.Phone = c.Phone
	}
	for _, f := range []struct {
		field string
		value string
	}{
		{"customer.address.line1", a.Line1},
		{"customer.address.city", a.City},
		{"customer.address.postalCode", a.PostalCode},
		{"customer.address.country", a.Country},
	} {
		if strings.TrimSpace(f.value) == "" {
			return &ValidationError{Field: f.field, Reason: "required"}
		}
	}

	if !req.PaymentMethod.Valid() {
		return &ValidationError{Field: "paymentMethod", Reason: "unsupported payment method"}
	}
	return nil
}
