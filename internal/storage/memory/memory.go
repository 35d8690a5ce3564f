// Package memory is an in-process implementation of the checkout storage
// contracts. Transactions are serialized and roll back by restoring a
// snapshot, which makes it suitable for tests and local demos.
package memory

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/customer"
	"github.com/xenking/storefront-checkout/internal/domain/inventory"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/pricing"
	"github.com/xenking/storefront-checkout/internal/domain/product"
)

// Store holds all checkout state behind a single mutex.
type Store struct {
	mu        sync.Mutex
	st        *state
	insertErr error
}

var (
	_ product.Catalog        = (*Store)(nil)
	_ coupon.Store           = (*Store)(nil)
	_ inventory.Store        = (*Store)(nil)
	_ order.Repository       = (*Store)(nil)
	_ order.Transactor       = (*Store)(nil)
	_ customer.LoyaltyReader = (*Store)(nil)
	_ customer.AddressBook   = (*Store)(nil)
	_ pricing.SettingsSource = (*Store)(nil)
)

// New creates an empty store with the given shipping settings.
func New(settings pricing.Settings) *Store {
	return &Store{st: &state{
		products:  map[string]product.Product{},
		variants:  map[string]product.Variant{},
		coupons:   map[string]coupon.Coupon{},
		orders:    map[string]order.Order{},
		spent:     map[string]int64{},
		addresses: map[string][]customer.Address{},
		settings:  settings,
	}}
}

func (s *Store) with(fn func(st *state)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.st)
}

// WithinTx runs fn with exclusive access. Any error restores the state seen
// before fn started.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	t := &txState{state: s.st, insertErr: s.insertErr}
	s.insertErr = nil
	if err := fn(ctx, t); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// FailNextInsert makes the next transactional order insert fail with err.
func (s *Store) FailNextInsert(err error) {
	s.with(func(*state) { s.insertErr = err })
}

// PutProduct creates or replaces a product.
func (s *Store) PutProduct(p product.Product) {
	s.with(func(st *state) { st.products[p.ID] = p })
}

// PutVariant creates or replaces a variant.
func (s *Store) PutVariant(v product.Variant) {
	s.with(func(st *state) { st.variants[v.ID] = v })
}

// PutCoupon creates or replaces a coupon.
func (s *Store) PutCoupon(c coupon.Coupon) {
	s.with(func(st *state) { st.coupons[c.ID] = c })
}

// SetTotalSpent sets a customer's lifetime spend.
func (s *Store) SetTotalSpent(userID string, spent int64) {
	s.with(func(st *state) { st.spent[userID] = spent })
}

// SetSettings replaces the shipping settings.
func (s *Store) SetSettings(settings pricing.Settings) {
	s.with(func(st *state) { st.settings = settings })
}

// Product returns a product by id.
func (s *Store) Product(id string) (p product.Product, ok bool) {
	s.with(func(st *state) { p, ok = st.products[id] })
	return p, ok
}

// Variant returns a variant by id.
func (s *Store) Variant(id string) (v product.Variant, ok bool) {
	s.with(func(st *state) { v, ok = st.variants[id] })
	return v, ok
}

// Coupon returns a coupon by id.
func (s *Store) Coupon(id string) (c coupon.Coupon, ok bool) {
	s.with(func(st *state) { c, ok = st.coupons[id] })
	return c, ok
}

// Addresses returns the saved addresses of a user.
func (s *Store) Addresses(userID string) (out []customer.Address) {
	s.with(func(st *state) { out = slices.Clone(st.addresses[userID]) })
	return out
}

// OrderCount returns the number of stored orders.
func (s *Store) OrderCount() (n int) {
	s.with(func(st *state) { n = len(st.orders) })
	return n
}

func (s *Store) ProductsByIDs(_ context.Context, ids []string) (out []product.Product, err error) {
	s.with(func(st *state) { out = st.productsByIDs(ids) })
	return out, nil
}

func (s *Store) VariantsByIDs(_ context.Context, ids []string) (out []product.Variant, err error) {
	s.with(func(st *state) { out = st.variantsByIDs(ids) })
	return out, nil
}

func (s *Store) FindByCode(ctx context.Context, code string) (c *coupon.Coupon, err error) {
	s.with(func(st *state) { c, err = st.FindByCode(ctx, code) })
	return c, err
}

func (s *Store) IncrementUsage(ctx context.Context, id string) (ok bool, err error) {
	s.with(func(st *state) { ok, err = st.IncrementUsage(ctx, id) })
	return ok, err
}

func (s *Store) DecrementUsage(ctx context.Context, id string) (err error) {
	s.with(func(st *state) { err = st.DecrementUsage(ctx, id) })
	return err
}

func (s *Store) DecrementProductStock(ctx context.Context, id string, qty int) (ok bool, err error) {
	s.with(func(st *state) { ok, err = st.DecrementProductStock(ctx, id, qty) })
	return ok, err
}

func (s *Store) DecrementVariantStock(ctx context.Context, id string, qty int) (ok bool, err error) {
	s.with(func(st *state) { ok, err = st.DecrementVariantStock(ctx, id, qty) })
	return ok, err
}

func (s *Store) IncrementProductStock(ctx context.Context, id string, qty int) (err error) {
	s.with(func(st *state) { err = st.IncrementProductStock(ctx, id, qty) })
	return err
}

func (s *Store) IncrementVariantStock(ctx context.Context, id string, qty int) (err error) {
	s.with(func(st *state) { err = st.IncrementVariantStock(ctx, id, qty) })
	return err
}

func (s *Store) Insert(ctx context.Context, o *order.Order) (err error) {
	s.with(func(st *state) { err = st.Insert(ctx, o) })
	return err
}

func (s *Store) Get(ctx context.Context, id string) (o *order.Order, err error) {
	s.with(func(st *state) { o, err = st.Get(ctx, id) })
	return o, err
}

func (s *Store) CompareAndSetStatus(ctx context.Context, id string, from, to order.Status) (ok bool, err error) {
	s.with(func(st *state) { ok, err = st.CompareAndSetStatus(ctx, id, from, to) })
	return ok, err
}

func (s *Store) SaveIfNew(ctx context.Context, userID string, addr customer.Address) (ok bool, err error) {
	s.with(func(st *state) { ok, err = st.SaveIfNew(ctx, userID, addr) })
	return ok, err
}

func (s *Store) TotalSpent(_ context.Context, userID string) (spent int64, err error) {
	s.with(func(st *state) { spent = st.spent[userID] })
	return spent, nil
}

func (s *Store) ShippingSettings(context.Context) (settings pricing.Settings, err error) {
	s.with(func(st *state) { settings = st.settings })
	return settings, nil
}

type state struct {
	products  map[string]product.Product
	variants  map[string]product.Variant
	coupons   map[string]coupon.Coupon
	orders    map[string]order.Order
	spent     map[string]int64
	addresses map[string][]customer.Address
	settings  pricing.Settings
}

// clone copies every map. Values stored in maps are never mutated in
// place, so shallow value copies are enough.
func (st *state) clone() *state {
	addresses := make(map[string][]customer.Address, len(st.addresses))
	for k, v := range st.addresses {
		addresses[k] = slices.Clone(v)
	}
	return &state{
		products:  maps.Clone(st.products),
		variants:  maps.Clone(st.variants),
		coupons:   maps.Clone(st.coupons),
		orders:    maps.Clone(st.orders),
		spent:     maps.Clone(st.spent),
		addresses: addresses,
		settings:  st.settings,
	}
}

func (st *state) productsByIDs(ids []string) []product.Product {
	var out []product.Product
	seen := map[string]bool{}
	for _, id := range ids {
		if p, ok := st.products[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, p)
		}
	}
	return out
}

func (st *state) variantsByIDs(ids []string) []product.Variant {
	var out []product.Variant
	seen := map[string]bool{}
	for _, id := range ids {
		if v, ok := st.variants[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, v)
		}
	}
	return out
}

func (st *state) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	for _, c := range st.coupons {
		if strings.EqualFold(c.Code, code) {
			return &c, nil
		}
	}
	return nil, coupon.ErrInvalidCoupon
}

func (st *state) IncrementUsage(_ context.Context, id string) (bool, error) {
	c, ok := st.coupons[id]
	if !ok || (c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit) {
		return false, nil
	}
	c.UsedCount++
	st.coupons[id] = c
	return true, nil
}

func (st *state) DecrementUsage(_ context.Context, id string) error {
	if c, ok := st.coupons[id]; ok && c.UsedCount > 0 {
		c.UsedCount--
		st.coupons[id] = c
	}
	return nil
}

func (st *state) DecrementProductStock(_ context.Context, id string, qty int) (bool, error) {
	p, ok := st.products[id]
	if !ok || p.Stock < qty {
		return false, nil
	}
	p.Stock -= qty
	st.products[id] = p
	return true, nil
}

func (st *state) DecrementVariantStock(_ context.Context, id string, qty int) (bool, error) {
	v, ok := st.variants[id]
	if !ok || v.Stock < qty {
		return false, nil
	}
	v.Stock -= qty
	st.variants[id] = v
	return true, nil
}

func (st *state) IncrementProductStock(_ context.Context, id string, qty int) error {
	if p, ok := st.products[id]; ok {
		p.Stock += qty
		st.products[id] = p
	}
	return nil
}

func (st *state) IncrementVariantStock(_ context.Context, id string, qty int) error {
	if v, ok := st.variants[id]; ok {
		v.Stock += qty
		st.variants[id] = v
	}
	return nil
}

func (st *state) Insert(_ context.Context, o *order.Order) error {
	if _, ok := st.orders[o.ID]; ok {
		return errors.Errorf("order %s already exists", o.ID)
	}
	stored := *o
	stored.Items = slices.Clone(o.Items)
	st.orders[o.ID] = stored
	return nil
}

func (st *state) Get(_ context.Context, id string) (*order.Order, error) {
	o, ok := st.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	o.Items = slices.Clone(o.Items)
	return &o, nil
}

func (st *state) CompareAndSetStatus(_ context.Context, id string, from, to order.Status) (bool, error) {
	o, ok := st.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	st.orders[id] = o
	return true, nil
}

func (st *state) SaveIfNew(_ context.Context, userID string, addr customer.Address) (bool, error) {
	if slices.Contains(st.addresses[userID], addr) {
		return false, nil
	}
	st.addresses[userID] = append(st.addresses[userID], addr)
	return true, nil
}

// txState is the view handed to transaction callbacks. The store mutex is
// already held.
type txState struct {
	*state
	insertErr error
}

func (t *txState) Stock() inventory.Store { return t.state }
func (t *txState) Coupons() coupon.Store { return t.state }
func (t *txState) Addresses() customer.AddressBook { return t.state }
func (t *txState) Orders() order.Repository { return t }

func (t *txState) Insert(ctx context.Context, o *order.Order) error {
	if t.insertErr != nil {
		return t.insertErr
	}
	return t.state.Insert(ctx, o)
}
