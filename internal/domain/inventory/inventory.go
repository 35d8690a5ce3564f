// Package inventory reserves and releases stock for order lines.
//
// Reservation relies entirely on the store's conditional decrement
// ("stock = stock - n WHERE stock >= n"): no row is read before it is
// written, so no application-level lock is needed. Callers run Reserve
// inside the same transaction that persists the order so that a failed
// line rolls back every line decremented before it.
package inventory

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/go-faster/errors"
)

// ErrStockConflict is returned when a conditional decrement affects no rows:
// a concurrent checkout consumed the stock after this cart was priced.
var ErrStockConflict = errors.New("stock changed during checkout")

// ErrInvalidQuantity is returned for a line whose quantity is not positive
// or for lines whose merged quantity does not fit in an int.
var ErrInvalidQuantity = errors.New("quantity out of range")

// OutOfStockError names a line whose requested quantity exceeds the stock
// observed when the cart was resolved.
type OutOfStockError struct {
	ProductID string
	VariantID string
	Name      string
	Requested int
	Available int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("%s: requested %d, only %d in stock", e.Name, e.Requested, e.Available)
}

// Line is a stock-affecting order line. Available is the stock level seen
// at resolution time and is only used by CheckAvailable.
type Line struct {
	ProductID string
	VariantID string
	Name      string
	Quantity  int
	Available int
}

// Store performs single-statement stock mutations. Decrement methods
// report false when the row did not have enough stock (or no longer
// exists).
type Store interface {
	DecrementProductStock(ctx context.Context, productID string, qty int) (bool, error)
	DecrementVariantStock(ctx context.Context, variantID string, qty int) (bool, error)
	IncrementProductStock(ctx context.Context, productID string, qty int) error
	IncrementVariantStock(ctx context.Context, variantID string, qty int) error
}

// CheckAvailable fails fast with an OutOfStockError for the first stock key
// whose aggregated quantity exceeds the observed stock.
func CheckAvailable(lines []Line) error {
	groups, err := aggregate(lines)
	if err != nil {
		return err
	}
	for _, g := range groups {
		if g.Quantity > g.Available {
			return &OutOfStockError{
				ProductID: g.ProductID,
				VariantID: g.VariantID,
				Name:      g.Name,
				Requested: g.Quantity,
				Available: g.Available,
			}
		}
	}
	return nil
}

// Reserve decrements stock for every line. Lines sharing a product or
// variant are merged, and keys are processed in sorted order so concurrent
// transactions acquire row locks in the same order.
func Reserve(ctx context.Context, store Store, lines []Line) error {
	groups, err := aggregate(lines)
	if err != nil {
		return err
	}
	for _, g := range groups {
		var ok bool
		if g.VariantID != "" {
			ok, err = store.DecrementVariantStock(ctx, g.VariantID, g.Quantity)
		} else {
			ok, err = store.DecrementProductStock(ctx, g.ProductID, g.Quantity)
		}
		if err != nil {
			return errors.Wrapf(err, "reserve %s", g.key())
		}
		if !ok {
			return ErrStockConflict
		}
	}
	return nil
}

// Release is the exact inverse of Reserve.
func Release(ctx context.Context, store Store, lines []Line) error {
	groups, err := aggregate(lines)
	if err != nil {
		return err
	}
	for _, g := range groups {
		if g.VariantID != "" {
			err = store.IncrementVariantStock(ctx, g.VariantID, g.Quantity)
		} else {
			err = store.IncrementProductStock(ctx, g.ProductID, g.Quantity)
		}
		if err != nil {
			return errors.Wrapf(err, "release %s", g.key())
		}
	}
	return nil
}

func (l Line) key() string {
	if l.VariantID != "" {
		return "variant:" + l.VariantID
	}
	return "product:" + l.ProductID
}

// aggregate merges lines by stock key and returns them sorted by key.
// Every merged quantity is positive, so a decrement never adds stock.
func aggregate(lines []Line) ([]Line, error) {
	byKey := make(map[string]int, len(lines))
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		k := l.key()
		if l.Quantity <= 0 {
			return nil, errors.Wrap(ErrInvalidQuantity, k)
		}
		if i, ok := byKey[k]; ok {
			if out[i].Quantity > math.MaxInt-l.Quantity {
				return nil, errors.Wrap(ErrInvalidQuantity, k)
			}
			out[i].Quantity += l.Quantity
			continue
		}
		byKey[k] = len(out)
		out = append(out, l)
	}
	slices.SortFunc(out, func(a, b Line) int {
		return cmp.Compare(a.key(), b.key())
	})
	return out, nil
}
