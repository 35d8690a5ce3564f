package product

import (
	"context"
	"fmt"
	"time"
)

// Product is a catalog item as seen by checkout. Prices are in minor units.
type Product struct {
	ID           string
	Name         string
	CategoryID   string
	Price        int64
	SalePrice    *int64
	SaleStartsAt *time.Time
	SaleEndsAt   *time.Time
	Stock        int
}

// EffectivePrice returns the sale price when a sale is active at now,
// otherwise the base price.
func (p *Product) EffectivePrice(now time.Time) int64 {
	if p.SalePrice == nil {
		return p.Price
	}
	if p.SaleStartsAt != nil && now.Before(*p.SaleStartsAt) {
		return p.Price
	}
	if p.SaleEndsAt != nil && now.After(*p.SaleEndsAt) {
		return p.Price
	}
	return *p.SalePrice
}

// Variant is a purchasable attribute combination of a product. When a cart
// line references a variant, its price and stock supersede the product's.
type Variant struct {
	ID         string
	ProductID  string
	Name       string
	Price      int64
	Stock      int
	Attributes Options
}

// Catalog is read-only access to products and variants. Missing ids are
// simply absent from the result.
type Catalog interface {
	ProductsByIDs(ctx context.Context, ids []string) ([]Product, error)
	VariantsByIDs(ctx context.Context, ids []string) ([]Variant, error)
}

// UnknownItemError indicates that a cart line references a product or
// variant that no longer exists.
type UnknownItemError struct {
	ProductID string
	VariantID string
}

func (e *UnknownItemError) Error() string {
	if e.VariantID != "" {
		return fmt.Sprintf("variant %s of product %s not found", e.VariantID, e.ProductID)
	}
	return fmt.Sprintf("product %s not found", e.ProductID)
}
