package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/internal/domain/inventory"
	"github.com/xenking/storefront-checkout/internal/domain/product"
)

const (
	getProductsByIDsSQL = `SELECT id, name, COALESCE(category_id, ''), price, sale_price,
		sale_starts_at, sale_ends_at, stock
		FROM products WHERE id = ANY($1)`

	getVariantsByIDsSQL = `SELECT id, product_id, name, price, stock, attributes
		FROM product_variants WHERE id = ANY($1)`

	decrementProductStockSQL = `UPDATE products SET stock = stock - $2 WHERE id = $1 AND stock >= $2`
	decrementVariantStockSQL = `UPDATE product_variants SET stock = stock - $2 WHERE id = $1 AND stock >= $2`
	incrementProductStockSQL = `UPDATE products SET stock = stock + $2 WHERE id = $1`
	incrementVariantStockSQL = `UPDATE product_variants SET stock = stock + $2 WHERE id = $1`
)

var (
	_ product.Catalog = (*Catalog)(nil)
	_ inventory.Store = (*Stock)(nil)
)

// Catalog implements product.Catalog backed by PostgreSQL.
type Catalog struct {
	db dbtx
}

// NewCatalog returns a Catalog that uses the given pool.
func NewCatalog(pool *pgxpool.Pool) *Catalog {
	return &Catalog{db: pool}
}

// ProductsByIDs returns products matching any of the given IDs.
func (c *Catalog) ProductsByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := c.db.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products by ids")
	}
	return pgx.CollectRows(rows, scanProduct)
}

// VariantsByIDs returns variants matching any of the given IDs.
func (c *Catalog) VariantsByIDs(ctx context.Context, ids []string) ([]product.Variant, error) {
	rows, err := c.db.Query(ctx, getVariantsByIDsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get variants by ids")
	}
	return pgx.CollectRows(rows, scanVariant)
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(
		&p.ID, &p.Name, &p.CategoryID, &p.Price, &p.SalePrice,
		&p.SaleStartsAt, &p.SaleEndsAt, &p.Stock,
	)
	return p, err
}

func scanVariant(row pgx.CollectableRow) (product.Variant, error) {
	var (
		v     product.Variant
		attrs []byte
	)
	if err := row.Scan(&v.ID, &v.ProductID, &v.Name, &v.Price, &v.Stock, &attrs); err != nil {
		return v, err
	}
	if err := v.Attributes.UnmarshalJSON(attrs); err != nil {
		return v, errors.Wrapf(err, "decode attributes of variant %q", v.ID)
	}
	return v, nil
}

// Stock implements inventory.Store with conditional single-statement
// updates.
type Stock struct {
	db dbtx
}

// NewStock returns a Stock bound to the pool, outside any transaction.
func NewStock(pool *pgxpool.Pool) *Stock {
	return &Stock{db: pool}
}

func (s *Stock) DecrementProductStock(ctx context.Context, id string, qty int) (bool, error) {
	tag, err := s.db.Exec(ctx, decrementProductStockSQL, id, qty)
	if err != nil {
		return false, errors.Wrapf(err, "reserve stock for product %q", id)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Stock) DecrementVariantStock(ctx context.Context, id string, qty int) (bool, error) {
	tag, err := s.db.Exec(ctx, decrementVariantStockSQL, id, qty)
	if err != nil {
		return false, errors.Wrapf(err, "reserve stock for variant %q", id)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Stock) IncrementProductStock(ctx context.Context, id string, qty int) error {
	if _, err := s.db.Exec(ctx, incrementProductStockSQL, id, qty); err != nil {
		return errors.Wrapf(err, "restore stock for product %q", id)
	}
	return nil
}

func (s *Stock) IncrementVariantStock(ctx context.Context, id string, qty int) error {
	if _, err := s.db.Exec(ctx, incrementVariantStockSQL, id, qty); err != nil {
		return errors.Wrapf(err, "restore stock for variant %q", id)
	}
	return nil
}
