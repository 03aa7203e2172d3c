package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/shopfront/internal/domain/inventory"
)

const (
	reserveVariantSQL = `UPDATE product_variants v
		SET sold_count = v.sold_count + $3
		FROM products p
		WHERE p.id = v.product_id
		  AND v.product_id = $1 AND v.sku = $2
		  AND v.sold_count + $3 <= v.stock
		RETURNING v.product_id, p.name, COALESCE(NULLIF(v.image, ''), p.image),
			v.color, v.storage, v.ram, v.sku, v.price`

	variantExistsSQL = `SELECT EXISTS (SELECT 1 FROM product_variants WHERE product_id = $1 AND sku = $2)`

	releaseVariantSQL = `UPDATE product_variants
		SET sold_count = GREATEST(sold_count - $3, 0)
		WHERE product_id = $1 AND sku = $2`

	getVariantSQL = `SELECT product_id, sku, color, storage, ram, image, price, stock, sold_count
		FROM product_variants WHERE product_id = $1 AND sku = $2`
)

var _ inventory.Repository = (*InventoryRepository)(nil)

// InventoryRepository implements inventory.Repository backed by PostgreSQL.
type InventoryRepository struct {
	db DBTX
}

// Reserve performs the conditional increment in a single statement. When it
// matches no row, a follow-up probe tells a missing variant from an
// exhausted one.
func (r *InventoryRepository) Reserve(ctx context.Context, productID, sku string, qty int) (*inventory.Snapshot, error) {
	if qty <= 0 {
		return nil, inventory.ErrInvalidQuantity.With("productId", productID).With("sku", sku)
	}

	var s inventory.Snapshot
	err := r.db.QueryRow(ctx, reserveVariantSQL, productID, sku, qty).Scan(
		&s.ProductID, &s.Name, &s.Image, &s.Color, &s.Storage, &s.RAM, &s.SKU, &s.Price,
	)
	if err == nil {
		return &s, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(err, "reserve %s/%s", productID, sku)
	}

	var exists bool
	if err := r.db.QueryRow(ctx, variantExistsSQL, productID, sku).Scan(&exists); err != nil {
		return nil, errors.Wrapf(err, "probe %s/%s", productID, sku)
	}
	if !exists {
		return nil, inventory.NotFound(productID, sku)
	}
	return nil, inventory.OutOfStock(productID, sku)
}

// Release returns qty units, never going below zero.
func (r *InventoryRepository) Release(ctx context.Context, productID, sku string, qty int) error {
	tag, err := r.db.Exec(ctx, releaseVariantSQL, productID, sku, qty)
	if err != nil {
		return errors.Wrapf(err, "release %s/%s", productID, sku)
	}
	if tag.RowsAffected() == 0 {
		return inventory.NotFound(productID, sku)
	}
	return nil
}

// Variant returns the current counters of a variant.
func (r *InventoryRepository) Variant(ctx context.Context, productID, sku string) (*inventory.Variant, error) {
	rows, err := r.db.Query(ctx, getVariantSQL, productID, sku)
	if err != nil {
		return nil, errors.Wrapf(err, "get variant %s/%s", productID, sku)
	}
	v, err := pgx.CollectExactlyOneRow(rows, scanVariant)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, inventory.NotFound(productID, sku)
		}
		return nil, errors.Wrapf(err, "get variant %s/%s", productID, sku)
	}
	return &v, nil
}

func scanVariant(row pgx.CollectableRow) (inventory.Variant, error) {
	var v inventory.Variant
	err := row.Scan(&v.ProductID, &v.SKU, &v.Color, &v.Storage, &v.RAM, &v.Image, &v.Price, &v.Stock, &v.SoldCount)
	return v, err
}
