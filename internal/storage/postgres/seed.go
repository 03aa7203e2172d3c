package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/shopfront/internal/domain/cart"
	"github.com/xenking/shopfront/internal/domain/coupon"
	"github.com/xenking/shopfront/internal/domain/inventory"
	"github.com/xenking/shopfront/internal/domain/user"
)

const (
	upsertUserSQL = `INSERT INTO users (id, email, name) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, name = EXCLUDED.name`

	upsertProductSQL = `INSERT INTO products (id, name, image) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, image = EXCLUDED.image`

	upsertVariantSQL = `INSERT INTO product_variants
		(product_id, sku, color, storage, ram, image, price, stock, sold_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (product_id, sku) DO UPDATE SET
			color = EXCLUDED.color, storage = EXCLUDED.storage, ram = EXCLUDED.ram,
			image = EXCLUDED.image, price = EXCLUDED.price, stock = EXCLUDED.stock,
			sold_count = EXCLUDED.sold_count`

	upsertCouponSQL = `INSERT INTO coupons (` + couponColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT ((UPPER(code))) DO UPDATE SET
			code = EXCLUDED.code, type = EXCLUDED.type, kind = EXCLUDED.kind,
			discount = EXCLUDED.discount, minimum_order = EXCLUDED.minimum_order,
			maximum_discount = EXCLUDED.maximum_discount, start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date, quantity = EXCLUDED.quantity, hidden = EXCLUDED.hidden`

	insertCartItemSQL = `INSERT INTO cart_items (user_id, product_id, sku, quantity) VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, product_id, sku) DO UPDATE SET quantity = EXCLUDED.quantity`
)

// UpsertUser inserts or updates a user.
func (s *Store) UpsertUser(ctx context.Context, u user.User) error {
	if _, err := s.pool.Exec(ctx, upsertUserSQL, u.ID, u.Email, u.Name); err != nil {
		return errors.Wrapf(err, "upsert user %q", u.ID)
	}
	return nil
}

// UpsertProduct inserts or updates a product and all its variants in one
// transaction.
func (s *Store) UpsertProduct(ctx context.Context, p inventory.Product) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertProductSQL, p.ID, p.Name, p.Image); err != nil {
			return errors.Wrapf(err, "upsert product %q", p.ID)
		}
		for _, v := range p.Variants {
			if _, err := tx.Exec(ctx, upsertVariantSQL,
				p.ID, v.SKU, v.Color, v.Storage, v.RAM, v.Image, v.Price, v.Stock, v.SoldCount,
			); err != nil {
				return errors.Wrapf(err, "upsert variant %s/%s", p.ID, v.SKU)
			}
		}
		return nil
	})
}

// UpsertCoupons writes coupons in a single batch, matching existing rows by
// code regardless of case. Ids and usage counters of existing coupons are
// left untouched.
func (s *Store) UpsertCoupons(ctx context.Context, coupons []coupon.Coupon) error {
	if len(coupons) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range coupons {
		batch.Queue(upsertCouponSQL,
			c.ID, c.Code, string(c.Type), string(c.Kind), c.Discount, c.MinimumOrder, c.MaximumDiscount,
			c.StartDate, c.EndDate, c.Quantity, c.UsedCount, c.Hidden,
		)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrap(err, "upsert coupons")
	}
	return nil
}

// SetCart replaces the user's cart.
func (s *Store) SetCart(ctx context.Context, userID string, items []cart.Item) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, clearCartSQL, userID); err != nil {
			return errors.Wrap(err, "clear cart")
		}
		for _, it := range items {
			if _, err := tx.Exec(ctx, insertCartItemSQL, userID, it.ProductID, it.SKU, it.Quantity); err != nil {
				return errors.Wrapf(err, "add cart item %s/%s", it.ProductID, it.SKU)
			}
		}
		return nil
	})
}
