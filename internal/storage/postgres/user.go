package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/shopfront/internal/domain/cart"
	"github.com/xenking/shopfront/internal/domain/user"
)

const (
	getUserSQL = `SELECT id, email, name FROM users WHERE id = $1`

	appendHistorySQL = `INSERT INTO user_order_history (user_id, order_id, order_code, ordered_at, total, coupon_ids)
		VALUES ($1, $2::uuid, $3, $4, $5, $6)`

	usedCouponIDsSQL = `SELECT DISTINCT unnest(coupon_ids) FROM user_order_history WHERE user_id = $1`

	cartItemsSQL = `SELECT product_id, sku, quantity FROM cart_items WHERE user_id = $1 ORDER BY product_id, sku`

	clearCartSQL = `DELETE FROM cart_items WHERE user_id = $1`
)

var _ user.Repository = (*UserRepository)(nil)

// UserRepository implements user.Repository backed by PostgreSQL.
type UserRepository struct {
	db DBTX
}

func (r *UserRepository) Get(ctx context.Context, id string) (*user.User, error) {
	var u user.User
	err := r.db.QueryRow(ctx, getUserSQL, id).Scan(&u.ID, &u.Email, &u.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrNotFound.With("userId", id)
		}
		return nil, errors.Wrapf(err, "get user %q", id)
	}
	return &u, nil
}

func (r *UserRepository) AppendHistory(ctx context.Context, userID string, e user.HistoryEntry) error {
	couponIDs := e.CouponIDs
	if couponIDs == nil {
		couponIDs = []string{}
	}
	if _, err := r.db.Exec(ctx, appendHistorySQL,
		userID, e.OrderID, e.OrderCode, e.OrderedAt, e.Total, couponIDs,
	); err != nil {
		return errors.Wrapf(err, "append history for %q", userID)
	}
	return nil
}

func (r *UserRepository) UsedCouponIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.Query(ctx, usedCouponIDsSQL, userID)
	if err != nil {
		return nil, errors.Wrap(err, "used coupons")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, "used coupons")
	}
	return ids, nil
}

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	db DBTX
}

func (r *CartRepository) Items(ctx context.Context, userID string) ([]cart.Item, error) {
	rows, err := r.db.Query(ctx, cartItemsSQL, userID)
	if err != nil {
		return nil, errors.Wrap(err, "cart items")
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Item, error) {
		var it cart.Item
		err := row.Scan(&it.ProductID, &it.SKU, &it.Quantity)
		return it, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "cart items")
	}
	return items, nil
}

func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	if _, err := r.db.Exec(ctx, clearCartSQL, userID); err != nil {
		return errors.Wrapf(err, "clear cart for %q", userID)
	}
	return nil
}
