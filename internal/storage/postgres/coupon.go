package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/shopfront/internal/domain/coupon"
)

const (
	couponColumns = `id, code, type, kind, discount, minimum_order, maximum_discount,
		start_date, end_date, quantity, used_count, hidden`

	findRedeemableCouponSQL = `SELECT ` + couponColumns + `
		FROM coupons
		WHERE UPPER(code) = UPPER($1) AND NOT hidden AND start_date <= $2 AND end_date >= $2`

	listRedeemableCouponsSQL = `SELECT ` + couponColumns + `
		FROM coupons
		WHERE NOT hidden AND start_date <= $1 AND end_date >= $1 AND used_count < quantity
		ORDER BY code`

	incrementCouponUsageSQL = `UPDATE coupons SET used_count = used_count + 1
		WHERE id = $1 AND used_count < quantity`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	db DBTX
}

// FindRedeemable looks up a visible, in-window coupon by code
// (case-insensitive). Exhausted coupons are returned so the caller can
// report them as such.
func (r *CouponRepository) FindRedeemable(ctx context.Context, code string, now time.Time) (*coupon.Coupon, error) {
	rows, err := r.db.Query(ctx, findRedeemableCouponSQL, code, now)
	if err != nil {
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	return &c, nil
}

// ListRedeemable returns every visible, in-window coupon with uses left.
func (r *CouponRepository) ListRedeemable(ctx context.Context, now time.Time) ([]coupon.Coupon, error) {
	rows, err := r.db.Query(ctx, listRedeemableCouponsSQL, now)
	if err != nil {
		return nil, errors.Wrap(err, "list coupons")
	}
	list, err := pgx.CollectRows(rows, scanCoupon)
	if err != nil {
		return nil, errors.Wrap(err, "list coupons")
	}
	return list, nil
}

// IncrementUsage bumps used_count only while it is below quantity.
func (r *CouponRepository) IncrementUsage(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, incrementCouponUsageSQL, id)
	if err != nil {
		return errors.Wrapf(err, "increment coupon %q", id)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrFullyUsed.With("couponId", id)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c    coupon.Coupon
		typ  string
		kind string
		qty  int32
		used int32
	)
	err := row.Scan(
		&c.ID, &c.Code, &typ, &kind, &c.Discount, &c.MinimumOrder, &c.MaximumDiscount,
		&c.StartDate, &c.EndDate, &qty, &used, &c.Hidden,
	)
	c.Type = coupon.Type(typ)
	c.Kind = coupon.Kind(kind)
	c.Quantity = int(qty)
	c.UsedCount = int(used)
	return c, err
}
