package memory

import (
	"context"
	"time"

	"github.com/xenking/shopfront/internal/domain/cart"
	"github.com/xenking/shopfront/internal/domain/coupon"
	"github.com/xenking/shopfront/internal/domain/inventory"
	"github.com/xenking/shopfront/internal/domain/order"
	"github.com/xenking/shopfront/internal/domain/user"
)

// Auto-commit adapters for callers outside a unit of work.

type autoCoupons struct{ s *Store }

func (a autoCoupons) FindRedeemable(ctx context.Context, code string, now time.Time) (c *coupon.Coupon, err error) {
	err = a.s.Do(ctx, func(ctx context.Context, st order.Stores) error {
		c, err = st.Coupons.FindRedeemable(ctx, code, now)
		return err
	})
	return c, err
}

func (a autoCoupons) ListRedeemable(ctx context.Context, now time.Time) (out []coupon.Coupon, err error) {
	err = a.s.Do(ctx, func(ctx context.Context, st order.Stores) error {
		out, err = st.Coupons.ListRedeemable(ctx, now)
		return err
	})
	return out, err
}

func (a autoCoupons) IncrementUsage(ctx context.Context, id string) error {
	return a.s.Do(ctx, func(ctx context.Context, st order.Stores) error {
		return st.Coupons.IncrementUsage(ctx, id)
	})
}

type autoUsers struct{ s *Store }

func (a autoUsers) Get(ctx context.Context, id string) (u *user.User, err error) {
	err = a.s.Do(ctx, func(ctx context.Context, st order.Stores) error {
		u, err = st.Users.Get(ctx, id)
		return err
	})
	return u, err
}

func (a autoUsers) AppendHistory(ctx context.Context, userID string, entry user.HistoryEntry) error {
	return a.s.Do(ctx, func(ctx context.Context, st order.Stores) error {
		return st.Users.AppendHistory(ctx, userID, entry)
	})
}

func (a autoUsers) UsedCouponIDs(ctx context.Context, userID string) (ids []string, err error) {
	err = a.s.Do(ctx, func(ctx context.Context, st order.Stores) error {
		ids, err = st.Users.UsedCouponIDs(ctx, userID)
		return err
	})
	return ids, err
}

type autoInventory struct{ s *Store }

func (a autoInventory) Reserve(ctx context.Context, productID, sku string, qty int) (snap *inventory.Snapshot, err error) {
	err = a.s.Do(ctx, func(ctx context.Context, st order.Stores) error {
		snap, err = st.Inventory.Reserve(ctx, productID, sku, qty)
		return err
	})
	return snap, err
}

func (a autoInventory) Release(ctx context.Context, productID, sku string, qty int) error {
	return a.s.Do(ctx, func(ctx context.Context, st order.Stores) error {
		return st.Inventory.Release(ctx, productID, sku, qty)
	})
}

func (a autoInventory) Variant(ctx context.Context, productID, sku string) (v *inventory.Variant, err error) {
	err = a.s.Do(ctx, func(ctx context.Context, st order.Stores) error {
		v, err = st.Inventory.Variant(ctx, productID, sku)
		return err
	})
	return v, err
}

type autoCarts struct{ s *Store }

func (a autoCarts) Items(ctx context.Context, userID string) (items []cart.Item, err error) {
	err = a.s.Do(ctx, func(ctx context.Context, st order.Stores) error {
		items, err = st.Carts.Items(ctx, userID)
		return err
	})
	return items, err
}

func (a autoCarts) Clear(ctx context.Context, userID string) error {
	return a.s.Do(ctx, func(ctx context.Context, st order.Stores) error {
		return st.Carts.Clear(ctx, userID)
	})
}
