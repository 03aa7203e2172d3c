package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/xenking/shopfront/internal/domain/cart"
	"github.com/xenking/shopfront/internal/domain/coupon"
	"github.com/xenking/shopfront/internal/domain/inventory"
	"github.com/xenking/shopfront/internal/domain/order"
	"github.com/xenking/shopfront/internal/domain/user"
)

type inventoryRepo struct{ st *state }

func (r *inventoryRepo) Reserve(_ context.Context, productID, sku string, qty int) (*inventory.Snapshot, error) {
	if qty <= 0 {
		return nil, inventory.ErrInvalidQuantity.With("productId", productID).With("sku", sku)
	}
	p, ok := r.st.products[productID]
	if !ok {
		return nil, inventory.NotFound(productID, sku)
	}
	key := variantKey{productID: productID, sku: sku}
	v, ok := r.st.variants[key]
	if !ok {
		return nil, inventory.NotFound(productID, sku)
	}
	if v.Available() < qty {
		return nil, inventory.OutOfStock(productID, sku)
	}
	v.SoldCount += qty
	r.st.variants[key] = v

	image := v.Image
	if image == "" {
		image = p.image
	}
	return &inventory.Snapshot{
		ProductID: productID,
		Name:      p.name,
		Image:     image,
		Color:     v.Color,
		Storage:   v.Storage,
		RAM:       v.RAM,
		SKU:       v.SKU,
		Price:     v.Price,
	}, nil
}

func (r *inventoryRepo) Release(_ context.Context, productID, sku string, qty int) error {
	key := variantKey{productID: productID, sku: sku}
	v, ok := r.st.variants[key]
	if !ok {
		return inventory.NotFound(productID, sku)
	}
	v.SoldCount = max(v.SoldCount-qty, 0)
	r.st.variants[key] = v
	return nil
}

func (r *inventoryRepo) Variant(_ context.Context, productID, sku string) (*inventory.Variant, error) {
	v, ok := r.st.variants[variantKey{productID: productID, sku: sku}]
	if !ok {
		return nil, inventory.NotFound(productID, sku)
	}
	return &v, nil
}

type couponRepo struct{ st *state }

func inWindow(c coupon.Coupon, now time.Time) bool {
	return !c.Hidden && !now.Before(c.StartDate) && !now.After(c.EndDate)
}

func (r *couponRepo) FindRedeemable(_ context.Context, code string, now time.Time) (*coupon.Coupon, error) {
	for _, c := range r.st.coupons {
		if strings.EqualFold(c.Code, code) && inWindow(c, now) {
			return &c, nil
		}
	}
	return nil, coupon.ErrNotFound
}

func (r *couponRepo) ListRedeemable(_ context.Context, now time.Time) ([]coupon.Coupon, error) {
	var out []coupon.Coupon
	for _, c := range r.st.coupons {
		if c.Redeemable(now) {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b coupon.Coupon) int { return strings.Compare(a.Code, b.Code) })
	return out, nil
}

func (r *couponRepo) IncrementUsage(_ context.Context, id string) error {
	c, ok := r.st.coupons[id]
	if !ok {
		return coupon.ErrNotFound.With("couponId", id)
	}
	if c.UsedCount >= c.Quantity {
		return coupon.ErrFullyUsed.With("code", c.Code)
	}
	c.UsedCount++
	r.st.coupons[id] = c
	return nil
}

type orderRepo struct{ st *state }

func cloneOrder(o order.Order) order.Order {
	o.Items = slices.Clone(o.Items)
	o.CouponIDs = slices.Clone(o.CouponIDs)
	if o.Cancellation != nil {
		c := *o.Cancellation
		o.Cancellation = &c
	}
	return o
}

func (r *orderRepo) Create(_ context.Context, o *order.Order) error {
	if _, taken := r.st.codes[o.Code]; taken {
		return order.ErrDuplicateCode.With("code", o.Code)
	}
	r.st.orders[o.ID] = cloneOrder(*o)
	r.st.codes[o.Code] = o.ID
	return nil
}

func (r *orderRepo) Get(_ context.Context, id string) (*order.Order, error) {
	o, ok := r.st.orders[id]
	if !ok {
		return nil, order.ErrNotFound.With("orderId", id)
	}
	cp := cloneOrder(o)
	return &cp, nil
}

// GetForUpdate needs no locking: units of work are already serialized.
func (r *orderRepo) GetForUpdate(ctx context.Context, id string) (*order.Order, error) {
	return r.Get(ctx, id)
}

func (r *orderRepo) GetByCodeForUpdate(ctx context.Context, code string) (*order.Order, error) {
	id, ok := r.st.codes[code]
	if !ok {
		return nil, order.ErrNotFound.With("orderCode", code)
	}
	return r.Get(ctx, id)
}

func (r *orderRepo) ListByUser(_ context.Context, userID string) ([]order.Order, error) {
	var out []order.Order
	for _, o := range r.st.orders {
		if o.UserID == userID {
			out = append(out, cloneOrder(o))
		}
	}
	slices.SortFunc(out, func(a, b order.Order) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

func (r *orderRepo) Update(_ context.Context, o *order.Order) error {
	cur, ok := r.st.orders[o.ID]
	if !ok {
		return order.ErrNotFound.With("orderId", o.ID)
	}
	next := cloneOrder(*o)
	// Identity and pricing are immutable after creation.
	next.Code, next.UserID, next.Items = cur.Code, cur.UserID, cur.Items
	next.Subtotal, next.Total = cur.Subtotal, cur.Total
	r.st.orders[o.ID] = next
	return nil
}

type userRepo struct{ st *state }

func (r *userRepo) Get(_ context.Context, id string) (*user.User, error) {
	u, ok := r.st.users[id]
	if !ok {
		return nil, user.ErrNotFound.With("userId", id)
	}
	return &u, nil
}

func (r *userRepo) AppendHistory(_ context.Context, userID string, entry user.HistoryEntry) error {
	if _, ok := r.st.users[userID]; !ok {
		return user.ErrNotFound.With("userId", userID)
	}
	entry.CouponIDs = slices.Clone(entry.CouponIDs)
	r.st.history[userID] = append(r.st.history[userID], entry)
	return nil
}

func (r *userRepo) UsedCouponIDs(_ context.Context, userID string) ([]string, error) {
	var ids []string
	for _, h := range r.st.history[userID] {
		ids = append(ids, h.CouponIDs...)
	}
	return ids, nil
}

type cartRepo struct{ st *state }

func (r *cartRepo) Items(_ context.Context, userID string) ([]cart.Item, error) {
	return slices.Clone(r.st.carts[userID]), nil
}

func (r *cartRepo) Clear(_ context.Context, userID string) error {
	delete(r.st.carts, userID)
	return nil
}
