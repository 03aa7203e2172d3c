package memory

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/shopfront/internal/domain/coupon"
	"github.com/xenking/shopfront/internal/domain/inventory"
	"github.com/xenking/shopfront/internal/domain/order"
)

func newTestStore() *Store {
	s := New()
	s.AddProduct(inventory.Product{
		ID:    "P1",
		Name:  "Phone X",
		Image: "phone.png",
		Variants: []inventory.Variant{
			{SKU: "A", Price: decimal.NewFromInt(500000), Stock: 4, SoldCount: 3},
			{SKU: "B", Image: "phone-b.png", Price: decimal.NewFromInt(550000), Stock: 2},
		},
	})
	return s
}

func TestStore_ReserveMatchesProductAndSKU(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	snap, err := s.Inventory().Reserve(ctx, "P1", "B", 2)
	require.NoError(t, err)
	assert.Equal(t, "phone-b.png", snap.Image)
	assert.Equal(t, "Phone X", snap.Name)

	a, err := s.Inventory().Variant(ctx, "P1", "A")
	require.NoError(t, err)
	assert.Equal(t, 3, a.SoldCount, "sibling variant untouched")

	_, err = s.Inventory().Reserve(ctx, "P1", "A", 2)
	require.ErrorIs(t, err, inventory.ErrOutOfStock)

	_, err = s.Inventory().Reserve(ctx, "P9", "A", 1)
	require.ErrorIs(t, err, inventory.ErrVariantNotFound)

	require.NoError(t, s.Inventory().Release(ctx, "P1", "A", 10))
	a, err = s.Inventory().Variant(ctx, "P1", "A")
	require.NoError(t, err)
	assert.Zero(t, a.SoldCount)
}

func TestStore_DoRollsBackOnError(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Do(ctx, func(ctx context.Context, st order.Stores) error {
		if _, err := st.Inventory.Reserve(ctx, "P1", "B", 1); err != nil {
			return err
		}
		if err := st.Orders.Create(ctx, &order.Order{ID: "o1", Code: "ORD1", UserID: "u1"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	b, err := s.Inventory().Variant(ctx, "P1", "B")
	require.NoError(t, err)
	assert.Zero(t, b.SoldCount)
	assert.Zero(t, s.OrderCount())
}

func TestStore_DoHonorsCancellation(t *testing.T) {
	s := newTestStore()
	ctx, cancel := context.WithCancel(context.Background())

	err := s.Do(ctx, func(ctx context.Context, st order.Stores) error {
		_, err := st.Inventory.Reserve(ctx, "P1", "B", 1)
		cancel()
		return err
	})
	require.ErrorIs(t, err, context.Canceled)

	b, err := s.Inventory().Variant(context.Background(), "P1", "B")
	require.NoError(t, err)
	assert.Zero(t, b.SoldCount)
}

func TestStore_OrderCodeUnique(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	create := func(id string) error {
		return s.Do(ctx, func(ctx context.Context, st order.Stores) error {
			return st.Orders.Create(ctx, &order.Order{ID: id, Code: "ORD1", UserID: "u1"})
		})
	}
	require.NoError(t, create("o1"))
	require.ErrorIs(t, create("o2"), order.ErrDuplicateCode)
}

func TestStore_OrderUpdateKeepsPricing(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	o := &order.Order{ID: "o1", Code: "ORD1", UserID: "u1", Total: decimal.NewFromInt(10), Status: order.StatusPending}

	require.NoError(t, s.Do(ctx, func(ctx context.Context, st order.Stores) error {
		return st.Orders.Create(ctx, o)
	}))

	o.Status = order.StatusOnTheWay
	o.Total = decimal.NewFromInt(1)
	require.NoError(t, s.Do(ctx, func(ctx context.Context, st order.Stores) error {
		return st.Orders.Update(ctx, o)
	}))

	require.NoError(t, s.Do(ctx, func(ctx context.Context, st order.Stores) error {
		got, err := st.Orders.Get(ctx, "o1")
		require.NoError(t, err)
		assert.Equal(t, order.StatusOnTheWay, got.Status)
		assert.True(t, decimal.NewFromInt(10).Equal(got.Total))
		return nil
	}))
}

func TestStore_CouponUsage(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()
	s.AddCoupon(coupon.Coupon{
		ID: "c1", Code: "ONCE", Quantity: 1,
		StartDate: now.Add(-time.Hour), EndDate: now.Add(time.Hour),
	})
	s.AddCoupon(coupon.Coupon{
		ID: "c2", Code: "SECRET", Quantity: 1, Hidden: true,
		StartDate: now.Add(-time.Hour), EndDate: now.Add(time.Hour),
	})

	_, err := s.Coupons().FindRedeemable(ctx, "SECRET", now)
	require.ErrorIs(t, err, coupon.ErrNotFound)

	require.NoError(t, s.Coupons().IncrementUsage(ctx, "c1"))
	require.ErrorIs(t, s.Coupons().IncrementUsage(ctx, "c1"), coupon.ErrFullyUsed)

	c, err := s.Coupons().FindRedeemable(ctx, "ONCE", now)
	require.NoError(t, err, "exhausted coupons are still found so callers can report them")
	assert.Equal(t, 1, c.UsedCount)

	list, err := s.Coupons().ListRedeemable(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStore_ReserveUpToAvailable(t *testing.T) {
	tests := []struct {
		name    string
		stock   int
		sold    int
		qty     int
		wantErr error
	}{
		{name: "exactly available", stock: 5, sold: 3, qty: 2},
		{name: "one over", stock: 5, sold: 3, qty: 3, wantErr: inventory.ErrOutOfStock},
		{name: "sold out", stock: 5, sold: 5, qty: 1, wantErr: inventory.ErrOutOfStock},
		{name: "oversold row", stock: 2, sold: 4, qty: 1, wantErr: inventory.ErrOutOfStock},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			s.AddProduct(inventory.Product{ID: "P1", Variants: []inventory.Variant{
				{SKU: "A", Price: decimal.NewFromInt(1000), Stock: tt.stock, SoldCount: tt.sold},
			}})
			ctx := context.Background()

			_, err := s.Inventory().Reserve(ctx, "P1", "A", tt.qty)
			v, verr := s.Inventory().Variant(ctx, "P1", "A")
			require.NoError(t, verr)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, tt.sold, v.SoldCount)
				return
			}
			require.NoError(t, err)
			assert.Zero(t, v.Available())
		})
	}
}
