package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/shopfront/pkg/apperr"
)

// mockCouponRepo mirrors the window/hidden filtering a real store applies.
type mockCouponRepo struct {
	coupons      []Coupon
	err          error
	incremented  []string
	lookupCalled bool
}

func (m *mockCouponRepo) FindRedeemable(_ context.Context, code string, now time.Time) (*Coupon, error) {
	m.lookupCalled = true
	if m.err != nil {
		return nil, m.err
	}
	for i := range m.coupons {
		c := m.coupons[i]
		if c.Code != code || c.Hidden || now.Before(c.StartDate) || now.After(c.EndDate) {
			continue
		}
		return &c, nil
	}
	return nil, ErrNotFound
}

func (m *mockCouponRepo) ListRedeemable(_ context.Context, now time.Time) ([]Coupon, error) {
	var out []Coupon
	for _, c := range m.coupons {
		if c.Redeemable(now) {
			out = append(out, c)
		}
	}
	return out, m.err
}

func (m *mockCouponRepo) IncrementUsage(_ context.Context, id string) error {
	m.incremented = append(m.incremented, id)
	return nil
}

type mockUsage struct {
	ids []string
	err error
}

func (m mockUsage) UsedCouponIDs(context.Context, string) ([]string, error) {
	return m.ids, m.err
}

func TestEvaluator_Evaluate(t *testing.T) {
	fixedNow := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	yesterday := fixedNow.Add(-24 * time.Hour)
	tomorrow := fixedNow.Add(24 * time.Hour)

	base := func(mut func(c *Coupon)) Coupon {
		c := Coupon{
			ID:              "c1",
			Code:            "SALE10",
			Type:            TypeShopping,
			Kind:            KindPercent,
			Discount:        d("10"),
			MaximumDiscount: d("50000"),
			MinimumOrder:    d("100000"),
			StartDate:       yesterday,
			EndDate:         tomorrow,
			Quantity:        10,
		}
		if mut != nil {
			mut(&c)
		}
		return c
	}

	tests := []struct {
		name       string
		coupons    []Coupon
		code       string
		subtotal   decimal.Decimal
		wantAmount decimal.Decimal
		wantErr    error
		wantKind   apperr.Kind
	}{
		{
			name:       "percent coupon capped",
			coupons:    []Coupon{base(nil)},
			code:       "SALE10",
			subtotal:   d("1000000"),
			wantAmount: d("50000"),
		},
		{
			name: "fixed coupon exact amount",
			coupons: []Coupon{base(func(c *Coupon) {
				c.Kind = KindFixed
				c.Discount = d("20000")
			})},
			code:       "SALE10",
			subtotal:   d("100000"),
			wantAmount: d("20000"),
		},
		{
			name:     "unknown code",
			coupons:  []Coupon{base(nil)},
			code:     "NOPE",
			subtotal: d("1000000"),
			wantErr:  ErrNotFound,
		},
		{
			name:     "expired coupon looks like unknown code",
			coupons:  []Coupon{base(func(c *Coupon) { c.EndDate = yesterday.Add(time.Hour) })},
			code:     "SALE10",
			subtotal: d("1000000"),
			wantErr:  ErrNotFound,
		},
		{
			name:     "not yet started",
			coupons:  []Coupon{base(func(c *Coupon) { c.StartDate = tomorrow.Add(-time.Hour) })},
			code:     "SALE10",
			subtotal: d("1000000"),
			wantErr:  ErrNotFound,
		},
		{
			name:     "hidden coupon",
			coupons:  []Coupon{base(func(c *Coupon) { c.Hidden = true })},
			code:     "SALE10",
			subtotal: d("1000000"),
			wantErr:  ErrNotFound,
		},
		{
			name:     "fully used regardless of subtotal",
			coupons:  []Coupon{base(func(c *Coupon) { c.UsedCount = 10 })},
			code:     "SALE10",
			subtotal: d("99000000"),
			wantErr:  ErrFullyUsed,
		},
		{
			name:     "below minimum order",
			coupons:  []Coupon{base(nil)},
			code:     "SALE10",
			subtotal: d("99999"),
			wantKind: apperr.KindConflict,
		},
		{
			name:     "empty code",
			coupons:  []Coupon{base(nil)},
			code:     "  ",
			subtotal: d("100000"),
			wantErr:  ErrEmptyCode,
		},
		{
			name:     "zero subtotal",
			coupons:  []Coupon{base(nil)},
			code:     "SALE10",
			subtotal: decimal.Zero,
			wantErr:  ErrInvalidSubtotal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockCouponRepo{coupons: tt.coupons}
			e := NewEvaluator(repo)
			e.now = func() time.Time { return fixedNow }

			got, err := e.Evaluate(context.Background(), tt.code, tt.subtotal)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}
			if tt.wantKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, apperr.KindOf(err))
				return
			}

			require.NoError(t, err)
			assert.True(t, tt.wantAmount.Equal(got.Amount),
				"expected amount %s, got %s", tt.wantAmount, got.Amount)
			assert.Empty(t, repo.incremented, "evaluation must not consume usage")
		})
	}
}

func TestEvaluator_MinimumOrderMessage(t *testing.T) {
	now := time.Now()
	repo := &mockCouponRepo{coupons: []Coupon{{
		ID: "c1", Code: "MIN", Kind: KindFixed, Discount: d("1000"),
		MinimumOrder: d("500000"), StartDate: now.Add(-time.Hour), EndDate: now.Add(time.Hour),
		Quantity: 1,
	}}}

	_, err := NewEvaluator(repo).Evaluate(context.Background(), "MIN", d("100"))

	typed, ok := apperr.As(err)
	require.True(t, ok)
	assert.Contains(t, typed.Message(), "500000")
	assert.Equal(t, "500000", typed.Details()["minimumOrder"])
}

func TestEvaluator_RepositoryError(t *testing.T) {
	repo := &mockCouponRepo{err: errors.New("connection reset")}

	_, err := NewEvaluator(repo).Evaluate(context.Background(), "X", d("10"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "lookup coupon")
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}

func TestEvaluator_Available(t *testing.T) {
	now := time.Now()
	window := func(c Coupon) Coupon {
		c.StartDate = now.Add(-time.Hour)
		c.EndDate = now.Add(time.Hour)
		c.Quantity = 5
		return c
	}
	repo := &mockCouponRepo{coupons: []Coupon{
		window(Coupon{ID: "c1", Code: "A"}),
		window(Coupon{ID: "c2", Code: "B"}),
		window(Coupon{ID: "c3", Code: "C", Hidden: true}),
		window(Coupon{ID: "c4", Code: "D", UsedCount: 5}),
	}}

	got, err := NewEvaluator(repo).Available(context.Background(), mockUsage{ids: []string{"c2"}}, "u1")

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].Code)
}
