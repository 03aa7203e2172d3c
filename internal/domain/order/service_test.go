package order_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/shopfront/internal/domain/cart"
	"github.com/xenking/shopfront/internal/domain/coupon"
	"github.com/xenking/shopfront/internal/domain/inventory"
	"github.com/xenking/shopfront/internal/domain/order"
	"github.com/xenking/shopfront/internal/domain/payment"
	"github.com/xenking/shopfront/internal/domain/user"
	"github.com/xenking/shopfront/internal/payment/momo"
	"github.com/xenking/shopfront/internal/storage/memory"
	"github.com/xenking/shopfront/pkg/apperr"
)

// --- Fakes ---

type fakeGateway struct {
	url      string
	err      error
	result   *payment.CallbackResult
	checkErr error
	created  atomic.Int32
}

func (g *fakeGateway) CreatePaymentURL(_ context.Context, _ payment.Request) (string, error) {
	g.created.Add(1)
	if g.err != nil {
		return "", g.err
	}
	return g.url, nil
}

func (g *fakeGateway) CheckStatus(_ context.Context, _ map[string]string) (*payment.CallbackResult, error) {
	if g.checkErr != nil {
		return nil, g.checkErr
	}
	return g.result, nil
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []order.Confirmation
	err  error
}

func (m *fakeMailer) SendOrderConfirmation(_ context.Context, c order.Confirmation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, c)
	return nil
}

// --- Helpers ---

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	store  *memory.Store
	svc    *order.Service
	vnpay  *fakeGateway
	mailer *fakeMailer
}

func newFixture(t *testing.T, stock, sold int) *fixture {
	t.Helper()

	store := memory.New()
	store.AddUser(user.User{ID: "u1", Email: "u1@shop.test", Name: "First Buyer"})
	store.AddUser(user.User{ID: "u2", Email: "u2@shop.test", Name: "Second Buyer"})
	store.AddProduct(inventory.Product{
		ID:    "P1",
		Name:  "Phone X",
		Image: "phone-x.png",
		Variants: []inventory.Variant{
			{SKU: "A", Color: "black", Storage: "128GB", RAM: "8GB", Price: d("500000"), Stock: stock, SoldCount: sold},
		},
	})
	store.AddProduct(inventory.Product{
		ID:   "P2",
		Name: "Case",
		Variants: []inventory.Variant{
			{SKU: "B", Color: "clear", Price: d("150000"), Stock: 1},
		},
	})
	store.SetCart("u1", []cart.Item{{ProductID: "P1", SKU: "A", Quantity: 2}})

	now := time.Now()
	for _, c := range []coupon.Coupon{
		{ID: "c-shop10", Code: "SHOP10", Type: coupon.TypeShopping, Kind: coupon.KindPercent,
			Discount: d("10"), MaximumDiscount: d("50000"), Quantity: 5},
		{ID: "c-shop2", Code: "SHOP2", Type: coupon.TypeShopping, Kind: coupon.KindFixed,
			Discount: d("20000"), Quantity: 5},
		{ID: "c-ship", Code: "SHIPFREE", Type: coupon.TypeShipping, Kind: coupon.KindFixed,
			Discount: d("30000"), Quantity: 5},
		{ID: "c-full", Code: "FULL", Type: coupon.TypeShopping, Kind: coupon.KindFixed,
			Discount: d("10000"), Quantity: 2, UsedCount: 2},
		{ID: "c-min", Code: "BIGSPENDER", Type: coupon.TypeShopping, Kind: coupon.KindFixed,
			Discount: d("10000"), MinimumOrder: d("5000000"), Quantity: 5},
		{ID: "c-expired", Code: "OLD", Type: coupon.TypeShopping, Kind: coupon.KindFixed,
			Discount: d("10000"), Quantity: 5, StartDate: now.Add(-72 * time.Hour), EndDate: now.Add(-48 * time.Hour)},
	} {
		if c.StartDate.IsZero() {
			c.StartDate = now.Add(-24 * time.Hour)
			c.EndDate = now.Add(24 * time.Hour)
		}
		store.AddCoupon(c)
	}

	vnpay := &fakeGateway{url: "https://pay.test/vnpay?token=1"}
	mailer := &fakeMailer{}
	svc, err := order.NewService(
		store,
		coupon.NewEvaluator(store.Coupons()),
		payment.Registry{payment.MethodVNPay: vnpay},
		mailer,
		order.Config{ShippingCharge: d("25000")},
	)
	require.NoError(t, err)

	return &fixture{store: store, svc: svc, vnpay: vnpay, mailer: mailer}
}

func address() order.Address {
	return order.Address{
		FullName: "First Buyer",
		Phone:    "0900000000",
		Street:   "1 Main St",
		District: "District 1",
		City:     "Ho Chi Minh City",
	}
}

func request(items ...order.ItemRequest) order.CreateRequest {
	if len(items) == 0 {
		items = []order.ItemRequest{{ProductID: "P1", SKU: "A", Quantity: 2}}
	}
	return order.CreateRequest{
		Items:           items,
		ShippingAddress: address(),
		PaymentMethod:   payment.MethodCOD,
	}
}

func (f *fixture) soldCount(t *testing.T, productID, sku string) int {
	t.Helper()
	v, err := f.store.Inventory().Variant(context.Background(), productID, sku)
	require.NoError(t, err)
	return v.SoldCount
}

func (f *fixture) usedCount(t *testing.T, code string) int {
	t.Helper()
	for _, c := range f.couponList(t) {
		if c.Code == code {
			return c.UsedCount
		}
	}
	t.Fatalf("coupon %s not listed", code)
	return 0
}

func (f *fixture) couponList(t *testing.T) []coupon.Coupon {
	t.Helper()
	list, err := f.store.Coupons().ListRedeemable(context.Background(), time.Now())
	require.NoError(t, err)
	return list
}

// --- CreateOrder ---

func TestCreateOrder_EndToEnd(t *testing.T) {
	f := newFixture(t, 10, 3)
	ctx := context.Background()

	res, err := f.svc.CreateOrder(ctx, "u1", request())
	require.NoError(t, err)

	o := res.Order
	assert.True(t, d("1000000").Equal(o.Subtotal), "subtotal %s", o.Subtotal)
	assert.True(t, d("25000").Equal(o.ShippingCharge))
	assert.True(t, decimal.Zero.Equal(o.ShippingDiscount))
	assert.True(t, decimal.Zero.Equal(o.Discount))
	assert.True(t, d("1025000").Equal(o.Total), "total %s", o.Total)
	assert.Equal(t, order.StatusPending, o.Status)
	assert.Equal(t, order.PaymentUnpaid, o.PaymentStatus)
	assert.Regexp(t, `^ORD\d{18}$`, o.Code)

	require.Len(t, o.Items, 1)
	assert.Equal(t, "Phone X", o.Items[0].Name)
	assert.Equal(t, "phone-x.png", o.Items[0].Image)
	assert.Equal(t, "128GB", o.Items[0].Storage)

	assert.Equal(t, 5, f.soldCount(t, "P1", "A"))
	assert.Equal(t, order.PaymentInitNotRequired, res.PaymentInit)
	assert.Empty(t, res.PaymentURL)
	assert.Empty(t, res.Warnings)

	history := f.store.History("u1")
	require.Len(t, history, 1)
	assert.Equal(t, o.ID, history[0].OrderID)

	items, err := f.store.Carts().Items(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, items)

	stored, err := f.svc.GetForUser(ctx, "u1", o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.Code, stored.Code)

	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, "u1@shop.test", f.mailer.sent[0].User.Email)
}

func TestCreateOrder_InsufficientStock(t *testing.T) {
	f := newFixture(t, 4, 3)

	_, err := f.svc.CreateOrder(context.Background(), "u1", request())
	require.ErrorIs(t, err, inventory.ErrOutOfStock)

	typed, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindConflict, typed.Kind())
	assert.Equal(t, map[string]string{"productId": "P1", "sku": "A"}, typed.Details())

	assert.Equal(t, 3, f.soldCount(t, "P1", "A"))
	assert.Zero(t, f.store.OrderCount())
	assert.Empty(t, f.store.History("u1"))

	items, err := f.store.Carts().Items(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, items, 1, "cart must survive a failed checkout")
	assert.Empty(t, f.mailer.sent)
}

func TestCreateOrder_AtomicAcrossItems(t *testing.T) {
	f := newFixture(t, 10, 3)

	req := request(
		order.ItemRequest{ProductID: "P1", SKU: "A", Quantity: 2},
		order.ItemRequest{ProductID: "P2", SKU: "B", Quantity: 5},
	)
	req.AppliedCoupons = []string{"SHOP10"}

	_, err := f.svc.CreateOrder(context.Background(), "u1", req)
	require.ErrorIs(t, err, inventory.ErrOutOfStock)

	assert.Equal(t, 3, f.soldCount(t, "P1", "A"), "first item must be rolled back")
	assert.Equal(t, 0, f.soldCount(t, "P2", "B"))
	assert.Equal(t, 0, f.usedCount(t, "SHOP10"))
	assert.Zero(t, f.store.OrderCount())
}

func TestCreateOrder_UnknownVariant(t *testing.T) {
	f := newFixture(t, 10, 3)

	_, err := f.svc.CreateOrder(context.Background(), "u1",
		request(order.ItemRequest{ProductID: "P1", SKU: "Z", Quantity: 1}))
	require.ErrorIs(t, err, inventory.ErrVariantNotFound)

	typed, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, "Z", typed.Details()["sku"])
	assert.Zero(t, f.store.OrderCount())
}

func TestCreateOrder_ConcurrentCheckoutsNeverOversell(t *testing.T) {
	f := newFixture(t, 10, 0)

	const attempts = 25
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		conflicts atomic.Int32
	)
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateOrder(context.Background(), "u1",
				request(order.ItemRequest{ProductID: "P1", SKU: "A", Quantity: 1}))
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, inventory.ErrOutOfStock):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 10, succeeded.Load())
	assert.EqualValues(t, attempts-10, conflicts.Load())
	assert.Equal(t, 10, f.soldCount(t, "P1", "A"))
	assert.Equal(t, 10, f.store.OrderCount())
}

func TestCreateOrder_Coupons(t *testing.T) {
	tests := []struct {
		name             string
		codes            []string
		wantDiscount     string
		wantShippingDisc string
		wantTotal        string
		wantSkipped      []string
		wantUsed         map[string]int
	}{
		{
			name:             "no coupons",
			wantDiscount:     "0",
			wantShippingDisc: "0",
			wantTotal:        "1025000",
		},
		{
			name:             "percent coupon capped",
			codes:            []string{"SHOP10"},
			wantDiscount:     "50000",
			wantShippingDisc: "0",
			wantTotal:        "975000",
			wantUsed:         map[string]int{"SHOP10": 1},
		},
		{
			name:             "shopping and shipping coupons",
			codes:            []string{"SHOP10", "SHIPFREE"},
			wantDiscount:     "50000",
			wantShippingDisc: "25000",
			wantTotal:        "950000",
			wantUsed:         map[string]int{"SHOP10": 1, "SHIPFREE": 1},
		},
		{
			name:             "second coupon of same type skipped",
			codes:            []string{"SHOP10", "SHOP2"},
			wantDiscount:     "50000",
			wantShippingDisc: "0",
			wantTotal:        "975000",
			wantSkipped:      []string{"SHOP2"},
			wantUsed:         map[string]int{"SHOP10": 1, "SHOP2": 0},
		},
		{
			name:             "duplicate code applied once",
			codes:            []string{"SHOP10", " SHOP10 "},
			wantDiscount:     "50000",
			wantShippingDisc: "0",
			wantTotal:        "975000",
			wantUsed:         map[string]int{"SHOP10": 1},
		},
		{
			name:             "invalid coupons do not block checkout",
			codes:            []string{"OLD", "FULL", "BIGSPENDER", "NOPE", "SHIPFREE"},
			wantDiscount:     "0",
			wantShippingDisc: "25000",
			wantTotal:        "1000000",
			wantSkipped:      []string{"OLD", "FULL", "BIGSPENDER", "NOPE"},
			wantUsed:         map[string]int{"SHIPFREE": 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 10, 3)
			req := request()
			req.AppliedCoupons = tt.codes

			res, err := f.svc.CreateOrder(context.Background(), "u1", req)
			require.NoError(t, err)

			o := res.Order
			assert.True(t, d(tt.wantDiscount).Equal(o.Discount), "discount %s", o.Discount)
			assert.True(t, d(tt.wantShippingDisc).Equal(o.ShippingDiscount), "shipping discount %s", o.ShippingDiscount)
			assert.True(t, d(tt.wantTotal).Equal(o.Total), "total %s", o.Total)
			assert.True(t, o.Subtotal.Add(o.ShippingCharge).Sub(o.ShippingDiscount).Sub(o.Discount).Equal(o.Total))

			var skipped []string
			for _, s := range res.SkippedCoupons {
				assert.NotEmpty(t, s.Reason)
				skipped = append(skipped, s.Code)
			}
			assert.Equal(t, tt.wantSkipped, skipped)

			for code, want := range tt.wantUsed {
				assert.Equal(t, want, f.usedCount(t, code), code)
			}
			assert.Len(t, o.CouponIDs, len(tt.wantUsed)-countZero(tt.wantUsed))
		})
	}
}

func countZero(m map[string]int) int {
	n := 0
	for _, v := range m {
		if v == 0 {
			n++
		}
	}
	return n
}

func TestCreateOrder_CouponNotOfferedTwiceToSameUser(t *testing.T) {
	f := newFixture(t, 10, 0)
	req := request(order.ItemRequest{ProductID: "P1", SKU: "A", Quantity: 2})
	req.AppliedCoupons = []string{"SHOP10"}

	first, err := f.svc.CreateOrder(context.Background(), "u1", req)
	require.NoError(t, err)
	assert.Equal(t, []string{"c-shop10"}, first.Order.CouponIDs)

	second, err := f.svc.CreateOrder(context.Background(), "u1", req)
	require.NoError(t, err)
	require.Len(t, second.SkippedCoupons, 1)
	assert.Equal(t, "coupon already used", second.SkippedCoupons[0].Reason)
	assert.True(t, decimal.Zero.Equal(second.Order.Discount))
	assert.Equal(t, 1, f.usedCount(t, "SHOP10"))

	// Another user can still redeem it.
	third, err := f.svc.CreateOrder(context.Background(), "u2", req)
	require.NoError(t, err)
	assert.Empty(t, third.SkippedCoupons)
	assert.Equal(t, 2, f.usedCount(t, "SHOP10"))
}

func TestCreateOrder_Validation(t *testing.T) {
	tests := []struct {
		name    string
		userID  string
		mutate  func(r *order.CreateRequest)
		wantErr error
	}{
		{
			name:    "no items",
			userID:  "u1",
			mutate:  func(r *order.CreateRequest) { r.Items = nil },
			wantErr: order.ErrEmptyItems,
		},
		{
			name:    "zero quantity",
			userID:  "u1",
			mutate:  func(r *order.CreateRequest) { r.Items[0].Quantity = 0 },
			wantErr: inventory.ErrInvalidQuantity,
		},
		{
			name:    "unknown payment method",
			userID:  "u1",
			mutate:  func(r *order.CreateRequest) { r.PaymentMethod = "CASHAPP" },
			wantErr: payment.ErrUnsupportedMethod,
		},
		{
			name:    "missing city",
			userID:  "u1",
			mutate:  func(r *order.CreateRequest) { r.ShippingAddress.City = " " },
			wantErr: order.ErrIncompleteAddress,
		},
		{
			name:    "unknown user",
			userID:  "ghost",
			mutate:  func(*order.CreateRequest) {},
			wantErr: order.ErrUnknownUser,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 10, 3)
			req := request()
			tt.mutate(&req)

			_, err := f.svc.CreateOrder(context.Background(), tt.userID, req)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
			assert.Equal(t, 3, f.soldCount(t, "P1", "A"))
			assert.Zero(t, f.store.OrderCount())
		})
	}
}

func TestCreateOrder_CancelledContextCommitsNothing(t *testing.T) {
	f := newFixture(t, 10, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.CreateOrder(ctx, "u1", request())
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, f.soldCount(t, "P1", "A"))
	assert.Zero(t, f.store.OrderCount())
}

func TestCreateOrder_RetriesOnCodeCollision(t *testing.T) {
	f := newFixture(t, 10, 0)
	codes := []string{"ORD-FIXED", "ORD-FIXED", "ORD-NEXT"}
	var calls int
	f.svc.SetCodeGenerator(func(time.Time) string {
		c := codes[calls]
		calls++
		return c
	})

	first, err := f.svc.CreateOrder(context.Background(), "u1",
		request(order.ItemRequest{ProductID: "P1", SKU: "A", Quantity: 1}))
	require.NoError(t, err)
	assert.Equal(t, "ORD-FIXED", first.Order.Code)

	second, err := f.svc.CreateOrder(context.Background(), "u1",
		request(order.ItemRequest{ProductID: "P1", SKU: "A", Quantity: 1}))
	require.NoError(t, err)
	assert.Equal(t, "ORD-NEXT", second.Order.Code)
	assert.Equal(t, 2, f.soldCount(t, "P1", "A"), "the collided attempt must not reserve stock")
}

func TestCreateOrder_PostCommitFailuresBecomeWarnings(t *testing.T) {
	t.Run("payment url ready", func(t *testing.T) {
		f := newFixture(t, 10, 3)
		req := request()
		req.PaymentMethod = payment.MethodVNPay

		res, err := f.svc.CreateOrder(context.Background(), "u1", req)
		require.NoError(t, err)
		assert.Equal(t, order.PaymentInitReady, res.PaymentInit)
		assert.Equal(t, f.vnpay.url, res.PaymentURL)
		assert.Empty(t, res.Warnings)
	})

	t.Run("payment url failure", func(t *testing.T) {
		f := newFixture(t, 10, 3)
		f.vnpay.err = errors.New("gateway timeout")
		req := request()
		req.PaymentMethod = payment.MethodVNPay

		res, err := f.svc.CreateOrder(context.Background(), "u1", req)
		require.NoError(t, err)
		assert.Equal(t, order.PaymentInitRetryRequired, res.PaymentInit)
		assert.Empty(t, res.PaymentURL)
		assert.Len(t, res.Warnings, 1)
		assert.Equal(t, 1, f.store.OrderCount())
		assert.Equal(t, 5, f.soldCount(t, "P1", "A"))
	})

	t.Run("email failure", func(t *testing.T) {
		f := newFixture(t, 10, 3)
		f.mailer.err = errors.New("smtp: connection refused")

		res, err := f.svc.CreateOrder(context.Background(), "u1", request())
		require.NoError(t, err)
		assert.Len(t, res.Warnings, 1)
		assert.Equal(t, 1, f.store.OrderCount())
	})
}

// --- Lifecycle ---

func TestRequestCancel_PendingReleasesStockOnce(t *testing.T) {
	f := newFixture(t, 10, 3)
	ctx := context.Background()

	res, err := f.svc.CreateOrder(ctx, "u1", request())
	require.NoError(t, err)
	require.Equal(t, 5, f.soldCount(t, "P1", "A"))

	o, outcome, err := f.svc.RequestCancel(ctx, "u1", res.Order.ID, "changed my mind", "")
	require.NoError(t, err)
	assert.Equal(t, order.CancelApplied, outcome)
	assert.Equal(t, order.StatusCancelled, o.Status)
	assert.Equal(t, order.PaymentCancelled, o.PaymentStatus)
	assert.Equal(t, 3, f.soldCount(t, "P1", "A"))

	_, _, err = f.svc.RequestCancel(ctx, "u1", res.Order.ID, "changed my mind", "")
	require.ErrorIs(t, err, order.ErrAlreadyCancelled)
	assert.Equal(t, 3, f.soldCount(t, "P1", "A"), "second cancel must not release again")
}

func TestRequestCancel_OtherUsersOrder(t *testing.T) {
	f := newFixture(t, 10, 3)
	ctx := context.Background()

	res, err := f.svc.CreateOrder(ctx, "u1", request())
	require.NoError(t, err)

	_, _, err = f.svc.RequestCancel(ctx, "u2", res.Order.ID, "changed_mind", "")
	require.ErrorIs(t, err, order.ErrNotFound)

	_, _, err = f.svc.RequestCancel(ctx, "u1", res.Order.ID, "  ", "")
	require.ErrorIs(t, err, order.ErrReasonRequired)
}

func TestCancellationRequestFlow(t *testing.T) {
	f := newFixture(t, 10, 3)
	ctx := context.Background()

	res, err := f.svc.CreateOrder(ctx, "u1", request())
	require.NoError(t, err)
	id := res.Order.ID

	_, err = f.svc.UpdateStatus(ctx, id, order.StatusUpdate{Status: order.StatusOnTheWay})
	require.NoError(t, err)

	o, outcome, err := f.svc.RequestCancel(ctx, "u1", id, "Delivery too slow", "three days late")
	require.NoError(t, err)
	assert.Equal(t, order.CancelRequested, outcome)
	assert.Equal(t, order.StatusCancellationPending, o.Status)
	assert.Equal(t, order.ReasonDeliveryTooSlow, o.Cancellation.Reason)
	assert.Equal(t, 5, f.soldCount(t, "P1", "A"), "a request alone keeps the reservation")

	_, _, err = f.svc.RequestCancel(ctx, "u1", id, "changed_mind", "")
	require.ErrorIs(t, err, order.ErrCancellationPending)

	o, err = f.svc.UpdateStatus(ctx, id, order.StatusUpdate{Status: order.StatusCancelled})
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, o.Status)
	assert.Equal(t, order.PaymentCancelled, o.PaymentStatus)
	assert.Equal(t, order.ReasonDeliveryTooSlow, o.Cancellation.Reason)
	assert.Equal(t, 3, f.soldCount(t, "P1", "A"))
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t, 10, 3)
	ctx := context.Background()

	res, err := f.svc.CreateOrder(ctx, "u1", request())
	require.NoError(t, err)
	id := res.Order.ID

	_, err = f.svc.UpdateStatus(ctx, id, order.StatusUpdate{Status: order.StatusDelivered})
	require.ErrorIs(t, err, order.ErrInvalidTransition)
	assert.Equal(t, apperr.KindStateConflict, apperr.KindOf(err))

	_, err = f.svc.UpdateStatus(ctx, id, order.StatusUpdate{Status: "lost"})
	require.ErrorIs(t, err, order.ErrInvalidStatus)

	_, err = f.svc.UpdateStatus(ctx, "missing", order.StatusUpdate{Status: order.StatusOnTheWay})
	require.ErrorIs(t, err, order.ErrNotFound)

	o, err := f.svc.UpdateStatus(ctx, id, order.StatusUpdate{
		Status: order.StatusRejected,
		Reason: "unconfirmed by buyer",
	})
	require.NoError(t, err)
	assert.Equal(t, order.StatusRejected, o.Status)
	assert.Equal(t, order.ReasonUnconfirmedByBuyer, o.Cancellation.Reason)
	assert.Equal(t, 3, f.soldCount(t, "P1", "A"))

	stored, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, order.StatusRejected, stored.Status)
}

func TestListByUser(t *testing.T) {
	f := newFixture(t, 10, 0)
	ctx := context.Background()

	for range 2 {
		_, err := f.svc.CreateOrder(ctx, "u1", request(order.ItemRequest{ProductID: "P1", SKU: "A", Quantity: 1}))
		require.NoError(t, err)
	}

	orders, err := f.svc.ListByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, orders, 2)

	orders, err = f.svc.ListByUser(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, orders)
}

// --- Payments ---

func TestHandlePaymentCallback(t *testing.T) {
	f := newFixture(t, 10, 3)
	ctx := context.Background()
	req := request()
	req.PaymentMethod = payment.MethodVNPay

	res, err := f.svc.CreateOrder(ctx, "u1", req)
	require.NoError(t, err)
	code := res.Order.Code

	t.Run("amount mismatch", func(t *testing.T) {
		f.vnpay.result = &payment.CallbackResult{Success: true, OrderCode: code, Amount: d("1")}
		_, err := f.svc.HandlePaymentCallback(ctx, payment.MethodVNPay, nil)
		require.ErrorIs(t, err, order.ErrAmountMismatch)
	})

	t.Run("unknown order", func(t *testing.T) {
		f.vnpay.result = &payment.CallbackResult{Success: true, OrderCode: "ORD0", Amount: d("1025000")}
		_, err := f.svc.HandlePaymentCallback(ctx, payment.MethodVNPay, nil)
		require.ErrorIs(t, err, order.ErrNotFound)
	})

	t.Run("bad signature", func(t *testing.T) {
		f.vnpay.checkErr = payment.ErrInvalidSignature
		defer func() { f.vnpay.checkErr = nil }()
		_, err := f.svc.HandlePaymentCallback(ctx, payment.MethodVNPay, nil)
		require.ErrorIs(t, err, payment.ErrInvalidSignature)
	})

	t.Run("failed payment", func(t *testing.T) {
		f.vnpay.result = &payment.CallbackResult{Success: false, OrderCode: code, Amount: d("1025000")}
		out, err := f.svc.HandlePaymentCallback(ctx, payment.MethodVNPay, nil)
		require.NoError(t, err)
		assert.Equal(t, order.PaymentFailed, out.Order.PaymentStatus)
	})

	t.Run("success then replay", func(t *testing.T) {
		f.vnpay.result = &payment.CallbackResult{Success: true, OrderCode: code, Amount: d("1025000"), TransactionID: "T1"}
		out, err := f.svc.HandlePaymentCallback(ctx, payment.MethodVNPay, nil)
		require.NoError(t, err)
		assert.Equal(t, order.PaymentPaid, out.Order.PaymentStatus)
		assert.False(t, out.AlreadyProcessed)

		out, err = f.svc.HandlePaymentCallback(ctx, payment.MethodVNPay, nil)
		require.NoError(t, err)
		assert.True(t, out.AlreadyProcessed)
		assert.Equal(t, order.PaymentPaid, out.Order.PaymentStatus)
	})

	t.Run("unsupported method", func(t *testing.T) {
		_, err := f.svc.HandlePaymentCallback(ctx, payment.MethodMomo, nil)
		require.ErrorIs(t, err, payment.ErrUnsupportedMethod)
	})
}

// signMomoIPN signs an IPN body the way Momo does: HMAC-SHA256 over the
// sorted key=value pairs, accessKey included.
func signMomoIPN(params map[string]string, accessKey, secretKey string) string {
	fields := []string{
		"accessKey", "amount", "extraData", "message", "orderId", "orderInfo", "orderType",
		"partnerCode", "payType", "requestId", "responseTime", "resultCode", "transId",
	}
	pairs := make([]string, 0, len(fields))
	for _, k := range fields {
		v := params[k]
		if k == "accessKey" {
			v = accessKey
		}
		pairs = append(pairs, k+"="+v)
	}
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(strings.Join(pairs, "&")))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestHandlePaymentCallback_MomoFractionalTotal(t *testing.T) {
	ctx := context.Background()

	created := make(chan map[string]string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		params, err := momo.ParseIPN(body)
		assert.NoError(t, err)
		created <- params
		_, _ = w.Write([]byte(`{"resultCode":0,"message":"ok","payUrl":"https://test-payment.momo.vn/pay/abc"}`))
	}))
	defer srv.Close()

	gw, err := momo.New(momo.Config{
		PartnerCode: "MOMOTEST",
		AccessKey:   "access",
		SecretKey:   "secret",
		Endpoint:    srv.URL,
	}, momo.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	now := time.Now()
	store := memory.New()
	store.AddUser(user.User{ID: "u1", Email: "u1@shop.test", Name: "First Buyer"})
	store.AddProduct(inventory.Product{
		ID:       "P1",
		Name:     "Odd Price",
		Variants: []inventory.Variant{{SKU: "A", Price: d("333333"), Stock: 5}},
	})
	store.AddCoupon(coupon.Coupon{
		ID: "c-pct15", Code: "PCT15", Type: coupon.TypeShopping, Kind: coupon.KindPercent,
		Discount: d("15"), Quantity: 5,
		StartDate: now.Add(-time.Hour), EndDate: now.Add(time.Hour),
	})
	svc, err := order.NewService(
		store,
		coupon.NewEvaluator(store.Coupons()),
		payment.Registry{payment.MethodMomo: gw},
		&fakeMailer{},
		order.Config{ShippingCharge: d("25000")},
	)
	require.NoError(t, err)

	req := request(order.ItemRequest{ProductID: "P1", SKU: "A", Quantity: 1})
	req.PaymentMethod = payment.MethodMomo
	req.AppliedCoupons = []string{"PCT15"}
	res, err := svc.CreateOrder(ctx, "u1", req)
	require.NoError(t, err)
	require.Equal(t, order.PaymentInitReady, res.PaymentInit)
	require.Equal(t, "308333.05", res.Order.Total.StringFixed(2))

	sent := <-created
	assert.Equal(t, "308333", sent["amount"])

	ipn := map[string]string{
		"partnerCode":  "MOMOTEST",
		"orderId":      res.Order.Code,
		"requestId":    sent["requestId"],
		"amount":       sent["amount"],
		"orderInfo":    sent["orderInfo"],
		"orderType":    "momo_wallet",
		"transId":      "4088878653",
		"resultCode":   "0",
		"message":      "Successful.",
		"payType":      "qr",
		"responseTime": "1721720663942",
		"extraData":    "",
	}
	ipn["signature"] = signMomoIPN(ipn, "access", "secret")

	out, err := svc.HandlePaymentCallback(ctx, payment.MethodMomo, ipn)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, order.PaymentPaid, out.Order.PaymentStatus)

	ipn["amount"] = "308332"
	ipn["signature"] = signMomoIPN(ipn, "access", "secret")
	_, err = svc.HandlePaymentCallback(ctx, payment.MethodMomo, ipn)
	require.ErrorIs(t, err, order.ErrAmountMismatch)
}

func TestInitiatePayment(t *testing.T) {
	f := newFixture(t, 10, 0)
	ctx := context.Background()

	cod, err := f.svc.CreateOrder(ctx, "u1", request(order.ItemRequest{ProductID: "P1", SKU: "A", Quantity: 1}))
	require.NoError(t, err)
	_, err = f.svc.InitiatePayment(ctx, "u1", cod.Order.ID, "127.0.0.1")
	require.ErrorIs(t, err, order.ErrPaymentNotRequired)

	req := request(order.ItemRequest{ProductID: "P1", SKU: "A", Quantity: 1})
	req.PaymentMethod = payment.MethodVNPay
	f.vnpay.err = errors.New("gateway down")
	online, err := f.svc.CreateOrder(ctx, "u1", req)
	require.NoError(t, err)
	require.Equal(t, order.PaymentInitRetryRequired, online.PaymentInit)

	_, err = f.svc.InitiatePayment(ctx, "u1", online.Order.ID, "127.0.0.1")
	require.Error(t, err)
	assert.Equal(t, apperr.KindDependency, apperr.KindOf(err))

	f.vnpay.err = nil
	url, err := f.svc.InitiatePayment(ctx, "u1", online.Order.ID, "127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, f.vnpay.url, url)

	_, err = f.svc.InitiatePayment(ctx, "u2", online.Order.ID, "127.0.0.1")
	require.ErrorIs(t, err, order.ErrNotFound)
}
