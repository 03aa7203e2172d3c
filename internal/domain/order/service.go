package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/shopfront/internal/domain/coupon"
	"github.com/xenking/shopfront/internal/domain/inventory"
	"github.com/xenking/shopfront/internal/domain/payment"
	"github.com/xenking/shopfront/internal/domain/user"
	"github.com/xenking/shopfront/pkg/apperr"
)

// ItemRequest is one requested line of a checkout.
type ItemRequest struct {
	ProductID string
	SKU       string
	Quantity  int
}

// CreateRequest holds the input for creating an order.
type CreateRequest struct {
	Items           []ItemRequest
	ShippingAddress Address
	PaymentMethod   payment.Method
	AppliedCoupons  []string
	// ClientIP is forwarded to payment gateways that require it.
	ClientIP string
}

func (r CreateRequest) validate() error {
	if len(r.Items) == 0 {
		return ErrEmptyItems
	}
	for _, it := range r.Items {
		if it.ProductID == "" || it.SKU == "" {
			return apperr.New(apperr.KindValidation, "productId and sku required").
				With("productId", it.ProductID).
				With("sku", it.SKU)
		}
		if it.Quantity <= 0 {
			return inventory.ErrInvalidQuantity.With("productId", it.ProductID).With("sku", it.SKU)
		}
	}
	if !r.PaymentMethod.Valid() {
		return payment.ErrUnsupportedMethod.With("paymentMethod", string(r.PaymentMethod))
	}

	a := r.ShippingAddress
	for _, f := range []struct{ name, value string }{
		{"fullName", a.FullName},
		{"phone", a.Phone},
		{"street", a.Street},
		{"district", a.District},
		{"city", a.City},
	} {
		if strings.TrimSpace(f.value) == "" {
			return ErrIncompleteAddress.With("field", f.name)
		}
	}
	return nil
}

func (r CreateRequest) requests() []inventory.Request {
	reqs := make([]inventory.Request, len(r.Items))
	for i, it := range r.Items {
		reqs[i] = inventory.Request{ProductID: it.ProductID, SKU: it.SKU, Quantity: it.Quantity}
	}
	return reqs
}

// PaymentInit reports the state of payment initialization after checkout.
type PaymentInit string

const (
	PaymentInitNotRequired   PaymentInit = "not_required"
	PaymentInitReady         PaymentInit = "ready"
	PaymentInitRetryRequired PaymentInit = "retry_required"
)

// SkippedCoupon is a requested coupon that was not applied.
type SkippedCoupon struct {
	Code   string
	Reason string
}

// CreateResult is a committed order plus the outcome of post-commit work.
type CreateResult struct {
	Order          *Order
	PaymentURL     string
	PaymentInit    PaymentInit
	SkippedCoupons []SkippedCoupon
	Warnings       []string
}

// Confirmation is the data an order-confirmation message is built from.
type Confirmation struct {
	Order *Order
	User  *user.User
}

// Mailer delivers order confirmations.
type Mailer interface {
	SendOrderConfirmation(ctx context.Context, c Confirmation) error
}

// Config holds checkout settings.
type Config struct {
	ShippingCharge decimal.Decimal
	PaymentTimeout time.Duration
	EmailTimeout   time.Duration
	// CodeAttempts bounds retries of the whole unit of work on an order code
	// collision.
	CodeAttempts int
}

func (c *Config) setDefaults() {
	if c.PaymentTimeout <= 0 {
		c.PaymentTimeout = 10 * time.Second
	}
	if c.EmailTimeout <= 0 {
		c.EmailTimeout = 10 * time.Second
	}
	if c.CodeAttempts <= 0 {
		c.CodeAttempts = 3
	}
}

type options struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures a Service.
type Option func(*options)

// WithTracerProvider sets the tracer provider. Defaults to a no-op provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithMeterProvider sets the meter provider. Defaults to a no-op provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

type serviceMetrics struct {
	created       metric.Int64Counter
	stockConflict metric.Int64Counter
	couponSkipped metric.Int64Counter
	statusChanged metric.Int64Counter
}

// Service coordinates order creation and the order lifecycle.
type Service struct {
	uow      UnitOfWork
	coupons  *coupon.Evaluator
	payments payment.Registry
	mailer   Mailer
	cfg      Config

	now     func() time.Time
	newCode func(time.Time) string

	tracer  trace.Tracer
	metrics serviceMetrics
}

// NewService creates an order Service. The coupon evaluator is rebound to
// the unit-of-work repository for every checkout. mailer may be nil.
func NewService(
	uow UnitOfWork,
	coupons *coupon.Evaluator,
	payments payment.Registry,
	mailer Mailer,
	cfg Config,
	opts ...Option,
) (*Service, error) {
	o := options{
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  metricnoop.NewMeterProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	cfg.setDefaults()

	meter := o.meterProvider.Meter("shopfront/order")
	var (
		m   serviceMetrics
		err error
	)
	if m.created, err = meter.Int64Counter("shop.orders.created",
		metric.WithDescription("Orders committed")); err != nil {
		return nil, errors.Wrap(err, "orders.created counter")
	}
	if m.stockConflict, err = meter.Int64Counter("shop.orders.stock_conflicts",
		metric.WithDescription("Checkouts aborted by insufficient stock")); err != nil {
		return nil, errors.Wrap(err, "orders.stock_conflicts counter")
	}
	if m.couponSkipped, err = meter.Int64Counter("shop.orders.coupons_skipped",
		metric.WithDescription("Requested coupons not applied")); err != nil {
		return nil, errors.Wrap(err, "orders.coupons_skipped counter")
	}
	if m.statusChanged, err = meter.Int64Counter("shop.orders.status_changed",
		metric.WithDescription("Order status transitions")); err != nil {
		return nil, errors.Wrap(err, "orders.status_changed counter")
	}

	return &Service{
		uow:      uow,
		coupons:  coupons,
		payments: payments,
		mailer:   mailer,
		cfg:      cfg,
		now:      time.Now,
		newCode:  NewCode,
		tracer:   o.tracerProvider.Tracer("shopfront/order"),
		metrics:  m,
	}, nil
}

// CreateOrder reserves stock, redeems coupons, persists the order, appends
// it to the user's history and clears the cart as one unit of work. Payment
// initialization and the confirmation email run after commit; their failures
// are reported as warnings and never undo the order.
func (s *Service) CreateOrder(ctx context.Context, userID string, req CreateRequest) (_ *CreateResult, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.CreateOrder",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("order.items", len(req.Items)),
			attribute.String("order.payment_method", string(req.PaymentMethod)),
		),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	if err := req.validate(); err != nil {
		return nil, err
	}

	var placed *placement
	for attempt := 1; ; attempt++ {
		err := s.uow.Do(ctx, func(ctx context.Context, st Stores) error {
			p, err := s.place(ctx, st, userID, req)
			if err != nil {
				return err
			}
			placed = p
			return nil
		})
		if err == nil {
			break
		}
		if errors.Is(err, ErrDuplicateCode) && attempt < s.cfg.CodeAttempts {
			zctx.From(ctx).Warn("Order code collision, retrying", zap.Int("attempt", attempt))
			continue
		}
		if errors.Is(err, inventory.ErrOutOfStock) {
			s.metrics.stockConflict.Add(ctx, 1)
		}
		return nil, err
	}

	o := placed.order
	s.metrics.created.Add(ctx, 1,
		metric.WithAttributes(attribute.String("payment_method", string(o.PaymentMethod))))
	if n := len(placed.skipped); n > 0 {
		s.metrics.couponSkipped.Add(ctx, int64(n))
	}
	span.SetAttributes(attribute.String("order.code", o.Code))
	zctx.From(ctx).Info("Order created",
		zap.String("order_id", o.ID),
		zap.String("order_code", o.Code),
		zap.String("total", o.Total.String()),
		zap.Int("coupons_skipped", len(placed.skipped)),
	)

	res := &CreateResult{
		Order:          o,
		PaymentInit:    PaymentInitNotRequired,
		SkippedCoupons: placed.skipped,
	}
	s.afterCommit(ctx, res, placed.user, req.ClientIP)
	return res, nil
}

type placement struct {
	order   *Order
	user    *user.User
	skipped []SkippedCoupon
}

func (s *Service) place(ctx context.Context, st Stores, userID string, req CreateRequest) (*placement, error) {
	u, err := st.Users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, ErrUnknownUser.With("userId", userID)
		}
		return nil, errors.Wrap(err, "get user")
	}

	reservations, err := inventory.ReserveAll(ctx, st.Inventory, req.requests())
	if err != nil {
		return nil, err
	}
	items := LineItems(reservations)

	redeemed, err := s.redeemCoupons(ctx, st, userID, req.AppliedCoupons, Subtotal(items))
	if err != nil {
		return nil, err
	}

	draft := Assemble(items, redeemed.discounts, s.cfg.ShippingCharge)
	now := s.now().UTC()
	o := &Order{
		ID:               uuid.NewString(),
		Code:             s.newCode(now),
		UserID:           userID,
		Items:            draft.Items,
		ShippingAddress:  req.ShippingAddress,
		Subtotal:         draft.Subtotal,
		ShippingCharge:   draft.ShippingCharge,
		ShippingDiscount: draft.ShippingDiscount,
		Discount:         draft.Discount,
		Total:            draft.Total,
		PaymentMethod:    req.PaymentMethod,
		PaymentStatus:    PaymentUnpaid,
		Status:           StatusPending,
		CouponIDs:        redeemed.couponIDs,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := st.Orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	if err := st.Users.AppendHistory(ctx, userID, user.HistoryEntry{
		OrderID:   o.ID,
		OrderCode: o.Code,
		OrderedAt: now,
		Total:     o.Total,
		CouponIDs: o.CouponIDs,
	}); err != nil {
		return nil, errors.Wrap(err, "append order history")
	}
	if err := st.Carts.Clear(ctx, userID); err != nil {
		return nil, errors.Wrap(err, "clear cart")
	}

	return &placement{order: o, user: u, skipped: redeemed.skipped}, nil
}

var (
	errCouponUsedByUser = apperr.New(apperr.KindConflict, "coupon already used")
	errCouponTypeTaken  = apperr.New(apperr.KindConflict, "a coupon of this type is already applied")
)

type redemption struct {
	discounts Discounts
	couponIDs []string
	skipped   []SkippedCoupon
}

// redeemCoupons applies every requested code it can. Business rejections
// are collected, storage failures abort the unit of work.
func (s *Service) redeemCoupons(
	ctx context.Context,
	st Stores,
	userID string,
	codes []string,
	subtotal decimal.Decimal,
) (*redemption, error) {
	out := &redemption{discounts: Discounts{Product: decimal.Zero, Shipping: decimal.Zero}}
	if len(codes) == 0 {
		return out, nil
	}

	used, err := st.Users.UsedCouponIDs(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "load used coupons")
	}
	usedSet := make(map[string]struct{}, len(used))
	for _, id := range used {
		usedSet[id] = struct{}{}
	}

	lg := zctx.From(ctx)
	skip := func(code string, err error) {
		reason := err.Error()
		if typed, ok := apperr.As(err); ok {
			reason = typed.Message()
		}
		lg.Info("Coupon skipped", zap.String("code", code), zap.String("reason", reason))
		out.skipped = append(out.skipped, SkippedCoupon{Code: code, Reason: reason})
	}

	ev := s.coupons.WithRepository(st.Coupons)
	seen := make(map[string]struct{}, len(codes))
	applied := make(map[coupon.Type]struct{}, 2)
	for _, raw := range codes {
		code := strings.TrimSpace(raw)
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}

		res, err := ev.Evaluate(ctx, code, subtotal)
		if err != nil {
			if !isRejection(err) {
				return nil, errors.Wrapf(err, "evaluate coupon %q", code)
			}
			skip(code, err)
			continue
		}

		c := res.Coupon
		if _, ok := usedSet[c.ID]; ok {
			skip(code, errCouponUsedByUser)
			continue
		}
		if _, ok := applied[c.Type]; ok {
			skip(code, errCouponTypeTaken)
			continue
		}
		if err := st.Coupons.IncrementUsage(ctx, c.ID); err != nil {
			if errors.Is(err, coupon.ErrFullyUsed) {
				skip(code, err)
				continue
			}
			return nil, errors.Wrapf(err, "redeem coupon %q", code)
		}

		applied[c.Type] = struct{}{}
		out.couponIDs = append(out.couponIDs, c.ID)
		if c.Type == coupon.TypeShipping {
			out.discounts.Shipping = out.discounts.Shipping.Add(res.Amount)
		} else {
			out.discounts.Product = out.discounts.Product.Add(res.Amount)
		}
	}
	return out, nil
}

func isRejection(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindNotFound, apperr.KindConflict, apperr.KindStateConflict:
		return true
	default:
		return false
	}
}

// afterCommit runs payment initialization and the confirmation email
// concurrently. The order is already committed, so neither is bound to the
// caller's cancellation.
func (s *Service) afterCommit(ctx context.Context, res *CreateResult, u *user.User, clientIP string) {
	ctx = context.WithoutCancel(ctx)
	lg := zctx.From(ctx).With(zap.String("order_code", res.Order.Code))

	var (
		g          errgroup.Group
		paymentURL string
		paymentErr error
		mailErr    error
	)
	redirect := res.Order.PaymentMethod.RequiresRedirect()
	if redirect {
		g.Go(func() error {
			paymentURL, paymentErr = s.paymentURL(ctx, res.Order, clientIP)
			return nil
		})
	}
	if s.mailer != nil && u != nil && u.Email != "" {
		g.Go(func() error {
			mctx, cancel := context.WithTimeout(ctx, s.cfg.EmailTimeout)
			defer cancel()
			mailErr = s.mailer.SendOrderConfirmation(mctx, Confirmation{Order: res.Order, User: u})
			return nil
		})
	}
	_ = g.Wait()

	if redirect {
		if paymentErr != nil {
			lg.Warn("Payment initialization failed", zap.Error(paymentErr))
			res.PaymentInit = PaymentInitRetryRequired
			res.Warnings = append(res.Warnings, "payment initialization failed, retry payment for this order")
		} else {
			res.PaymentURL = paymentURL
			res.PaymentInit = PaymentInitReady
		}
	}
	if mailErr != nil {
		lg.Warn("Order confirmation email failed", zap.Error(mailErr))
		res.Warnings = append(res.Warnings, "order confirmation email could not be sent")
	}
}

func (s *Service) paymentURL(ctx context.Context, o *Order, clientIP string) (string, error) {
	gw, err := s.payments.Get(o.PaymentMethod)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.PaymentTimeout)
	defer cancel()

	url, err := gw.CreatePaymentURL(ctx, payment.Request{
		ClientIP:  clientIP,
		OrderCode: o.Code,
		Amount:    o.Total,
		OrderInfo: "Payment for order " + o.Code,
	})
	if err != nil {
		return "", errors.Wrap(err, "create payment url")
	}
	return url, nil
}

// Get returns an order by id.
func (s *Service) Get(ctx context.Context, orderID string) (*Order, error) {
	var o *Order
	err := s.uow.Do(ctx, func(ctx context.Context, st Stores) error {
		var err error
		o, err = st.Orders.Get(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// GetForUser returns an order owned by userID. Orders of other users are
// reported as not found.
func (s *Service) GetForUser(ctx context.Context, userID, orderID string) (*Order, error) {
	o, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrNotFound.With("orderId", orderID)
	}
	return o, nil
}

// ListByUser returns the user's orders, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	var orders []Order
	err := s.uow.Do(ctx, func(ctx context.Context, st Stores) error {
		var err error
		orders, err = st.Orders.ListByUser(ctx, userID)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}
