// Package handler exposes the checkout core over HTTP.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/shopfront/internal/domain/coupon"
	"github.com/xenking/shopfront/internal/domain/order"
	"github.com/xenking/shopfront/internal/domain/payment"
	"github.com/xenking/shopfront/pkg/apperr"
	"github.com/xenking/shopfront/pkg/httpmiddleware"
)

// OrderService is the order use-case surface the handlers call.
type OrderService interface {
	CreateOrder(ctx context.Context, userID string, req order.CreateRequest) (*order.CreateResult, error)
	GetForUser(ctx context.Context, userID, orderID string) (*order.Order, error)
	ListByUser(ctx context.Context, userID string) ([]order.Order, error)
	RequestCancel(ctx context.Context, userID, orderID, reason, description string) (*order.Order, order.CancelOutcome, error)
	InitiatePayment(ctx context.Context, userID, orderID, clientIP string) (string, error)
	UpdateStatus(ctx context.Context, orderID string, upd order.StatusUpdate) (*order.Order, error)
	HandlePaymentCallback(ctx context.Context, method payment.Method, params map[string]string) (*order.CallbackOutcome, error)
}

// CouponService evaluates coupons without redeeming them.
type CouponService interface {
	Evaluate(ctx context.Context, code string, subtotal decimal.Decimal) (*coupon.Result, error)
	Available(ctx context.Context, usage coupon.UsageLookup, userID string) ([]coupon.Coupon, error)
}

var (
	_ OrderService  = (*order.Service)(nil)
	_ CouponService = (*coupon.Evaluator)(nil)
)

// Config holds the handler dependencies.
type Config struct {
	Orders  OrderService
	Coupons CouponService
	// Usage reports the coupons a user already redeemed.
	Usage coupon.UsageLookup
	Auth  *Authenticator

	// Idempotency is optional. Without a store Idempotency-Key is ignored.
	Idempotency    httpmiddleware.IdempotencyStore
	IdempotencyTTL time.Duration
}

// Handler serves the /api routes.
type Handler struct {
	orders   OrderService
	coupons  CouponService
	usage    coupon.UsageLookup
	auth     *Authenticator
	validate *validator.Validate

	idempotency httpmiddleware.IdempotencyConfig
}

func New(cfg Config) (*Handler, error) {
	switch {
	case cfg.Orders == nil:
		return nil, errors.New("orders service required")
	case cfg.Coupons == nil:
		return nil, errors.New("coupon service required")
	case cfg.Usage == nil:
		return nil, errors.New("coupon usage lookup required")
	case cfg.Auth == nil:
		return nil, errors.New("authenticator required")
	}
	return &Handler{
		orders:   cfg.Orders,
		coupons:  cfg.Coupons,
		usage:    cfg.Usage,
		auth:     cfg.Auth,
		validate: newValidator(),
		idempotency: httpmiddleware.IdempotencyConfig{
			Store:        cfg.Idempotency,
			TTL:          cfg.IdempotencyTTL,
			MaxBodyBytes: maxBodyBytes,
			Scope: func(r *http.Request) string {
				p, _ := PrincipalFrom(r.Context())
				return p.UserID
			},
		},
	}, nil
}

// Router returns the API routes mounted under /api.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		apperr.WriteHTTP(w, apperr.New(apperr.KindNotFound, "route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, func(e *jx.Encoder) {
			e.ObjStart()
			e.FieldStart("statusCode")
			e.Int(http.StatusMethodNotAllowed)
			encodeStringField(e, "message", "method not allowed")
			e.ObjEnd()
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/payments/vnpay/callback", h.vnpayCallback)
		r.Post("/payments/momo/ipn", h.momoIPN)

		r.Group(func(r chi.Router) {
			r.Use(h.auth.Require)

			r.With(httpmiddleware.Idempotency(h.idempotency)).Post("/orders", h.createOrder)
			r.Get("/orders", h.listOrders)
			r.Get("/orders/{id}", h.getOrder)
			r.Post("/orders/{id}/cancel", h.cancelOrder)
			r.Post("/orders/{id}/payment", h.retryPayment)

			r.Post("/coupons/preview", h.previewCoupon)
			r.Get("/coupons/available", h.availableCoupons)

			r.With(RequireAdmin).Patch("/admin/orders/{id}/status", h.updateStatus)
		})
	})
	return r
}

// fail writes err as the error envelope. Server-side failures are logged
// with their full chain since the envelope hides it.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if kind := apperr.KindOf(err); kind == apperr.KindInternal || kind == apperr.KindDependency {
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	apperr.WriteHTTP(w, err)
}

// principal is only called behind Authenticator.Require.
func principal(r *http.Request) Principal {
	p, _ := PrincipalFrom(r.Context())
	return p
}
