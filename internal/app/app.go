package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/shopfront/internal/domain/coupon"
	"github.com/xenking/shopfront/internal/domain/order"
	"github.com/xenking/shopfront/internal/domain/payment"
	"github.com/xenking/shopfront/internal/handler"
	"github.com/xenking/shopfront/internal/notify"
	"github.com/xenking/shopfront/internal/payment/momo"
	"github.com/xenking/shopfront/internal/payment/vnpay"
	"github.com/xenking/shopfront/internal/storage/redisstore"
	"github.com/xenking/shopfront/pkg/health"
	"github.com/xenking/shopfront/pkg/httpmiddleware"
)

const serviceName = "shopfront-api"

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage.Driver),
	)

	store, closeStore, err := openStorage(ctx, lg, cfg.Storage)
	if err != nil {
		return err
	}
	defer closeStore()

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("storage", 5*time.Second, store.Ping)
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc", time.Second, health.GCMaxPauseCheck(time.Second))

	// Idempotency keys need Redis; without it the header is ignored.
	var idempotency httpmiddleware.IdempotencyStore
	if cfg.Redis.Enabled() {
		rdb, err := redisstore.New(ctx, cfg.Redis)
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = rdb.Close() }()
		idempotency = rdb
		healthSvc.AddReadinessCheck("redis", 2*time.Second, rdb.Ping)
	} else {
		lg.Info("Redis not configured, Idempotency-Key is ignored")
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	payments, err := paymentRegistry(lg, m, cfg)
	if err != nil {
		return err
	}
	shipping, err := cfg.shippingCharge()
	if err != nil {
		return err
	}

	coupons := coupon.NewEvaluator(store.Coupons())
	orders, err := order.NewService(store, coupons, payments, notify.New(cfg.SMTP),
		order.Config{
			ShippingCharge: shipping,
			PaymentTimeout: cfg.Checkout.PaymentTimeout,
			EmailTimeout:   cfg.Checkout.EmailTimeout,
		},
		order.WithTracerProvider(m.TracerProvider()),
		order.WithMeterProvider(m.MeterProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	auth, err := handler.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		return errors.Wrap(err, "create authenticator")
	}
	h, err := handler.New(handler.Config{
		Orders:         orders,
		Coupons:        coupons,
		Usage:          store.Users(),
		Auth:           auth,
		Idempotency:    idempotency,
		IdempotencyTTL: cfg.Checkout.IdempotencyTTL,
	})
	if err != nil {
		return errors.Wrap(err, "create handler")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", h.Router())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", httpmiddleware.IdempotencyHeader, "X-Request-ID"},
				ExposeHeaders:    []string{"X-Request-ID", "Retry-After", "Idempotent-Replayed"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument(serviceName, m.TracerProvider(), m.MeterProvider()),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// paymentRegistry registers a gateway for every method with credentials.
// Orders for an unconfigured online method fail with unsupported method.
func paymentRegistry(lg *zap.Logger, m *app.Telemetry, cfg *Config) (payment.Registry, error) {
	reg := payment.Registry{}
	if cfg.VNPay.TmnCode != "" {
		gw, err := vnpay.New(cfg.VNPay)
		if err != nil {
			return nil, errors.Wrap(err, "create vnpay gateway")
		}
		reg[payment.MethodVNPay] = gw
	}
	if cfg.Momo.PartnerCode != "" {
		gw, err := momo.New(cfg.Momo, momo.WithTracerProvider(m.TracerProvider()))
		if err != nil {
			return nil, errors.Wrap(err, "create momo gateway")
		}
		reg[payment.MethodMomo] = gw
	}
	methods := make([]string, 0, len(reg))
	for method := range reg {
		methods = append(methods, string(method))
	}
	lg.Info("Payment gateways", zap.Strings("methods", methods))
	return reg, nil
}
