package app

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/shopfront/internal/domain/cart"
	"github.com/xenking/shopfront/internal/domain/coupon"
	"github.com/xenking/shopfront/internal/domain/inventory"
	"github.com/xenking/shopfront/internal/domain/order"
	"github.com/xenking/shopfront/internal/domain/user"
	"github.com/xenking/shopfront/internal/seed"
	"github.com/xenking/shopfront/internal/storage/memory"
	"github.com/xenking/shopfront/internal/storage/postgres"
)

// storage is what the wiring needs from a repository backend.
type storage interface {
	order.UnitOfWork
	Coupons() coupon.Repository
	Users() user.Repository
	Ping(ctx context.Context) error
}

var (
	_ storage = (*postgres.Store)(nil)
	_ storage = (*memory.Store)(nil)
)

// openStorage connects the configured backend. The returned close func is
// never nil.
func openStorage(ctx context.Context, lg *zap.Logger, cfg StorageConfig) (storage, func(), error) {
	switch cfg.Driver {
	case DriverMemory:
		st := memory.New()
		if err := seed.Apply(ctx, memorySeed{st}, seed.Demo(time.Now())); err != nil {
			return nil, nil, errors.Wrap(err, "seed memory store")
		}
		lg.Warn("Using in-memory storage, data is lost on restart")
		return st, func() {}, nil
	case DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "create db pool")
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, errors.Wrap(err, "run migrations")
		}
		return postgres.NewStore(pool), pool.Close, nil
	default:
		return nil, nil, errors.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// memorySeed adapts memory.Store to seed.Target.
type memorySeed struct{ st *memory.Store }

func (m memorySeed) UpsertUser(_ context.Context, u user.User) error {
	m.st.AddUser(u)
	return nil
}

func (m memorySeed) UpsertProduct(_ context.Context, p inventory.Product) error {
	m.st.AddProduct(p)
	return nil
}

func (m memorySeed) UpsertCoupons(_ context.Context, coupons []coupon.Coupon) error {
	for _, c := range coupons {
		m.st.AddCoupon(c)
	}
	return nil
}

func (m memorySeed) SetCart(_ context.Context, userID string, items []cart.Item) error {
	m.st.SetCart(userID, items)
	return nil
}
