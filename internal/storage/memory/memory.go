// Package memory implements every checkout repository and the unit of work
// on process memory. Units of work are serialized and commit by swapping in
// a modified copy of the state, so a failed unit leaves no trace.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/go-faster/errors"

	"github.com/xenking/shopfront/internal/domain/cart"
	"github.com/xenking/shopfront/internal/domain/coupon"
	"github.com/xenking/shopfront/internal/domain/inventory"
	"github.com/xenking/shopfront/internal/domain/order"
	"github.com/xenking/shopfront/internal/domain/user"
)

type variantKey struct {
	productID string
	sku       string
}

type productInfo struct {
	name  string
	image string
}

type state struct {
	products map[string]productInfo
	variants map[variantKey]inventory.Variant
	coupons  map[string]coupon.Coupon
	orders   map[string]order.Order
	codes    map[string]string
	users    map[string]user.User
	history  map[string][]user.HistoryEntry
	carts    map[string][]cart.Item
}

func newState() *state {
	return &state{
		products: make(map[string]productInfo),
		variants: make(map[variantKey]inventory.Variant),
		coupons:  make(map[string]coupon.Coupon),
		orders:   make(map[string]order.Order),
		codes:    make(map[string]string),
		users:    make(map[string]user.User),
		history:  make(map[string][]user.HistoryEntry),
		carts:    make(map[string][]cart.Item),
	}
}

func (s *state) clone() *state {
	cp := &state{
		products: maps.Clone(s.products),
		variants: maps.Clone(s.variants),
		coupons:  maps.Clone(s.coupons),
		orders:   make(map[string]order.Order, len(s.orders)),
		codes:    maps.Clone(s.codes),
		users:    maps.Clone(s.users),
		history:  make(map[string][]user.HistoryEntry, len(s.history)),
		carts:    make(map[string][]cart.Item, len(s.carts)),
	}
	for id, o := range s.orders {
		cp.orders[id] = cloneOrder(o)
	}
	for id, h := range s.history {
		cp.history[id] = slices.Clone(h)
	}
	for id, items := range s.carts {
		cp.carts[id] = slices.Clone(items)
	}
	return cp
}

func (s *state) stores() order.Stores {
	return order.Stores{
		Orders:    &orderRepo{st: s},
		Inventory: &inventoryRepo{st: s},
		Coupons:   &couponRepo{st: s},
		Users:     &userRepo{st: s},
		Carts:     &cartRepo{st: s},
	}
}

// Store is an in-memory database.
type Store struct {
	mu sync.Mutex
	st *state
}

// New creates an empty Store.
func New() *Store {
	return &Store{st: newState()}
}

var _ order.UnitOfWork = (*Store)(nil)

// Do runs fn against a private copy of the state and publishes the copy only
// if fn succeeds and ctx is still alive. Units do not nest.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, st order.Stores) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "begin")
	}
	work := s.st.clone()
	if err := fn(ctx, work.stores()); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "commit")
	}
	s.st = work
	return nil
}

// AddProduct inserts or replaces a product and its variants.
func (s *Store) AddProduct(p inventory.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.st.products[p.ID] = productInfo{name: p.Name, image: p.Image}
	for _, v := range p.Variants {
		v.ProductID = p.ID
		s.st.variants[variantKey{productID: p.ID, sku: v.SKU}] = v
	}
}

// AddCoupon inserts or replaces a coupon.
func (s *Store) AddCoupon(c coupon.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.coupons[c.ID] = c
}

// AddUser inserts or replaces a user.
func (s *Store) AddUser(u user.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.users[u.ID] = u
}

// SetCart replaces a user's cart.
func (s *Store) SetCart(userID string, items []cart.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.carts[userID] = slices.Clone(items)
}

// History returns a user's order history.
func (s *Store) History(userID string) []user.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.st.history[userID])
}

// OrderCount returns the number of stored orders.
func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.orders)
}

// Ping always succeeds. It lets the store stand in for a database in
// readiness checks.
func (s *Store) Ping(context.Context) error { return nil }

// Coupons returns a coupon repository that runs each call as its own unit.
func (s *Store) Coupons() coupon.Repository { return autoCoupons{s: s} }

// Users returns a user repository that runs each call as its own unit.
func (s *Store) Users() user.Repository { return autoUsers{s: s} }

// Inventory returns an inventory repository that runs each call as its own
// unit.
func (s *Store) Inventory() inventory.Repository { return autoInventory{s: s} }

// Carts returns a cart repository that runs each call as its own unit.
func (s *Store) Carts() cart.Repository { return autoCarts{s: s} }
