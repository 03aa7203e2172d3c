package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/shopfront/internal/domain/cart"
	"github.com/xenking/shopfront/internal/domain/coupon"
	"github.com/xenking/shopfront/internal/domain/inventory"
	"github.com/xenking/shopfront/internal/domain/payment"
	"github.com/xenking/shopfront/internal/domain/user"
	"github.com/xenking/shopfront/pkg/apperr"
)

var (
	// ErrNotFound is returned when an order does not exist or is not visible
	// to the caller.
	ErrNotFound = apperr.New(apperr.KindNotFound, "order not found")
	// ErrDuplicateCode is returned by Repository.Create when the generated
	// order code is already taken.
	ErrDuplicateCode = apperr.New(apperr.KindConflict, "order code already exists")
	// ErrEmptyItems is returned for a checkout without line items.
	ErrEmptyItems = apperr.New(apperr.KindValidation, "items required")
	// ErrUnknownUser is returned when the checking-out user does not exist.
	ErrUnknownUser = apperr.New(apperr.KindValidation, "user does not exist")
	// ErrIncompleteAddress is returned when a required address field is blank.
	ErrIncompleteAddress = apperr.New(apperr.KindValidation, "shipping address incomplete")
)

// Address is the shipping address frozen into an order.
type Address struct {
	FullName string `json:"fullName"`
	Phone    string `json:"phone"`
	Street   string `json:"street"`
	Ward     string `json:"ward,omitempty"`
	District string `json:"district"`
	City     string `json:"city"`
}

// LineItem is a snapshot of a purchased variant. It is never re-derived from
// the live catalog.
type LineItem struct {
	ProductID string          `json:"productId"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Image     string          `json:"image"`
	Color     string          `json:"color,omitempty"`
	Storage   string          `json:"storage,omitempty"`
	RAM       string          `json:"ram,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

// Total returns price * quantity.
func (li LineItem) Total() decimal.Decimal {
	return li.Price.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Cancellation records why an order was (or is asked to be) cancelled.
type Cancellation struct {
	Reason      string
	Description string
	RequestedAt time.Time
}

// Order is one checkout's worth of purchased variants.
type Order struct {
	// ID is the storage primary key.
	ID string
	// Code is the human-readable order identifier shown to customers.
	Code   string
	UserID string

	Items           []LineItem
	ShippingAddress Address

	Subtotal         decimal.Decimal
	ShippingCharge   decimal.Decimal
	ShippingDiscount decimal.Decimal
	Discount         decimal.Decimal
	Total            decimal.Decimal

	PaymentMethod payment.Method
	PaymentStatus PaymentStatus
	Status        Status
	// PreviousStatus is set while Status is cancellation_pending.
	PreviousStatus Status
	CouponIDs      []string
	Cancellation   *Cancellation

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Requests converts the line items back to inventory requests.
func (o *Order) Requests() []inventory.Request {
	reqs := make([]inventory.Request, len(o.Items))
	for i, it := range o.Items {
		reqs[i] = inventory.Request{ProductID: it.ProductID, SKU: it.SKU, Quantity: it.Quantity}
	}
	return reqs
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create persists a new order. It returns ErrDuplicateCode on a code clash.
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	// GetForUpdate is Get that also locks the order for the rest of the
	// enclosing unit of work.
	GetForUpdate(ctx context.Context, id string) (*Order, error)
	GetByCodeForUpdate(ctx context.Context, code string) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	// Update writes status, payment status and cancellation fields.
	Update(ctx context.Context, o *Order) error
}

// Stores is the set of repositories bound to one unit of work.
type Stores struct {
	Orders    Repository
	Inventory inventory.Repository
	Coupons   coupon.Repository
	Users     user.Repository
	Carts     cart.Repository
}

// UnitOfWork runs fn atomically: every mutation made through the provided
// Stores commits together when fn returns nil, and none survives otherwise.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
}
