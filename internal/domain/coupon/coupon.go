package coupon

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/shopfront/pkg/apperr"
)

// Type selects what a coupon discounts.
type Type string

const (
	// TypeShopping reduces the product subtotal.
	TypeShopping Type = "shopping"
	// TypeShipping reduces the shipping charge.
	TypeShipping Type = "shipping"
)

// Valid reports whether t is a known coupon type.
func (t Type) Valid() bool {
	return t == TypeShopping || t == TypeShipping
}

// Kind selects how the discount amount is computed.
type Kind string

const (
	// KindPercent takes a percentage of the subtotal, optionally capped.
	KindPercent Kind = "percent"
	// KindFixed takes the configured amount as-is.
	KindFixed Kind = "fixed"
)

// Valid reports whether k is a known discount kind.
func (k Kind) Valid() bool {
	return k == KindPercent || k == KindFixed
}

var (
	// ErrNotFound covers unknown, hidden and out-of-window codes alike so that
	// callers cannot probe validity windows.
	ErrNotFound = apperr.New(apperr.KindNotFound, "coupon not found")
	// ErrFullyUsed is returned when the usage quantity is exhausted.
	ErrFullyUsed = apperr.New(apperr.KindConflict, "coupon fully used")
	// ErrEmptyCode is returned for a blank code.
	ErrEmptyCode = apperr.New(apperr.KindValidation, "coupon code required")
	// ErrInvalidSubtotal is returned for a non-positive subtotal.
	ErrInvalidSubtotal = apperr.New(apperr.KindValidation, "subtotal must be positive")
)

// Coupon is a discount instrument.
type Coupon struct {
	ID              string
	Code            string
	Type            Type
	Kind            Kind
	Discount        decimal.Decimal
	MinimumOrder    decimal.Decimal
	MaximumDiscount decimal.Decimal
	StartDate       time.Time
	EndDate         time.Time
	Quantity        int
	UsedCount       int
	Hidden          bool
}

// Redeemable reports whether c can be offered at the given instant, ignoring
// the order subtotal.
func (c *Coupon) Redeemable(now time.Time) bool {
	return !c.Hidden &&
		!now.Before(c.StartDate) &&
		!now.After(c.EndDate) &&
		c.UsedCount < c.Quantity
}

// Repository provides coupon lookups and the usage counter mutation.
type Repository interface {
	// FindRedeemable returns the coupon matching code that is not hidden and
	// whose validity window contains now. It returns ErrNotFound otherwise.
	FindRedeemable(ctx context.Context, code string, now time.Time) (*Coupon, error)
	// ListRedeemable returns every coupon that is not hidden, inside its
	// window and not fully used.
	ListRedeemable(ctx context.Context, now time.Time) ([]Coupon, error)
	// IncrementUsage bumps used_count by one if it is still below quantity.
	// It returns ErrFullyUsed when the conditional update matched nothing.
	IncrementUsage(ctx context.Context, id string) error
}
