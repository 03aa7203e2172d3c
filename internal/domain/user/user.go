// Package user holds the user data the checkout core reads and appends to.
package user

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/shopfront/pkg/apperr"
)

// ErrNotFound is returned when a user does not exist.
var ErrNotFound = apperr.New(apperr.KindNotFound, "user not found")

// User is the subset of the user record used by checkout.
type User struct {
	ID    string
	Email string
	Name  string
}

// HistoryEntry is the order summary appended to a user on checkout.
type HistoryEntry struct {
	OrderID   string
	OrderCode string
	OrderedAt time.Time
	Total     decimal.Decimal
	CouponIDs []string
}

// Repository provides user lookups and order-history appends.
type Repository interface {
	Get(ctx context.Context, id string) (*User, error)
	AppendHistory(ctx context.Context, userID string, entry HistoryEntry) error
	// UsedCouponIDs returns every coupon id recorded in the user's history.
	UsedCouponIDs(ctx context.Context, userID string) ([]string, error)
}
