// Package inventory tracks per-variant stock and sold counts.
package inventory

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xenking/shopfront/pkg/apperr"
)

var (
	// ErrVariantNotFound is returned when the product or its sku is missing.
	ErrVariantNotFound = apperr.New(apperr.KindNotFound, "product variant not found")
	// ErrOutOfStock is returned when soldCount + quantity would exceed stock.
	ErrOutOfStock = apperr.New(apperr.KindConflict, "out of stock")
	// ErrInvalidQuantity is returned for non-positive quantities.
	ErrInvalidQuantity = apperr.New(apperr.KindValidation, "quantity must be greater than 0")
)

// Snapshot is the variant data frozen into an order line item.
type Snapshot struct {
	ProductID string
	Name      string
	Image     string
	Color     string
	Storage   string
	RAM       string
	SKU       string
	Price     decimal.Decimal
}

// Variant is one purchasable sku of a product.
type Variant struct {
	ProductID string
	SKU       string
	Color     string
	Storage   string
	RAM       string
	Image     string
	Price     decimal.Decimal
	Stock     int
	SoldCount int
}

// Product groups the variants of one catalog entry.
type Product struct {
	ID       string
	Name     string
	Image    string
	Variants []Variant
}

// Available returns the units that can still be reserved.
func (v Variant) Available() int {
	return v.Stock - v.SoldCount
}

// Repository mutates variant counters. Implementations must perform Reserve
// as one conditional read-modify-write keyed on product id and sku.
type Repository interface {
	// Reserve increments soldCount by qty only if soldCount+qty <= stock and
	// returns the variant snapshot. It returns ErrVariantNotFound or
	// ErrOutOfStock otherwise, leaving the counters untouched.
	Reserve(ctx context.Context, productID, sku string, qty int) (*Snapshot, error)
	// Release decrements soldCount by qty, never below zero.
	Release(ctx context.Context, productID, sku string, qty int) error
	// Variant returns the current state of a variant.
	Variant(ctx context.Context, productID, sku string) (*Variant, error)
}

// Request is one line of a reservation.
type Request struct {
	ProductID string
	SKU       string
	Quantity  int
}

// NotFound builds ErrVariantNotFound with the offending line item attached.
func NotFound(productID, sku string) error {
	return ErrVariantNotFound.With("productId", productID).With("sku", sku)
}

// OutOfStock builds ErrOutOfStock with the offending line item attached.
func OutOfStock(productID, sku string) error {
	return ErrOutOfStock.With("productId", productID).With("sku", sku)
}
