// Package cart exposes the cart collaborator used by checkout.
package cart

import "context"

// Item is one cart line.
type Item struct {
	ProductID string
	SKU       string
	Quantity  int
}

// Repository reads and clears a user's cart.
type Repository interface {
	Items(ctx context.Context, userID string) ([]Item, error)
	Clear(ctx context.Context, userID string) error
}
