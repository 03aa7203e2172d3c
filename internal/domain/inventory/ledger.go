package inventory

import (
	"context"

	"github.com/go-faster/errors"
)

// Reservation pairs a request with the snapshot it produced.
type Reservation struct {
	Request  Request
	Snapshot Snapshot
}

// ReserveAll reserves every request in order and stops at the first failure.
// Reservations made before the failure are NOT undone here: callers run it
// inside a unit of work and rely on its rollback.
func ReserveAll(ctx context.Context, repo Repository, reqs []Request) ([]Reservation, error) {
	out := make([]Reservation, 0, len(reqs))
	for _, r := range reqs {
		if r.Quantity <= 0 {
			return nil, ErrInvalidQuantity.With("productId", r.ProductID).With("sku", r.SKU)
		}
		snap, err := repo.Reserve(ctx, r.ProductID, r.SKU, r.Quantity)
		if err != nil {
			return nil, errors.Wrapf(err, "reserve %s/%s", r.ProductID, r.SKU)
		}
		out = append(out, Reservation{Request: r, Snapshot: *snap})
	}
	return out, nil
}

// ReleaseAll returns stock for every request. Used when an order leaves the
// fulfilment path (cancelled or rejected).
func ReleaseAll(ctx context.Context, repo Repository, reqs []Request) error {
	for _, r := range reqs {
		if err := repo.Release(ctx, r.ProductID, r.SKU, r.Quantity); err != nil {
			return errors.Wrapf(err, "release %s/%s", r.ProductID, r.SKU)
		}
	}
	return nil
}
