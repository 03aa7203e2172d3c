package order

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/shopfront/internal/domain/inventory"
	"github.com/xenking/shopfront/pkg/apperr"
)

// ErrReasonRequired is returned for a customer cancel without a reason.
var ErrReasonRequired = apperr.New(apperr.KindValidation, "cancellation reason required")

// StatusUpdate is an admin status change.
type StatusUpdate struct {
	Status      Status
	Reason      string
	Description string
}

// UpdateStatus moves an order along the admin transition table. Entering
// cancelled or rejected returns the reserved stock in the same unit of work.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, upd StatusUpdate) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.UpdateStatus")
	defer span.End()

	if !upd.Status.Valid() {
		return nil, ErrInvalidStatus.With("orderStatus", string(upd.Status))
	}

	var (
		out  *Order
		from Status
	)
	err := s.uow.Do(ctx, func(ctx context.Context, st Stores) error {
		o, err := st.Orders.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		from = o.Status

		now := s.now().UTC()
		if err := o.ApplyStatus(upd.Status, now); err != nil {
			return err
		}
		if reason := strings.TrimSpace(upd.Reason); reason != "" && releasesStock(o.Status) {
			o.Cancellation = &Cancellation{
				Reason:      NormalizeReason(reason),
				Description: upd.Description,
				RequestedAt: now,
			}
		}
		if releasesStock(o.Status) {
			if err := inventory.ReleaseAll(ctx, st.Inventory, o.Requests()); err != nil {
				return err
			}
		}
		if err := st.Orders.Update(ctx, o); err != nil {
			return errors.Wrap(err, "update order")
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.statusChanged.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(out.Status)),
	))
	zctx.From(ctx).Info("Order status updated",
		zap.String("order_id", out.ID),
		zap.String("from", string(from)),
		zap.String("to", string(out.Status)),
	)
	return out, nil
}

// RequestCancel applies a customer cancellation to the user's own order.
func (s *Service) RequestCancel(ctx context.Context, userID, orderID, reason, description string) (*Order, CancelOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "order.RequestCancel")
	defer span.End()

	if strings.TrimSpace(reason) == "" {
		return nil, "", ErrReasonRequired
	}

	var (
		out     *Order
		outcome CancelOutcome
	)
	err := s.uow.Do(ctx, func(ctx context.Context, st Stores) error {
		o, err := st.Orders.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.UserID != userID {
			return ErrNotFound.With("orderId", orderID)
		}

		outcome, err = o.RequestCancel(reason, description, s.now().UTC())
		if err != nil {
			return err
		}
		if outcome == CancelApplied {
			if err := inventory.ReleaseAll(ctx, st.Inventory, o.Requests()); err != nil {
				return err
			}
		}
		if err := st.Orders.Update(ctx, o); err != nil {
			return errors.Wrap(err, "update order")
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	zctx.From(ctx).Info("Order cancellation",
		zap.String("order_id", out.ID),
		zap.String("outcome", string(outcome)),
		zap.String("reason", out.Cancellation.Reason),
	)
	return out, outcome, nil
}
