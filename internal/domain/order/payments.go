package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/shopfront/internal/domain/payment"
	"github.com/xenking/shopfront/pkg/apperr"
)

var (
	ErrPaymentNotRequired = apperr.New(apperr.KindStateConflict, "order does not use online payment")
	ErrPaymentNotAllowed  = apperr.New(apperr.KindStateConflict, "order cannot be paid in its current state")
	ErrAmountMismatch     = apperr.New(apperr.KindValidation, "paid amount does not match order total")
	ErrMethodMismatch     = apperr.New(apperr.KindValidation, "payment method does not match order")
)

// InitiatePayment creates a new payment URL for an unpaid online-payment
// order owned by userID.
func (s *Service) InitiatePayment(ctx context.Context, userID, orderID, clientIP string) (string, error) {
	o, err := s.GetForUser(ctx, userID, orderID)
	if err != nil {
		return "", err
	}
	if !o.PaymentMethod.RequiresRedirect() {
		return "", ErrPaymentNotRequired.With("paymentMethod", string(o.PaymentMethod))
	}
	if o.Status != StatusPending || (o.PaymentStatus != PaymentUnpaid && o.PaymentStatus != PaymentFailed) {
		return "", ErrPaymentNotAllowed.
			With("orderStatus", string(o.Status)).
			With("paymentStatus", string(o.PaymentStatus))
	}

	url, err := s.paymentURL(ctx, o, clientIP)
	if err != nil {
		if _, ok := apperr.As(err); ok {
			return "", err
		}
		return "", apperr.Wrap(apperr.KindDependency, err, "payment gateway unavailable")
	}
	return url, nil
}

// CallbackOutcome is the effect of a verified gateway callback.
type CallbackOutcome struct {
	Order   *Order
	Success bool
	// AlreadyProcessed is set when the order was already paid.
	AlreadyProcessed bool
}

// HandlePaymentCallback verifies a gateway callback and records the payment
// result on the order. Repeated callbacks for a paid order are no-ops.
func (s *Service) HandlePaymentCallback(ctx context.Context, method payment.Method, params map[string]string) (*CallbackOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "order.HandlePaymentCallback")
	defer span.End()

	gw, err := s.payments.Get(method)
	if err != nil {
		return nil, err
	}
	res, err := gw.CheckStatus(ctx, params)
	if err != nil {
		return nil, err
	}

	out := &CallbackOutcome{Success: res.Success}
	err = s.uow.Do(ctx, func(ctx context.Context, st Stores) error {
		o, err := st.Orders.GetByCodeForUpdate(ctx, res.OrderCode)
		if err != nil {
			return err
		}
		out.Order = o

		if o.PaymentMethod != method {
			return ErrMethodMismatch.With("orderCode", o.Code)
		}
		if !payment.GatewayAmount(res.Amount).Equal(payment.GatewayAmount(o.Total)) {
			return ErrAmountMismatch.
				With("orderCode", o.Code).
				With("amount", res.Amount.String())
		}

		switch o.PaymentStatus {
		case PaymentPaid:
			out.AlreadyProcessed = true
			return nil
		case PaymentCancelled:
			zctx.From(ctx).Warn("Payment callback for cancelled order",
				zap.String("order_code", o.Code),
				zap.Bool("success", res.Success),
				zap.String("transaction_id", res.TransactionID),
			)
			return nil
		}

		if res.Success {
			o.PaymentStatus = PaymentPaid
		} else {
			o.PaymentStatus = PaymentFailed
		}
		o.UpdatedAt = s.now().UTC()
		if err := st.Orders.Update(ctx, o); err != nil {
			return errors.Wrap(err, "update order")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Payment callback processed",
		zap.String("order_code", out.Order.Code),
		zap.String("method", string(method)),
		zap.Bool("success", res.Success),
		zap.Bool("already_processed", out.AlreadyProcessed),
	)
	return out, nil
}
