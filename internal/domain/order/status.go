package order

import (
	"strings"
	"time"

	"github.com/xenking/shopfront/pkg/apperr"
)

// Status is the order lifecycle state.
type Status string

const (
	StatusPending             Status = "pending"
	StatusOnTheWay            Status = "on_the_way"
	StatusDelivered           Status = "delivered"
	StatusRejected            Status = "rejected"
	StatusCancelled           Status = "cancelled"
	StatusCancellationPending Status = "cancellation_pending"
	StatusReturned            Status = "returned"
)

// Valid reports whether s belongs to the closed status set.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusOnTheWay, StatusDelivered, StatusRejected,
		StatusCancelled, StatusCancellationPending, StatusReturned:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusDelivered, StatusRejected, StatusCancelled, StatusReturned:
		return true
	}
	return false
}

// PaymentStatus tracks the money side of an order.
type PaymentStatus string

const (
	PaymentUnpaid    PaymentStatus = "unpaid"
	PaymentPaid      PaymentStatus = "paid"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
)

var (
	ErrInvalidStatus       = apperr.New(apperr.KindValidation, "unknown order status")
	ErrInvalidTransition   = apperr.New(apperr.KindStateConflict, "order status transition not allowed")
	ErrAlreadyCancelled    = apperr.New(apperr.KindStateConflict, "order is already cancelled")
	ErrCancellationPending = apperr.New(apperr.KindStateConflict, "cancellation already requested")
	ErrNotCancellable      = apperr.New(apperr.KindStateConflict, "order can no longer be cancelled")
)

// adminTransitions lists forward moves an admin may make. Leaving
// cancellation_pending is handled separately because its target depends on
// the status the order had before the request.
var adminTransitions = map[Status][]Status{
	StatusPending:  {StatusOnTheWay, StatusRejected, StatusCancelled},
	StatusOnTheWay: {StatusDelivered, StatusCancelled, StatusReturned},
}

// CanTransition reports whether an admin may move an order from its current
// state to target.
func (o *Order) CanTransition(target Status) bool {
	if o.Status == StatusCancellationPending {
		return target == StatusCancelled || (target == o.PreviousStatus && target != "")
	}
	for _, s := range adminTransitions[o.Status] {
		if s == target {
			return true
		}
	}
	return false
}

// ApplyStatus performs an admin transition. Entering cancelled forces the
// payment status to cancelled.
func (o *Order) ApplyStatus(target Status, now time.Time) error {
	if !target.Valid() {
		return ErrInvalidStatus.With("orderStatus", string(target))
	}
	if !o.CanTransition(target) {
		return ErrInvalidTransition.
			With("from", string(o.Status)).
			With("to", string(target))
	}

	o.Status = target
	o.PreviousStatus = ""
	if target == StatusCancelled {
		o.PaymentStatus = PaymentCancelled
	}
	o.UpdatedAt = now
	return nil
}

// CancelOutcome tells whether a customer cancel took effect immediately.
type CancelOutcome string

const (
	CancelApplied   CancelOutcome = "cancelled"
	CancelRequested CancelOutcome = "requested"
)

// RequestCancel handles a customer cancellation. A pending order is
// cancelled at once with the reason kept verbatim. A later order moves to
// cancellation_pending with a normalized reason, awaiting an admin decision.
func (o *Order) RequestCancel(reason, description string, now time.Time) (CancelOutcome, error) {
	switch o.Status {
	case StatusPending:
		o.Status = StatusCancelled
		o.PaymentStatus = PaymentCancelled
		o.Cancellation = &Cancellation{Reason: reason, Description: description, RequestedAt: now}
		o.UpdatedAt = now
		return CancelApplied, nil
	case StatusOnTheWay:
		o.PreviousStatus = o.Status
		o.Status = StatusCancellationPending
		o.Cancellation = &Cancellation{
			Reason:      NormalizeReason(reason),
			Description: description,
			RequestedAt: now,
		}
		o.UpdatedAt = now
		return CancelRequested, nil
	case StatusCancelled:
		return "", ErrAlreadyCancelled
	case StatusCancellationPending:
		return "", ErrCancellationPending
	case StatusDelivered, StatusRejected, StatusReturned:
		return "", ErrNotCancellable.With("orderStatus", string(o.Status))
	default:
		return "", ErrInvalidStatus.With("orderStatus", string(o.Status))
	}
}

// Known cancellation reasons.
const (
	ReasonUnconfirmedByBuyer = "unconfirmed_by_buyer"
	ReasonBuyerDeclined      = "buyer_declined"
	ReasonChangedMind        = "changed_mind"
	ReasonFoundBetterPrice   = "found_better_price"
	ReasonDeliveryTooSlow    = "delivery_too_slow"
)

var knownReasons = map[string]string{
	"unconfirmed by buyer": ReasonUnconfirmedByBuyer,
	"buyer declined":       ReasonBuyerDeclined,
	"changed mind":         ReasonChangedMind,
	"changed my mind":      ReasonChangedMind,
	"found better price":   ReasonFoundBetterPrice,
	"found a better price": ReasonFoundBetterPrice,
	"delivery too slow":    ReasonDeliveryTooSlow,
}

// NormalizeReason maps raw onto a known reason when it matches one,
// ignoring case, separators and extra spaces. Anything else is returned
// trimmed as free text.
func NormalizeReason(raw string) string {
	key := strings.ToLower(raw)
	key = strings.NewReplacer("_", " ", "-", " ").Replace(key)
	key = strings.Join(strings.Fields(key), " ")
	if r, ok := knownReasons[key]; ok {
		return r
	}
	return strings.TrimSpace(raw)
}

// releasesStock reports whether entering s returns reserved units.
func releasesStock(s Status) bool {
	return s == StatusCancelled || s == StatusRejected
}
