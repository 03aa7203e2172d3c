// Package payment describes the payment gateway collaborator.
package payment

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xenking/shopfront/pkg/apperr"
)

// Method is how the customer pays for an order.
type Method string

const (
	MethodCOD   Method = "COD"
	MethodVNPay Method = "VNPAY"
	MethodMomo  Method = "MOMO"
)

// Valid reports whether m is a known payment method.
func (m Method) Valid() bool {
	switch m {
	case MethodCOD, MethodVNPay, MethodMomo:
		return true
	}
	return false
}

// RequiresRedirect reports whether the method needs an external payment page.
func (m Method) RequiresRedirect() bool {
	return m == MethodVNPay || m == MethodMomo
}

var (
	// ErrInvalidSignature is returned when a callback signature does not verify.
	ErrInvalidSignature = apperr.New(apperr.KindValidation, "invalid payment signature")
	// ErrUnsupportedMethod is returned when no gateway serves the method.
	ErrUnsupportedMethod = apperr.New(apperr.KindValidation, "unsupported payment method")
)

// GatewayAmount is the amount gateways charge for an order total: whole dong,
// rounded half away from zero. Callback amounts are compared after the same
// rounding.
func GatewayAmount(total decimal.Decimal) decimal.Decimal {
	return total.Round(0)
}

// Request asks a gateway for a payment page.
type Request struct {
	ClientIP  string
	OrderCode string
	Amount    decimal.Decimal
	OrderInfo string
}

// CallbackResult is a verified gateway callback.
type CallbackResult struct {
	Success   bool
	OrderCode string
	Amount    decimal.Decimal
	// TransactionID is the gateway-side reference, empty when unknown.
	TransactionID string
}

// Gateway creates payment URLs and verifies callbacks for one method.
type Gateway interface {
	CreatePaymentURL(ctx context.Context, req Request) (string, error)
	CheckStatus(ctx context.Context, params map[string]string) (*CallbackResult, error)
}

// Registry maps payment methods to their gateways.
type Registry map[Method]Gateway

// Get returns the gateway for m or ErrUnsupportedMethod.
func (r Registry) Get(m Method) (Gateway, error) {
	g, ok := r[m]
	if !ok || g == nil {
		return nil, ErrUnsupportedMethod.With("paymentMethod", string(m))
	}
	return g, nil
}
