package order

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/shopfront/internal/domain/inventory"
)

// Discounts are the coupon amounts to subtract from an order.
type Discounts struct {
	Product  decimal.Decimal
	Shipping decimal.Decimal
}

// Draft is the priced, not yet persisted shape of an order.
type Draft struct {
	Items            []LineItem
	Subtotal         decimal.Decimal
	ShippingCharge   decimal.Decimal
	ShippingDiscount decimal.Decimal
	Discount         decimal.Decimal
	Total            decimal.Decimal
}

// LineItems turns reservations into order line items.
func LineItems(reservations []inventory.Reservation) []LineItem {
	items := make([]LineItem, len(reservations))
	for i, r := range reservations {
		s := r.Snapshot
		items[i] = LineItem{
			ProductID: s.ProductID,
			SKU:       s.SKU,
			Name:      s.Name,
			Image:     s.Image,
			Color:     s.Color,
			Storage:   s.Storage,
			RAM:       s.RAM,
			Price:     s.Price,
			Quantity:  r.Request.Quantity,
		}
	}
	return items
}

// Subtotal sums price * quantity over items.
func Subtotal(items []LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Total())
	}
	return sum
}

// Assemble prices an order. The product discount never exceeds the
// subtotal and the shipping discount never exceeds the shipping charge, so
// the total is never negative.
func Assemble(items []LineItem, d Discounts, shippingCharge decimal.Decimal) Draft {
	subtotal := Subtotal(items)
	discount := clamp(d.Product, subtotal)
	shippingDiscount := clamp(d.Shipping, shippingCharge)

	total := subtotal.Add(shippingCharge).Sub(shippingDiscount).Sub(discount)

	return Draft{
		Items:            items,
		Subtotal:         subtotal,
		ShippingCharge:   shippingCharge,
		ShippingDiscount: shippingDiscount,
		Discount:         discount,
		Total:            total,
	}
}

func clamp(v, limit decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	if limit.IsNegative() {
		limit = decimal.Zero
	}
	return decimal.Min(v, limit)
}

// NewCode returns a human-readable order code: "ORD", the UTC timestamp as
// yyMMddHHmmss and six random digits. Uniqueness is enforced by storage.
func NewCode(now time.Time) string {
	return fmt.Sprintf("ORD%s%06d", now.UTC().Format("060102150405"), rand.IntN(1_000_000))
}
