package coupon

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Compute returns the discount c grants on subtotal. It does not check
// eligibility; see Evaluator.Evaluate for that.
//
// Percent coupons take discount% of the subtotal and are clamped to
// MaximumDiscount when it is positive. Fixed coupons grant Discount verbatim.
func Compute(c *Coupon, subtotal decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal
	switch c.Kind {
	case KindPercent:
		amount = subtotal.Mul(c.Discount).Div(hundred)
		if c.MaximumDiscount.IsPositive() {
			amount = decimal.Min(amount, c.MaximumDiscount)
		}
	case KindFixed:
		amount = c.Discount
	}
	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount.Round(2)
}
