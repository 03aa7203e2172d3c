package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/shopfront/pkg/apperr"
)

// Result is a successful evaluation.
type Result struct {
	Coupon *Coupon
	Amount decimal.Decimal
}

// UsageLookup reports which coupons a user already redeemed.
type UsageLookup interface {
	UsedCouponIDs(ctx context.Context, userID string) ([]string, error)
}

// Evaluator checks coupon eligibility and computes discounts. It never
// mutates usage counters.
type Evaluator struct {
	repo Repository
	now  func() time.Time
}

// NewEvaluator creates an Evaluator backed by repo.
func NewEvaluator(repo Repository) *Evaluator {
	return &Evaluator{repo: repo, now: time.Now}
}

// WithRepository returns an Evaluator that reads through repo, keeping the
// clock. The order unit of work uses it to evaluate against its transaction.
func (e *Evaluator) WithRepository(repo Repository) *Evaluator {
	return &Evaluator{repo: repo, now: e.now}
}

// Evaluate validates code against subtotal and returns the discount amount.
func (e *Evaluator) Evaluate(ctx context.Context, code string, subtotal decimal.Decimal) (*Result, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrEmptyCode
	}
	if !subtotal.IsPositive() {
		return nil, ErrInvalidSubtotal
	}

	c, err := e.repo.FindRedeemable(ctx, code, e.now())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound.With("code", code)
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if subtotal.LessThan(c.MinimumOrder) {
		return nil, apperr.Newf(apperr.KindConflict,
			"order subtotal must be at least %s to use this coupon", c.MinimumOrder.String()).
			With("code", c.Code).
			With("minimumOrder", c.MinimumOrder.String())
	}
	if c.UsedCount >= c.Quantity {
		return nil, ErrFullyUsed.With("code", c.Code)
	}

	return &Result{Coupon: c, Amount: Compute(c, subtotal)}, nil
}

// Available lists the redeemable coupons the user has not consumed yet.
func (e *Evaluator) Available(ctx context.Context, usage UsageLookup, userID string) ([]Coupon, error) {
	all, err := e.repo.ListRedeemable(ctx, e.now())
	if err != nil {
		return nil, errors.Wrap(err, "list coupons")
	}
	used, err := usage.UsedCouponIDs(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "load used coupons")
	}

	usedSet := make(map[string]struct{}, len(used))
	for _, id := range used {
		usedSet[id] = struct{}{}
	}

	available := make([]Coupon, 0, len(all))
	for _, c := range all {
		if _, ok := usedSet[c.ID]; ok {
			continue
		}
		available = append(available, c)
	}
	return available, nil
}
