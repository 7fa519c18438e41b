package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Evaluation is the outcome of a successful coupon evaluation.
type Evaluation struct {
	CouponID         string
	Code             string
	Discount         decimal.Decimal
	EligibleSubtotal decimal.Decimal
}

// Evaluator decides whether a coupon applies to a cart and how much it takes
// off. It performs no writes.
type Evaluator struct {
	repo Repository
	now  func() time.Time
}

// NewEvaluator creates an Evaluator backed by the given Repository.
func NewEvaluator(repo Repository) *Evaluator {
	return &Evaluator{repo: repo, now: time.Now}
}

// Evaluate looks up the coupon for code and checks, in order: existence,
// active flag, expiration, remaining usage and cart scope. The discount covers
// only the eligible items.
func (e *Evaluator) Evaluate(ctx context.Context, code string, items []Item) (*Evaluation, error) {
	c, err := e.repo.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		if errors.Is(err, ErrCouponNotFound) {
			return nil, ErrCouponNotFound
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if !c.IsActive {
		return nil, ErrCouponInactive
	}
	if c.ExpirationDate.Before(e.now()) {
		return nil, ErrCouponExpired
	}
	// Pre-filter only; Ledger.Reserve is authoritative.
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return nil, ErrCouponExhausted
	}

	eligible := Eligible(c, items)
	if len(eligible) == 0 {
		return nil, ErrCouponNotApplicable
	}

	eligibleSubtotal := Subtotal(eligible)
	amount, err := Amount(c, eligibleSubtotal)
	if err != nil {
		return nil, err
	}

	return &Evaluation{
		CouponID:         c.ID,
		Code:             c.Code,
		Discount:         amount,
		EligibleSubtotal: eligibleSubtotal,
	}, nil
}
