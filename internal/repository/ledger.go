package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/internal/domain/coupon"
)

const (
	// The predicate and the increment are one statement, so concurrent
	// reservations serialize on the row lock and never overshoot the limit.
	reserveCouponSQL = `UPDATE coupons SET used_count = used_count + 1, updated_at = now()
		WHERE id = $1 AND (usage_limit IS NULL OR used_count < usage_limit)
		RETURNING used_count`

	releaseCouponSQL = `UPDATE coupons SET used_count = used_count - 1, updated_at = now()
		WHERE id = $1 AND used_count > 0`
)

var _ coupon.Ledger = (*CouponLedger)(nil)

// CouponLedger owns the used_count column.
type CouponLedger struct {
	pool *pgxpool.Pool
}

// NewCouponLedger returns a CouponLedger that uses the given pool.
func NewCouponLedger(pool *pgxpool.Pool) *CouponLedger {
	return &CouponLedger{pool: pool}
}

// Reserve claims one redemption of the coupon. When the limit is already
// reached it returns coupon.ErrCouponExhausted wrapping
// coupon.ErrConcurrencyConflict; a vanished row is also exhausted, wrapping
// coupon.ErrCouponNotFound.
func (l *CouponLedger) Reserve(ctx context.Context, couponID string) error {
	var used int32
	err := l.pool.QueryRow(ctx, reserveCouponSQL, couponID).Scan(&used)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("reserving coupon %q: %w", couponID, err)
	}

	var exists bool
	if err := l.pool.QueryRow(ctx, couponExistsSQL, couponID).Scan(&exists); err != nil {
		return fmt.Errorf("reserving coupon %q: %w", couponID, err)
	}
	if !exists {
		return fmt.Errorf("%w: %w", coupon.ErrCouponExhausted, coupon.ErrCouponNotFound)
	}
	return fmt.Errorf("%w: %w", coupon.ErrCouponExhausted, coupon.ErrConcurrencyConflict)
}

// Release returns one redemption. It fails if the counter is already zero,
// which means there was nothing reserved to return.
func (l *CouponLedger) Release(ctx context.Context, couponID string) error {
	tag, err := l.pool.Exec(ctx, releaseCouponSQL, couponID)
	if err != nil {
		return fmt.Errorf("releasing coupon %q: %w", couponID, err)
	}
	if tag.RowsAffected() == 0 {
		return errors.Errorf("releasing coupon %q: no outstanding reservation", couponID)
	}
	return nil
}
