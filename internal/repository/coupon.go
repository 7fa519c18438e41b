package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/internal/domain/coupon"
)

const (
	couponColumns = `id, code, discount_type, discount_value, expiration_date, is_active,
		usage_limit, used_count, applicable_type, applicable_ids, created_at, updated_at`

	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`
	getCouponByIDSQL   = `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`
	listCouponsSQL     = `SELECT ` + couponColumns + ` FROM coupons ORDER BY created_at, code`

	createCouponSQL = `INSERT INTO coupons (id, code, discount_type, discount_value, expiration_date,
		is_active, usage_limit, used_count, applicable_type, applicable_ids, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $10, $10)`

	// The write never touches used_count, and refuses a limit below it.
	updateCouponSQL = `UPDATE coupons SET discount_type = $2, discount_value = $3,
		expiration_date = $4, is_active = $5, usage_limit = $6::int,
		applicable_type = $7, applicable_ids = $8, updated_at = $9
		WHERE id = $1 AND ($6::int IS NULL OR used_count <= $6::int)
		RETURNING used_count`

	couponExistsSQL = `SELECT EXISTS (SELECT 1 FROM coupons WHERE id = $1)`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its normalized code, active or not.
// Returns coupon.ErrCouponNotFound when no row matches.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return r.findOne(ctx, getCouponByCodeSQL, code)
}

// FindByID looks up a coupon by ID.
func (r *CouponRepository) FindByID(ctx context.Context, id string) (*coupon.Coupon, error) {
	return r.findOne(ctx, getCouponByIDSQL, id)
}

func (r *CouponRepository) findOne(ctx context.Context, sql, arg string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("finding coupon %q: %w", arg, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrCouponNotFound
		}
		return nil, fmt.Errorf("finding coupon %q: %w", arg, err)
	}
	return &c, nil
}

// List returns every coupon.
func (r *CouponRepository) List(ctx context.Context) ([]coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, listCouponsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}

	coupons, err := pgx.CollectRows(rows, scanCoupon)
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}
	return coupons, nil
}

// Create inserts c with a zero usage counter. A duplicate code yields
// coupon.ErrCodeTaken.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	now := c.CreatedAt
	if now.IsZero() {
		now = time.Now()
	}

	_, err := r.pool.Exec(ctx, createCouponSQL,
		c.ID, c.Code, string(c.DiscountType), c.DiscountValue, c.ExpirationDate,
		c.IsActive, limitArg(c.UsageLimit), string(c.ApplicableType), idsArg(c.ApplicableIDs), now,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return coupon.ErrCodeTaken
		}
		return fmt.Errorf("creating coupon %q: %w", c.Code, err)
	}

	c.UsedCount = 0
	c.CreatedAt, c.UpdatedAt = now, now
	return nil
}

// Update overwrites the mutable fields of c. UsedCount is read back from the
// row, never written. Lowering UsageLimit below the current count fails with
// coupon.ErrInvalidCoupon.
func (r *CouponRepository) Update(ctx context.Context, c *coupon.Coupon) error {
	now := c.UpdatedAt
	if now.IsZero() {
		now = time.Now()
	}

	var used int32
	err := r.pool.QueryRow(ctx, updateCouponSQL,
		c.ID, string(c.DiscountType), c.DiscountValue, c.ExpirationDate, c.IsActive,
		limitArg(c.UsageLimit), string(c.ApplicableType), idsArg(c.ApplicableIDs), now,
	).Scan(&used)
	if err == nil {
		c.UsedCount = int(used)
		c.UpdatedAt = now
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("updating coupon %q: %w", c.Code, err)
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, couponExistsSQL, c.ID).Scan(&exists); err != nil {
		return fmt.Errorf("updating coupon %q: %w", c.Code, err)
	}
	if !exists {
		return coupon.ErrCouponNotFound
	}
	return fmt.Errorf("%w: usage limit below redemptions already made", coupon.ErrInvalidCoupon)
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c              coupon.Coupon
		discountType   string
		applicableType string
		usageLimit     *int32
		usedCount      int32
	)
	err := row.Scan(
		&c.ID, &c.Code, &discountType, &c.DiscountValue, &c.ExpirationDate, &c.IsActive,
		&usageLimit, &usedCount, &applicableType, &c.ApplicableIDs, &c.CreatedAt, &c.UpdatedAt,
	)
	c.DiscountType = coupon.DiscountType(discountType)
	c.ApplicableType = coupon.ApplicableType(applicableType)
	c.UsedCount = int(usedCount)
	if usageLimit != nil {
		limit := int(*usageLimit)
		c.UsageLimit = &limit
	}
	return c, err
}

func limitArg(limit *int) *int32 {
	if limit == nil {
		return nil
	}
	v := int32(*limit)
	return &v
}

func idsArg(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
