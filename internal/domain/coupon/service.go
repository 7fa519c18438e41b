package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Draft holds the administrator-editable fields of a coupon.
type Draft struct {
	Code           string
	DiscountType   DiscountType
	DiscountValue  decimal.Decimal
	ExpirationDate time.Time
	IsActive       bool
	UsageLimit     *int
	ApplicableType ApplicableType
	ApplicableIDs  []string
}

// Service implements coupon administration. Usage counters are left to the
// Ledger.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a coupon administration Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Create validates d and stores it as a new coupon with a zero usage count.
func (s *Service) Create(ctx context.Context, d Draft) (*Coupon, error) {
	d.Code = NormalizeCode(d.Code)
	if err := validateDraft(d, 0); err != nil {
		return nil, err
	}

	now := s.now()
	c := &Coupon{
		ID:             uuid.New().String(),
		Code:           d.Code,
		DiscountType:   d.DiscountType,
		DiscountValue:  d.DiscountValue,
		ExpirationDate: d.ExpirationDate,
		IsActive:       d.IsActive,
		UsageLimit:     d.UsageLimit,
		ApplicableType: d.ApplicableType,
		ApplicableIDs:  d.ApplicableIDs,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, errors.Wrap(err, "create coupon")
	}
	return c, nil
}

// Get returns the coupon for code.
func (s *Service) Get(ctx context.Context, code string) (*Coupon, error) {
	return s.repo.FindByCode(ctx, NormalizeCode(code))
}

// List returns all coupons.
func (s *Service) List(ctx context.Context) ([]Coupon, error) {
	return s.repo.List(ctx)
}

// Update replaces the editable fields of the coupon identified by code. The
// code itself and the usage count are not changed.
func (s *Service) Update(ctx context.Context, code string, d Draft) (*Coupon, error) {
	c, err := s.repo.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		return nil, err
	}

	d.Code = c.Code
	if err := validateDraft(d, c.UsedCount); err != nil {
		return nil, err
	}

	c.DiscountType = d.DiscountType
	c.DiscountValue = d.DiscountValue
	c.ExpirationDate = d.ExpirationDate
	c.IsActive = d.IsActive
	c.UsageLimit = d.UsageLimit
	c.ApplicableType = d.ApplicableType
	c.ApplicableIDs = d.ApplicableIDs
	c.UpdatedAt = s.now()

	if err := s.repo.Update(ctx, c); err != nil {
		return nil, errors.Wrap(err, "update coupon")
	}
	return c, nil
}

// Deactivate switches the coupon off. Coupons are never removed so that
// redemptions already reserved against them stay valid.
func (s *Service) Deactivate(ctx context.Context, code string) error {
	c, err := s.repo.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		return err
	}
	if !c.IsActive {
		return nil
	}
	c.IsActive = false
	c.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, c); err != nil {
		return errors.Wrap(err, "deactivate coupon")
	}
	return nil
}

func validateDraft(d Draft, usedCount int) error {
	invalid := func(format string, args ...any) error {
		return errors.Wrapf(ErrInvalidCoupon, format, args...)
	}

	if d.Code == "" {
		return invalid("code is required")
	}
	if _, err := ParseDiscountType(string(d.DiscountType)); err != nil {
		return invalid("%s", err)
	}
	if _, err := ParseApplicableType(string(d.ApplicableType)); err != nil {
		return invalid("%s", err)
	}
	if d.DiscountValue.IsNegative() {
		return invalid("discount value must not be negative")
	}
	if d.DiscountType == DiscountPercentage && d.DiscountValue.GreaterThan(hundred) {
		return invalid("percentage discount must not exceed 100")
	}
	if d.ExpirationDate.IsZero() {
		return invalid("expiration date is required")
	}
	if d.UsageLimit != nil {
		if *d.UsageLimit < 0 {
			return invalid("usage limit must not be negative")
		}
		if *d.UsageLimit < usedCount {
			return invalid("usage limit %d is below current usage %d", *d.UsageLimit, usedCount)
		}
	}
	if d.ApplicableType != ApplicableAll && len(d.ApplicableIDs) == 0 {
		return invalid("applicable ids are required for %s coupons", d.ApplicableType)
	}
	return nil
}
