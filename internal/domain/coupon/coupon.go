package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage off the eligible subtotal.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a fixed amount off, capped at the eligible subtotal.
	DiscountFixed DiscountType = "fixed"
)

// ParseDiscountType converts s into a DiscountType, rejecting unknown values.
func ParseDiscountType(s string) (DiscountType, error) {
	switch t := DiscountType(s); t {
	case DiscountPercentage, DiscountFixed:
		return t, nil
	default:
		return "", errors.Errorf("unknown discount type %q", s)
	}
}

// ApplicableType scopes a coupon to the whole cart, to products or to collections.
type ApplicableType string

const (
	ApplicableAll        ApplicableType = "all"
	ApplicableProduct    ApplicableType = "product"
	ApplicableCollection ApplicableType = "collection"
)

// ParseApplicableType converts s into an ApplicableType, rejecting unknown values.
func ParseApplicableType(s string) (ApplicableType, error) {
	switch t := ApplicableType(s); t {
	case ApplicableAll, ApplicableProduct, ApplicableCollection:
		return t, nil
	default:
		return "", errors.Errorf("unknown applicable type %q", s)
	}
}

// Checkout-facing failures. Each one aborts the checkout that presented the code.
var (
	ErrCouponNotFound      = errors.New("coupon not found")
	ErrCouponInactive      = errors.New("coupon inactive")
	ErrCouponExpired       = errors.New("coupon expired")
	ErrCouponExhausted     = errors.New("coupon usage limit reached")
	ErrCouponNotApplicable = errors.New("coupon not applicable to cart")

	// ErrConcurrencyConflict is the ledger's internal signal that a conditional
	// increment matched no row. Callers see it wrapped in ErrCouponExhausted.
	ErrConcurrencyConflict = errors.New("coupon reservation conflict")
)

var (
	// ErrInvalidCoupon is returned for administrative writes that violate
	// coupon field constraints.
	ErrInvalidCoupon = errors.New("invalid coupon")
	// ErrCodeTaken is returned when creating a coupon whose code already exists.
	ErrCodeTaken = errors.New("coupon code already exists")
)

// Coupon is a redeemable discount code.
type Coupon struct {
	ID             string
	Code           string
	DiscountType   DiscountType
	DiscountValue  decimal.Decimal
	ExpirationDate time.Time
	IsActive       bool
	// UsageLimit is nil for unlimited coupons.
	UsageLimit     *int
	UsedCount      int
	ApplicableType ApplicableType
	ApplicableIDs  []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Remaining returns how many redemptions are left, or -1 when unlimited.
func (c *Coupon) Remaining() int {
	if c.UsageLimit == nil {
		return -1
	}
	return max(*c.UsageLimit-c.UsedCount, 0)
}

// Item is a resolved cart line as seen by discount evaluation.
type Item struct {
	ProductID string
	Price     decimal.Decimal
	Quantity  int
	Category  string
	Section   string
}

// LineTotal returns Price * Quantity.
func (i Item) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Repository provides coupon persistence. It never changes UsedCount; that is
// the Ledger's job.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	FindByID(ctx context.Context, id string) (*Coupon, error)
	List(ctx context.Context) ([]Coupon, error)
	Create(ctx context.Context, c *Coupon) error
	Update(ctx context.Context, c *Coupon) error
}

// Ledger is the single writer of a coupon's usage counter.
type Ledger interface {
	// Reserve claims one redemption. It returns ErrCouponExhausted when the
	// usage limit is already reached.
	Reserve(ctx context.Context, couponID string) error
	// Release returns a previously reserved redemption.
	Release(ctx context.Context, couponID string) error
}
