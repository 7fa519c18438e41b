package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

type mockCouponRepo struct {
	byCode    map[string]*Coupon
	err       error
	lookups   []string
	created   *Coupon
	updated   *Coupon
	createErr error
	updateErr error
}

func newCouponRepo(coupons ...*Coupon) *mockCouponRepo {
	m := &mockCouponRepo{byCode: make(map[string]*Coupon, len(coupons))}
	for _, c := range coupons {
		m.byCode[c.Code] = c
	}
	return m
}

func (m *mockCouponRepo) FindByCode(_ context.Context, code string) (*Coupon, error) {
	m.lookups = append(m.lookups, code)
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.byCode[code]
	if !ok {
		return nil, ErrCouponNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockCouponRepo) FindByID(_ context.Context, id string) (*Coupon, error) {
	for _, c := range m.byCode {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, ErrCouponNotFound
}

func (m *mockCouponRepo) List(_ context.Context) ([]Coupon, error) {
	out := make([]Coupon, 0, len(m.byCode))
	for _, c := range m.byCode {
		out = append(out, *c)
	}
	return out, nil
}

func (m *mockCouponRepo) Create(_ context.Context, c *Coupon) error {
	m.created = c
	return m.createErr
}

func (m *mockCouponRepo) Update(_ context.Context, c *Coupon) error {
	m.updated = c
	return m.updateErr
}

// --- Helpers ---

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func activeCoupon(code string, typ DiscountType, value string) *Coupon {
	return &Coupon{
		ID:             "c-" + code,
		Code:           code,
		DiscountType:   typ,
		DiscountValue:  decimal.RequireFromString(value),
		ExpirationDate: fixedNow.Add(24 * time.Hour),
		IsActive:       true,
		ApplicableType: ApplicableAll,
	}
}

func item(id string, price string, qty int) Item {
	return Item{ProductID: id, Price: decimal.RequireFromString(price), Quantity: qty, Category: "shoes"}
}

func newTestEvaluator(repo Repository) *Evaluator {
	e := NewEvaluator(repo)
	e.now = func() time.Time { return fixedNow }
	return e
}

// --- Tests ---

func TestEvaluator_Evaluate(t *testing.T) {
	expired := activeCoupon("OLD", DiscountPercentage, "10")
	expired.ExpirationDate = fixedNow.Add(-time.Minute)

	inactive := activeCoupon("OFF", DiscountPercentage, "10")
	inactive.IsActive = false

	exhausted := activeCoupon("GONE", DiscountFixed, "5")
	exhausted.UsageLimit = intPtr(3)
	exhausted.UsedCount = 3

	hasRoom := activeCoupon("ROOM", DiscountFixed, "5")
	hasRoom.UsageLimit = intPtr(3)
	hasRoom.UsedCount = 2

	productScoped := activeCoupon("ONLYA", DiscountPercentage, "50")
	productScoped.ApplicableType = ApplicableProduct
	productScoped.ApplicableIDs = []string{"A"}

	collectionScoped := activeCoupon("SUMMER", DiscountPercentage, "10")
	collectionScoped.ApplicableType = ApplicableCollection
	collectionScoped.ApplicableIDs = []string{"summer-sale"}

	// Inactive and expired at once: the inactive check wins.
	inactiveAndExpired := activeCoupon("BOTH", DiscountFixed, "1")
	inactiveAndExpired.IsActive = false
	inactiveAndExpired.ExpirationDate = fixedNow.Add(-time.Hour)

	repo := newCouponRepo(
		activeCoupon("TEN", DiscountPercentage, "10"),
		activeCoupon("TWENTY", DiscountFixed, "20"),
		activeCoupon("ALL", DiscountPercentage, "100"),
		expired, inactive, exhausted, hasRoom, productScoped, collectionScoped, inactiveAndExpired,
	)

	tests := []struct {
		name         string
		code         string
		items        []Item
		wantDiscount string
		wantEligible string
		wantErr      error
	}{
		{
			name:         "percentage of 200 is 20",
			code:         "TEN",
			items:        []Item{item("A", "100", 2)},
			wantDiscount: "20",
			wantEligible: "200",
		},
		{
			name:         "fixed larger than subtotal is clamped",
			code:         "TWENTY",
			items:        []Item{item("A", "15", 1)},
			wantDiscount: "15",
			wantEligible: "15",
		},
		{
			name:         "hundred percent equals subtotal",
			code:         "ALL",
			items:        []Item{item("A", "19.99", 3)},
			wantDiscount: "59.97",
			wantEligible: "59.97",
		},
		{
			name:    "unknown code",
			code:    "NOPE",
			items:   []Item{item("A", "10", 1)},
			wantErr: ErrCouponNotFound,
		},
		{
			name:    "inactive",
			code:    "OFF",
			items:   []Item{item("A", "10", 1)},
			wantErr: ErrCouponInactive,
		},
		{
			name:    "inactive is reported before expired",
			code:    "BOTH",
			items:   []Item{item("A", "10", 1)},
			wantErr: ErrCouponInactive,
		},
		{
			name:    "expired",
			code:    "OLD",
			items:   []Item{item("A", "10", 1)},
			wantErr: ErrCouponExpired,
		},
		{
			name:    "usage limit reached",
			code:    "GONE",
			items:   []Item{item("A", "10", 1)},
			wantErr: ErrCouponExhausted,
		},
		{
			name:         "usage under limit",
			code:         "ROOM",
			items:        []Item{item("A", "10", 1)},
			wantDiscount: "5",
			wantEligible: "10",
		},
		{
			name:    "product scope without matching item",
			code:    "ONLYA",
			items:   []Item{item("B", "40", 1)},
			wantErr: ErrCouponNotApplicable,
		},
		{
			name:         "product scope discounts only eligible items",
			code:         "ONLYA",
			items:        []Item{item("A", "30", 1), item("B", "40", 1)},
			wantDiscount: "15",
			wantEligible: "30",
		},
		{
			name: "collection scope matches section",
			code: "SUMMER",
			items: []Item{
				{ProductID: "A", Price: decimal.NewFromInt(50), Quantity: 1, Category: "shoes", Section: "summer-sale"},
				{ProductID: "B", Price: decimal.NewFromInt(70), Quantity: 1, Category: "hats"},
			},
			wantDiscount: "5",
			wantEligible: "50",
		},
		{
			name:    "collection scope without match",
			code:    "SUMMER",
			items:   []Item{item("A", "50", 1)},
			wantErr: ErrCouponNotApplicable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := newTestEvaluator(repo).Evaluate(context.Background(), tt.code, tt.items)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}

			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.wantDiscount).Equal(got.Discount),
				"expected discount %s, got %s", tt.wantDiscount, got.Discount)
			assert.True(t, decimal.RequireFromString(tt.wantEligible).Equal(got.EligibleSubtotal),
				"expected eligible %s, got %s", tt.wantEligible, got.EligibleSubtotal)
			assert.Equal(t, tt.code, got.Code)
		})
	}
}

func TestEvaluator_NormalizesCode(t *testing.T) {
	for _, raw := range []string{" summer10 ", "SUMMER10", "Summer10", "\tsummer10\n"} {
		t.Run(raw, func(t *testing.T) {
			repo := newCouponRepo(activeCoupon("SUMMER10", DiscountPercentage, "10"))

			got, err := newTestEvaluator(repo).Evaluate(context.Background(), raw, []Item{item("A", "100", 1)})

			require.NoError(t, err)
			assert.Equal(t, "c-SUMMER10", got.CouponID)
			assert.Equal(t, []string{"SUMMER10"}, repo.lookups)
		})
	}
}

func TestEvaluator_RepositoryError(t *testing.T) {
	repo := newCouponRepo()
	repo.err = errors.New("connection reset")

	_, err := newTestEvaluator(repo).Evaluate(context.Background(), "X", []Item{item("A", "1", 1)})

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCouponNotFound)
	assert.Contains(t, err.Error(), "lookup coupon")
}
