package coupon

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmount(t *testing.T) {
	tests := []struct {
		name     string
		typ      DiscountType
		value    string
		eligible string
		want     string
	}{
		{name: "percentage", typ: DiscountPercentage, value: "10", eligible: "200", want: "20"},
		{name: "percentage rounds to cents", typ: DiscountPercentage, value: "15", eligible: "9.99", want: "1.5"},
		{name: "percentage of zero", typ: DiscountPercentage, value: "50", eligible: "0", want: "0"},
		{name: "fixed below subtotal", typ: DiscountFixed, value: "5", eligible: "12.50", want: "5"},
		{name: "fixed clamped", typ: DiscountFixed, value: "20", eligible: "15", want: "15"},
		{name: "zero value", typ: DiscountFixed, value: "0", eligible: "15", want: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Coupon{DiscountType: tt.typ, DiscountValue: decimal.RequireFromString(tt.value)}
			eligible := decimal.RequireFromString(tt.eligible)

			got, err := Amount(c, eligible)

			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "expected %s, got %s", tt.want, got)
			assert.True(t, got.LessThanOrEqual(eligible))
		})
	}
}

func TestAmount_UnknownType(t *testing.T) {
	_, err := Amount(&Coupon{DiscountType: "free_lowest"}, decimal.NewFromInt(10))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported discount type")
}

func TestEligible(t *testing.T) {
	items := []Item{
		{ProductID: "A", Category: "shoes"},
		{ProductID: "B", Category: "hats", Section: "new"},
		{ProductID: "C", Category: "socks"},
	}

	all := &Coupon{ApplicableType: ApplicableAll}
	assert.Len(t, Eligible(all, items), 3)

	byProduct := &Coupon{ApplicableType: ApplicableProduct, ApplicableIDs: []string{"C", "Z"}}
	got := Eligible(byProduct, items)
	require.Len(t, got, 1)
	assert.Equal(t, "C", got[0].ProductID)

	byCollection := &Coupon{ApplicableType: ApplicableCollection, ApplicableIDs: []string{"shoes", "new"}}
	got = Eligible(byCollection, items)
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].ProductID)
	assert.Equal(t, "B", got[1].ProductID)

	// A blank id never matches products without a category or section.
	withBlank := &Coupon{ApplicableType: ApplicableCollection, ApplicableIDs: []string{"", "socks"}}
	got = Eligible(withBlank, append(items, Item{ProductID: "D"}))
	require.Len(t, got, 1)
	assert.Equal(t, "C", got[0].ProductID)
}

func TestParseVariants(t *testing.T) {
	dt, err := ParseDiscountType("fixed")
	require.NoError(t, err)
	assert.Equal(t, DiscountFixed, dt)

	_, err = ParseDiscountType("FIXED")
	require.Error(t, err)

	at, err := ParseApplicableType("collection")
	require.NoError(t, err)
	assert.Equal(t, ApplicableCollection, at)

	_, err = ParseApplicableType("category")
	require.Error(t, err)
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "SUMMER10", NormalizeCode("  summer10 "))
	assert.Equal(t, "", NormalizeCode("   "))
}

func TestCoupon_Remaining(t *testing.T) {
	assert.Equal(t, -1, (&Coupon{UsedCount: 7}).Remaining())
	assert.Equal(t, 3, (&Coupon{UsageLimit: intPtr(10), UsedCount: 7}).Remaining())
	assert.Equal(t, 0, (&Coupon{UsageLimit: intPtr(1), UsedCount: 1}).Remaining())
}
