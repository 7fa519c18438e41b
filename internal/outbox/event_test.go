package outbox

import (
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-checkout/internal/domain/order"
)

func decodeFields(t *testing.T, payload []byte) map[string]string {
	t.Helper()
	fields := map[string]string{}
	err := jx.DecodeBytes(payload).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if d.Next() != jx.String {
			return d.Skip()
		}
		v, err := d.Str()
		fields[string(key)] = v
		return err
	})
	require.NoError(t, err)
	return fields
}

func TestOrderCreated(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	o := &order.Order{
		ID:     "ord-1",
		UserID: "u-1",
		Items: []order.OrderItem{
			{ProductID: "p-1", Name: "Waffle", Price: decimal.RequireFromString("6.50"), Quantity: 2},
		},
		TotalAmount:    decimal.RequireFromString("11.70"),
		DiscountAmount: decimal.RequireFromString("1.30"),
		CouponCode:     "SAVE10",
		Status:         order.StatusPending,
		PaymentStatus:  order.PaymentPending,
		CreatedAt:      at,
	}

	e := OrderCreated(o)
	assert.Equal(t, TypeOrderCreated, e.Type)
	assert.Equal(t, AggregateOrder, e.AggregateType)
	assert.Equal(t, "ord-1", e.AggregateID)
	assert.NotEmpty(t, e.ID)

	fields := decodeFields(t, e.Payload)
	assert.Equal(t, "11.70", fields["totalAmount"])
	assert.Equal(t, "1.30", fields["discountAmount"])
	assert.Equal(t, "SAVE10", fields["couponCode"])
	assert.Equal(t, "pending", fields["paymentStatus"])
}

func TestOrderCreatedOmitsEmptyCoupon(t *testing.T) {
	e := OrderCreated(&order.Order{ID: "ord-2", Status: order.StatusPending})
	_, ok := decodeFields(t, e.Payload)["couponCode"]
	assert.False(t, ok)
}
