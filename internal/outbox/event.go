// Package outbox relays domain events recorded alongside database writes to
// Kafka.
package outbox

import (
	"time"

	"github.com/go-faster/jx"
	"github.com/google/uuid"

	"github.com/xenking/storefront-checkout/internal/domain/order"
)

// Event types.
const (
	TypeOrderCreated        = "order.created"
	TypeOrderStatusChanged  = "order.status_changed"
	TypeCouponReleaseFailed = "coupon.release_failed"
)

// Aggregate types.
const (
	AggregateOrder  = "order"
	AggregateCoupon = "coupon"
)

// Event is one outbox row.
type Event struct {
	ID            string
	AggregateType string
	AggregateID   string
	Type          string
	Payload       []byte
	CreatedAt     time.Time
}

func newEvent(aggregateType, aggregateID, typ string, payload []byte, at time.Time) Event {
	return Event{
		ID:            uuid.New().String(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Type:          typ,
		Payload:       payload,
		CreatedAt:     at,
	}
}

// OrderCreated builds the event announcing a newly placed order. The payload
// carries the full order document.
func OrderCreated(o *order.Order) Event {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("userId", func(e *jx.Encoder) { e.Str(o.UserID) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("productId", func(e *jx.Encoder) { e.Str(it.ProductID) })
						e.Field("name", func(e *jx.Encoder) { e.Str(it.Name) })
						e.Field("price", func(e *jx.Encoder) { e.Str(it.Price.StringFixed(2)) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						e.Field("image", func(e *jx.Encoder) { e.Str(it.Image) })
					})
				}
			})
		})
		e.Field("shippingAddress", func(e *jx.Encoder) {
			a := o.ShippingAddress
			e.Obj(func(e *jx.Encoder) {
				e.Field("firstName", func(e *jx.Encoder) { e.Str(a.FirstName) })
				e.Field("lastName", func(e *jx.Encoder) { e.Str(a.LastName) })
				e.Field("street", func(e *jx.Encoder) { e.Str(a.Street) })
				e.Field("city", func(e *jx.Encoder) { e.Str(a.City) })
				e.Field("zipCode", func(e *jx.Encoder) { e.Str(a.ZipCode) })
				e.Field("phone", func(e *jx.Encoder) { e.Str(a.Phone) })
			})
		})
		e.Field("totalAmount", func(e *jx.Encoder) { e.Str(o.TotalAmount.StringFixed(2)) })
		e.Field("discountAmount", func(e *jx.Encoder) { e.Str(o.DiscountAmount.StringFixed(2)) })
		if o.CouponCode != "" {
			e.Field("couponCode", func(e *jx.Encoder) { e.Str(o.CouponCode) })
		}
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("paymentStatus", func(e *jx.Encoder) { e.Str(string(o.PaymentStatus)) })
		e.Field("createdAt", func(e *jx.Encoder) { e.Str(o.CreatedAt.UTC().Format(time.RFC3339Nano)) })
	})

	return newEvent(AggregateOrder, o.ID, TypeOrderCreated, copyBytes(e.Bytes()), o.CreatedAt)
}

// OrderStatusChanged builds the event emitted after a status or payment
// status update.
func OrderStatusChanged(orderID string, status order.Status, payment order.PaymentStatus, at time.Time) Event {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(orderID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(status)) })
		e.Field("paymentStatus", func(e *jx.Encoder) { e.Str(string(payment)) })
		e.Field("updatedAt", func(e *jx.Encoder) { e.Str(at.UTC().Format(time.RFC3339Nano)) })
	})

	return newEvent(AggregateOrder, orderID, TypeOrderStatusChanged, copyBytes(e.Bytes()), at)
}

// CouponReleaseFailed builds the event recording a reservation that could not
// be returned, so usedCount can be corrected by an operator.
func CouponReleaseFailed(couponID, code string, cause error, at time.Time) Event {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.Obj(func(e *jx.Encoder) {
		e.Field("couponId", func(e *jx.Encoder) { e.Str(couponID) })
		e.Field("code", func(e *jx.Encoder) { e.Str(code) })
		e.Field("error", func(e *jx.Encoder) { e.Str(cause.Error()) })
		e.Field("at", func(e *jx.Encoder) { e.Str(at.UTC().Format(time.RFC3339Nano)) })
	})

	return newEvent(AggregateCoupon, couponID, TypeCouponReleaseFailed, copyBytes(e.Bytes()), at)
}

// copyBytes detaches b from a pooled encoder buffer.
func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
