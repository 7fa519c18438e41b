package handler

import (
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/product"
)

func money(e *jx.Encoder, d decimal.Decimal) {
	e.Float64(d.Round(2).InexactFloat64())
}

func timestamp(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}

func (h *Handler) image(path string) string {
	if path == "" {
		return ""
	}
	return h.imageBaseURL + path
}

func (h *Handler) encodeProduct(e *jx.Encoder, p product.Product) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(p.ID) })
		e.Field("title", func(e *jx.Encoder) { e.Str(p.Title) })
		e.Field("price", func(e *jx.Encoder) { money(e, p.Price) })
		e.Field("category", func(e *jx.Encoder) { e.Str(p.Category) })
		e.Field("section", func(e *jx.Encoder) { e.Str(p.Section) })
		e.Field("inStock", func(e *jx.Encoder) { e.Bool(p.InStock) })
		e.Field("image", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("thumbnail", func(e *jx.Encoder) { e.Str(h.image(p.Image.Thumbnail)) })
				e.Field("mobile", func(e *jx.Encoder) { e.Str(h.image(p.Image.Mobile)) })
				e.Field("tablet", func(e *jx.Encoder) { e.Str(h.image(p.Image.Tablet)) })
				e.Field("desktop", func(e *jx.Encoder) { e.Str(h.image(p.Image.Desktop)) })
			})
		})
	})
}

func (h *Handler) encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("userId", func(e *jx.Encoder) { e.Str(o.UserID) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("productId", func(e *jx.Encoder) { e.Str(it.ProductID) })
						e.Field("name", func(e *jx.Encoder) { e.Str(it.Name) })
						e.Field("price", func(e *jx.Encoder) { money(e, it.Price) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						e.Field("image", func(e *jx.Encoder) { e.Str(h.image(it.Image)) })
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
		if o.ContactEmail != "" {
			e.Field("email", func(e *jx.Encoder) { e.Str(o.ContactEmail) })
		}
		e.Field("totalAmount", func(e *jx.Encoder) { money(e, o.TotalAmount) })
		e.Field("discountAmount", func(e *jx.Encoder) { money(e, o.DiscountAmount) })
		if o.CouponCode != "" {
			e.Field("couponCode", func(e *jx.Encoder) { e.Str(o.CouponCode) })
		}
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("paymentStatus", func(e *jx.Encoder) { e.Str(string(o.PaymentStatus)) })
		e.Field("createdAt", func(e *jx.Encoder) { timestamp(e, o.CreatedAt) })
		e.Field("updatedAt", func(e *jx.Encoder) { timestamp(e, o.UpdatedAt) })
	})
}

func encodeCoupon(e *jx.Encoder, c *coupon.Coupon) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(c.ID) })
		e.Field("code", func(e *jx.Encoder) { e.Str(c.Code) })
		e.Field("discountType", func(e *jx.Encoder) { e.Str(string(c.DiscountType)) })
		e.Field("discountValue", func(e *jx.Encoder) { money(e, c.DiscountValue) })
		e.Field("expirationDate", func(e *jx.Encoder) { timestamp(e, c.ExpirationDate) })
		e.Field("isActive", func(e *jx.Encoder) { e.Bool(c.IsActive) })
		e.Field("usageLimit", func(e *jx.Encoder) {
			if c.UsageLimit == nil {
				e.Null()
				return
			}
			e.Int(*c.UsageLimit)
		})
		e.Field("usedCount", func(e *jx.Encoder) { e.Int(c.UsedCount) })
		e.Field("applicableType", func(e *jx.Encoder) { e.Str(string(c.ApplicableType)) })
		e.Field("applicableIds", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, id := range c.ApplicableIDs {
					e.Str(id)
				}
			})
		})
		e.Field("createdAt", func(e *jx.Encoder) { timestamp(e, c.CreatedAt) })
		e.Field("updatedAt", func(e *jx.Encoder) { timestamp(e, c.UpdatedAt) })
	})
}
