// Package handler exposes the storefront API over net/http.
package handler

import (
	"context"
	"net/http"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/product"
	"github.com/xenking/storefront-checkout/internal/idempotency"
)

// Checkouter places and prices orders.
type Checkouter interface {
	Checkout(ctx context.Context, req checkout.Request) (*order.Order, error)
	Quote(ctx context.Context, lines []checkout.Line, code string) (*checkout.Snapshot, *coupon.Evaluation, error)
}

// OrderService reads and advances placed orders.
type OrderService interface {
	Get(ctx context.Context, caller auth.Identity, id string) (*order.Order, error)
	List(ctx context.Context, caller auth.Identity, userID string) ([]order.Order, error)
	UpdateStatus(ctx context.Context, caller auth.Identity, id string, next order.Status) (*order.Order, error)
	ApplyPayment(ctx context.Context, id string, result order.PaymentStatus) (*order.Order, error)
}

// CouponService administers coupons.
type CouponService interface {
	Create(ctx context.Context, d coupon.Draft) (*coupon.Coupon, error)
	Get(ctx context.Context, code string) (*coupon.Coupon, error)
	List(ctx context.Context) ([]coupon.Coupon, error)
	Update(ctx context.Context, code string, d coupon.Draft) (*coupon.Coupon, error)
	Deactivate(ctx context.Context, code string) error
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// ImageBaseURL is prepended to image paths in responses. Empty leaves
	// paths as stored.
	ImageBaseURL string
	// APIKeyPepper keys the HMAC used to hash gateway API keys.
	APIKeyPepper []byte
}

// Deps are the collaborators of the Handler. Idempotency may be nil, which
// disables Idempotency-Key support.
type Deps struct {
	Products    product.Repository
	Checkout    Checkouter
	Orders      OrderService
	Coupons     CouponService
	Verifier    auth.Verifier
	APIKeys     auth.APIKeyRepository
	Idempotency idempotency.Store
}

// Handler serves the /api routes.
type Handler struct {
	Deps
	imageBaseURL string
	pepper       []byte
}

// New creates a Handler.
func New(cfg Config, deps Deps) *Handler {
	return &Handler{
		Deps:         deps,
		imageBaseURL: cfg.ImageBaseURL,
		pepper:       cfg.APIKeyPepper,
	}
}

// Register mounts every API route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/products", h.listProducts)
	mux.HandleFunc("GET /api/products/{id}", h.getProduct)

	mux.HandleFunc("POST /api/checkout", h.authed(h.checkout))
	mux.HandleFunc("POST /api/coupons/preview", h.authed(h.previewCoupon))

	mux.HandleFunc("GET /api/orders", h.authed(h.listOrders))
	mux.HandleFunc("GET /api/orders/{id}", h.authed(h.getOrder))
	mux.HandleFunc("PATCH /api/orders/{id}/status", h.authed(h.updateOrderStatus))
	mux.HandleFunc("POST /api/payments/webhook", h.gateway(auth.ScopePaymentWebhook, h.paymentWebhook))

	mux.HandleFunc("POST /api/coupons", h.admin(auth.PermManageProducts, h.createCoupon))
	mux.HandleFunc("GET /api/coupons", h.admin(auth.PermManageProducts, h.listCoupons))
	mux.HandleFunc("GET /api/coupons/{code}", h.admin(auth.PermManageProducts, h.getCoupon))
	mux.HandleFunc("PUT /api/coupons/{code}", h.admin(auth.PermManageProducts, h.updateCoupon))
	mux.HandleFunc("DELETE /api/coupons/{code}", h.admin(auth.PermManageProducts, h.deleteCoupon))
}
