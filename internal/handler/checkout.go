package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/idempotency"
)

// Idempotency headers.
const (
	HeaderIdempotencyKey     = "Idempotency-Key"
	HeaderIdempotentReplayed = "Idempotent-Replayed"
)

const (
	maxIdempotencyKeyLen = 255
	completeAttempts     = 3
)

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request, id *auth.Identity) {
	data, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	body, err := decodeCheckout(data)
	if err != nil {
		writeError(w, r, err)
		return
	}

	req := checkout.Request{
		UserID:          id.UserID,
		Lines:           body.Lines,
		ShippingAddress: body.Address.shipping(),
		ContactEmail:    strings.TrimSpace(body.Address.Email),
		CouponCode:      body.CouponCode,
	}

	key := r.Header.Get(HeaderIdempotencyKey)
	if key == "" || h.Idempotency == nil {
		h.placeOrder(w, r, req)
		return
	}
	if len(key) > maxIdempotencyKeyLen {
		writeError(w, r, badRequest("Idempotency-Key is too long"))
		return
	}
	h.placeOrderOnce(w, r, id, idempotency.CheckoutKey(id.UserID, key), req)
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request, req checkout.Request) {
	o, err := h.Checkout.Checkout(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { h.encodeOrder(e, o) })
}

// placeOrderOnce runs the checkout at most once per key. A retry after
// success gets the stored order back; a retry after failure runs again.
func (h *Handler) placeOrderOnce(w http.ResponseWriter, r *http.Request, id *auth.Identity, key string, req checkout.Request) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	prev, err := h.Idempotency.Begin(ctx, key)
	if err != nil {
		writeError(w, r, errors.Wrap(err, "begin idempotent checkout"))
		return
	}
	if prev != nil {
		o, err := h.Orders.Get(ctx, *id, string(prev.Body))
		if err != nil {
			writeError(w, r, errors.Wrap(err, "load replayed order"))
			return
		}
		lg.Info("Checkout replayed", zap.String("order_id", o.ID))
		w.Header().Set(HeaderIdempotentReplayed, "true")
		writeJSON(w, http.StatusOK, func(e *jx.Encoder) { h.encodeOrder(e, o) })
		return
	}

	// Frees the key if Checkout panics; Recovery answers the client.
	settled := false
	defer func() {
		if !settled {
			h.finishIdempotent(ctx, key, nil)
		}
	}()

	o, err := h.Checkout.Checkout(ctx, req)
	settled = true
	if err != nil {
		h.finishIdempotent(ctx, key, nil)
		writeError(w, r, err)
		return
	}
	h.finishIdempotent(ctx, key, o)
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { h.encodeOrder(e, o) })
}

// finishIdempotent records the order under key, or frees the key when no
// order was placed. It runs even if the client has gone away.
//
// A placed order whose record cannot be stored keeps the pending claim:
// retries see 409 until the lease runs out instead of placing a second order.
func (h *Handler) finishIdempotent(ctx context.Context, key string, o *order.Order) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	lg := zctx.From(ctx)

	if o == nil {
		if err := h.Idempotency.Abort(ctx, key); err != nil {
			lg.Warn("Idempotency key not released", zap.Error(err))
		}
		return
	}

	resp := idempotency.Response{Status: http.StatusCreated, Body: []byte(o.ID)}
	var err error
	for range completeAttempts {
		if err = h.Idempotency.Complete(ctx, key, resp); err == nil {
			return
		}
	}
	lg.Error("Idempotency record not stored",
		zap.String("order_id", o.ID),
		zap.Error(err),
	)
}

func (h *Handler) previewCoupon(w http.ResponseWriter, r *http.Request, _ *auth.Identity) {
	data, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	body, err := decodePreview(data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(body.CouponCode) == "" {
		writeError(w, r, badRequest("couponCode is required"))
		return
	}

	snap, eval, err := h.Checkout.Quote(r.Context(), body.Lines, body.CouponCode)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Str(eval.Code) })
			e.Field("subtotal", func(e *jx.Encoder) { money(e, snap.Subtotal) })
			e.Field("eligibleSubtotal", func(e *jx.Encoder) { money(e, eval.EligibleSubtotal) })
			e.Field("discount", func(e *jx.Encoder) { money(e, eval.Discount) })
			e.Field("total", func(e *jx.Encoder) { money(e, snap.Subtotal.Sub(eval.Discount)) })
		})
	})
}
