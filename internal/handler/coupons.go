package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
	"github.com/xenking/storefront-checkout/internal/domain/coupon"
)

// couponAdminError turns a missing coupon into 404; at checkout the same
// sentinel is a 422 rejection of the submitted code.
func couponAdminError(err error) error {
	if errors.Is(err, coupon.ErrCouponNotFound) {
		return notFound("coupon")
	}
	return err
}

func (h *Handler) createCoupon(w http.ResponseWriter, r *http.Request, _ *auth.Identity) {
	data, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	draft, err := decodeCouponDraft(data)
	if err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.Coupons.Create(r.Context(), draft)
	if err != nil {
		writeError(w, r, err)
		return
	}

	zctx.From(r.Context()).Info("Coupon created", zap.String("code", c.Code))
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeCoupon(e, c) })
}

func (h *Handler) listCoupons(w http.ResponseWriter, r *http.Request, _ *auth.Identity) {
	coupons, err := h.Coupons.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for i := range coupons {
				encodeCoupon(e, &coupons[i])
			}
		})
	})
}

func (h *Handler) getCoupon(w http.ResponseWriter, r *http.Request, _ *auth.Identity) {
	c, err := h.Coupons.Get(r.Context(), r.PathValue("code"))
	if err != nil {
		writeError(w, r, couponAdminError(err))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCoupon(e, c) })
}

func (h *Handler) updateCoupon(w http.ResponseWriter, r *http.Request, _ *auth.Identity) {
	data, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	draft, err := decodeCouponDraft(data)
	if err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.Coupons.Update(r.Context(), r.PathValue("code"), draft)
	if err != nil {
		writeError(w, r, couponAdminError(err))
		return
	}

	zctx.From(r.Context()).Info("Coupon updated", zap.String("code", c.Code))
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCoupon(e, c) })
}

func (h *Handler) deleteCoupon(w http.ResponseWriter, r *http.Request, _ *auth.Identity) {
	code := r.PathValue("code")
	if err := h.Coupons.Deactivate(r.Context(), code); err != nil {
		writeError(w, r, couponAdminError(err))
		return
	}

	zctx.From(r.Context()).Info("Coupon deactivated", zap.String("code", code))
	w.WriteHeader(http.StatusNoContent)
}
