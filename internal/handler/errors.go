package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/product"
	"github.com/xenking/storefront-checkout/internal/idempotency"
)

// apiError is an error with a fixed HTTP rendering.
type apiError struct {
	status  int
	code    string
	message string
}

func (e *apiError) Error() string { return e.message }

func badRequest(msg string) error {
	return &apiError{status: http.StatusBadRequest, code: "invalid_request", message: msg}
}

func notFound(what string) error {
	return &apiError{status: http.StatusNotFound, code: "not_found", message: what + " not found"}
}

// classify maps an error to its HTTP status, error code and client message.
func classify(err error) (status int, code, msg string) {
	var (
		apiErr        *apiError
		qtyErr        *checkout.InvalidQuantityError
		unavailErr    *checkout.ItemUnavailableError
		persistErr    *order.PersistenceError
		transitionErr *order.TransitionError
	)

	switch {
	case errors.As(err, &apiErr):
		return apiErr.status, apiErr.code, apiErr.message
	case errors.Is(err, checkout.ErrEmptyCart):
		return http.StatusBadRequest, "invalid_request", checkout.ErrEmptyCart.Error()
	case errors.As(err, &qtyErr):
		return http.StatusBadRequest, "invalid_request", qtyErr.Error()
	case errors.As(err, &unavailErr):
		return http.StatusUnprocessableEntity, "item_unavailable", unavailErr.Error()

	// Exhausted is checked first: a lost reservation race wraps both.
	case errors.Is(err, coupon.ErrCouponExhausted), errors.Is(err, coupon.ErrConcurrencyConflict):
		return http.StatusConflict, "coupon_exhausted", coupon.ErrCouponExhausted.Error()
	case errors.Is(err, coupon.ErrCouponNotFound):
		return http.StatusUnprocessableEntity, "coupon_not_found", coupon.ErrCouponNotFound.Error()
	case errors.Is(err, coupon.ErrCouponInactive):
		return http.StatusUnprocessableEntity, "coupon_inactive", coupon.ErrCouponInactive.Error()
	case errors.Is(err, coupon.ErrCouponExpired):
		return http.StatusUnprocessableEntity, "coupon_expired", coupon.ErrCouponExpired.Error()
	case errors.Is(err, coupon.ErrCouponNotApplicable):
		return http.StatusUnprocessableEntity, "coupon_not_applicable", coupon.ErrCouponNotApplicable.Error()
	case errors.Is(err, coupon.ErrInvalidCoupon):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, coupon.ErrCodeTaken):
		return http.StatusConflict, "code_taken", coupon.ErrCodeTaken.Error()

	case errors.As(err, &persistErr):
		return http.StatusServiceUnavailable, "persistence_error", "order could not be saved, please retry"
	case errors.As(err, &transitionErr):
		return http.StatusConflict, "invalid_transition", transitionErr.Error()
	case errors.Is(err, order.ErrStaleStatus):
		return http.StatusConflict, "stale_status", order.ErrStaleStatus.Error()
	case errors.Is(err, idempotency.ErrInProgress):
		return http.StatusConflict, "checkout_in_progress", idempotency.ErrInProgress.Error()

	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated", "authentication required"
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden, "forbidden", "permission denied"
	case errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound, "not_found", order.ErrNotFound.Error()
	case errors.Is(err, product.ErrNotFound):
		return http.StatusNotFound, "not_found", product.ErrNotFound.Error()
	default:
		return http.StatusInternalServerError, "internal", "internal server error"
	}
}

// writeError renders err as the API error envelope. Server-side failures are
// logged; client errors are not.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := classify(err)

	switch {
	case status >= http.StatusInternalServerError:
		zctx.From(r.Context()).Error("Request failed",
			zap.String("error_code", code),
			zap.Error(err),
		)
	default:
		zctx.From(r.Context()).Debug("Request rejected",
			zap.String("error_code", code),
			zap.Error(err),
		)
	}

	switch status {
	case http.StatusUnauthorized:
		w.Header().Set("WWW-Authenticate", `Bearer realm="storefront"`)
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
	}

	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(status) })
			e.Field("error", func(e *jx.Encoder) { e.Str(code) })
			e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encode(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
