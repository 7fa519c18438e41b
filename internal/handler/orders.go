package handler

import (
	"net/http"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
)

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request, id *auth.Identity) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		userID = id.UserID
	}

	orders, err := h.Orders.List(r.Context(), *id, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for i := range orders {
				h.encodeOrder(e, &orders[i])
			}
		})
	})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request, id *auth.Identity) {
	o, err := h.Orders.Get(r.Context(), *id, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { h.encodeOrder(e, o) })
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request, id *auth.Identity) {
	data, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	next, err := decodeStatus(data)
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.Orders.UpdateStatus(r.Context(), *id, r.PathValue("id"), next)
	if err != nil {
		writeError(w, r, err)
		return
	}

	zctx.From(r.Context()).Info("Order status updated",
		zap.String("order_id", o.ID),
		zap.String("status", string(o.Status)),
	)
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { h.encodeOrder(e, o) })
}

func (h *Handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	body, err := decodeWebhook(data)
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.Orders.ApplyPayment(r.Context(), body.OrderID, body.PaymentStatus)
	if err != nil {
		writeError(w, r, err)
		return
	}

	zctx.From(r.Context()).Info("Payment recorded",
		zap.String("order_id", o.ID),
		zap.String("payment_status", string(o.PaymentStatus)),
		zap.String("status", string(o.Status)),
	)
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { h.encodeOrder(e, o) })
}
