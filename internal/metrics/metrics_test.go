package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-checkout/internal/domain/checkout"
)

func TestCheckoutCounters(t *testing.T) {
	m := New()

	m.CheckoutFinished(checkout.OutcomeCommitted, true, 20*time.Millisecond)
	m.CheckoutFinished(checkout.OutcomeCommitted, true, 30*time.Millisecond)
	m.CheckoutFinished(checkout.OutcomeCouponExhausted, true, time.Millisecond)
	m.ReservationFinished(checkout.ReservationExhausted)
	m.ReleaseFinished(nil)
	m.ReleaseFinished(errors.New("db down"))
	m.Relayed(4)
	m.RelayFailed()

	assert.InDelta(t, 2, testutil.ToFloat64(m.checkouts.WithLabelValues(checkout.OutcomeCommitted, "true")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.checkouts.WithLabelValues(checkout.OutcomeCouponExhausted, "true")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.reservations.WithLabelValues(checkout.ReservationExhausted)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.releases.WithLabelValues("failed")), 0)
	assert.InDelta(t, 4, testutil.ToFloat64(m.relayed), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.relayErrors), 0)
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ReservationFinished(checkout.ReservationReserved)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `storefront_coupon_reservations_total{result="reserved"} 1`)
}
