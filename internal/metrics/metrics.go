// Package metrics exposes checkout and outbox counters in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/outbox"
)

const namespace = "storefront"

var (
	_ checkout.Recorder = (*Checkout)(nil)
	_ outbox.Observer   = (*Checkout)(nil)
)

// Checkout records checkout, ledger and relay activity.
type Checkout struct {
	registry *prometheus.Registry

	checkouts    *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	reservations *prometheus.CounterVec
	releases     *prometheus.CounterVec
	relayed      prometheus.Counter
	relayErrors  prometheus.Counter
}

// New creates the collectors on a private registry, along with the Go
// runtime and process collectors.
func New() *Checkout {
	reg := prometheus.NewRegistry()
	m := &Checkout{
		registry: reg,
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "total",
			Help:      "Checkout attempts by outcome.",
		}, []string{"outcome", "coupon"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "duration_seconds",
			Help:      "Checkout latency.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"outcome"}),
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coupon",
			Name:      "reservations_total",
			Help:      "Coupon redemption reservations by result.",
		}, []string{"result"}),
		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coupon",
			Name:      "releases_total",
			Help:      "Compensating coupon releases by result.",
		}, []string{"result"}),
		relayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "relayed_total",
			Help:      "Outbox events delivered to the broker.",
		}),
		relayErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "relay_errors_total",
			Help:      "Failed outbox relay flushes.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.checkouts, m.latency, m.reservations, m.releases, m.relayed, m.relayErrors,
	)
	return m
}

// Registry returns the underlying registry, for registering extra collectors.
func (m *Checkout) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Checkout) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// CheckoutFinished implements checkout.Recorder.
func (m *Checkout) CheckoutFinished(outcome string, withCoupon bool, elapsed time.Duration) {
	m.checkouts.WithLabelValues(outcome, strconv.FormatBool(withCoupon)).Inc()
	m.latency.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ReservationFinished implements checkout.Recorder.
func (m *Checkout) ReservationFinished(outcome string) {
	m.reservations.WithLabelValues(outcome).Inc()
}

// ReleaseFinished implements checkout.Recorder.
func (m *Checkout) ReleaseFinished(err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.releases.WithLabelValues(result).Inc()
}

// Relayed implements outbox.Observer.
func (m *Checkout) Relayed(n int) {
	m.relayed.Add(float64(n))
}

// RelayFailed implements outbox.Observer.
func (m *Checkout) RelayFailed() {
	m.relayErrors.Inc()
}
