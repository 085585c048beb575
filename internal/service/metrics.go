package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the counters and histograms exposed on /metrics.
type Metrics struct {
	relayRequests *prometheus.CounterVec
	relayDuration *prometheus.HistogramVec
	purchases     *prometheus.CounterVec
	orderStatus   *prometheus.CounterVec
	sweptOrders   prometheus.Counter
	sweepRuns     prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		relayRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "otpbay_relay_requests_total",
			Help: "Requests relayed to upstream providers",
		}, []string{"provider", "method", "outcome"}),
		relayDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "otpbay_relay_duration_seconds",
			Help:    "Upstream provider response time",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		purchases: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "otpbay_purchases_total",
			Help: "Number purchase attempts by outcome",
		}, []string{"outcome"}),
		orderStatus: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "otpbay_order_status_transitions_total",
			Help: "Order status transitions by target status",
		}, []string{"status"}),
		sweptOrders: promauto.NewCounter(prometheus.CounterOpts{
			Name: "otpbay_swept_orders_total",
			Help: "Orders expired by the sweep",
		}),
		sweepRuns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "otpbay_sweep_runs_total",
			Help: "Executions of the expiry sweep",
		}),
	}
}

func (m *Metrics) RecordRelayRequest(provider, method string, ok bool) {
	outcome := "success"
	if !ok {
		outcome = "error"
	}
	m.relayRequests.WithLabelValues(provider, method, outcome).Inc()
}

func (m *Metrics) ObserveRelayDuration(provider string, d time.Duration) {
	m.relayDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) RecordPurchase(outcome string) {
	if m == nil {
		return
	}
	m.purchases.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordStatusTransition(status string) {
	if m == nil {
		return
	}
	m.orderStatus.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordSweep(expired int64) {
	if m == nil {
		return
	}
	m.sweepRuns.Inc()
	m.sweptOrders.Add(float64(expired))
}
