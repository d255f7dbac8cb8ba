package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics tracks callback reconciliation and gateway round trips.
type PaymentMetrics struct {
	reconcile *prometheus.CounterVec
	gateway   *prometheus.HistogramVec
}

func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	reconcile := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmacy_payment_reconcile_total",
		Help: "Payment callbacks reconciled, by signal and outcome.",
	}, []string{"signal", "outcome"})
	gateway := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pharmacy_gateway_request_duration_seconds",
		Help:    "Latency of payment gateway requests.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
	}, []string{"operation", "result"})
	reg.MustRegister(reconcile, gateway)
	return &PaymentMetrics{reconcile: reconcile, gateway: gateway}
}

// IncReconcile counts one reconciler decision.
func (m *PaymentMetrics) IncReconcile(signal, outcome string) {
	if m == nil || m.reconcile == nil {
		return
	}
	m.reconcile.WithLabelValues(normalizeLabel(signal), normalizeLabel(outcome)).Inc()
}

// ObserveGateway records a gateway call. result is "ok" or "error".
func (m *PaymentMetrics) ObserveGateway(operation, result string, duration time.Duration) {
	if m == nil || m.gateway == nil {
		return
	}
	m.gateway.WithLabelValues(normalizeLabel(operation), normalizeLabel(result)).Observe(duration.Seconds())
}
