package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outboxPublished    = "published"
	outboxRetried      = "retried"
	outboxDeadLettered = "dead_lettered"
)

// OutboxMetrics tracks the relay that moves outbox rows to Pub/Sub.
type OutboxMetrics struct {
	events      *prometheus.CounterVec
	deadLetters *prometheus.CounterVec
	lag         prometheus.Histogram
	batches     *prometheus.HistogramVec
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmacy_outbox_events_total",
			Help: "Outbox rows settled by the relay, by outcome.",
		}, []string{"outcome"}),
		deadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmacy_outbox_dead_letters_total",
			Help: "Outbox rows moved to the DLQ, by reason.",
		}, []string{"reason"}),
		lag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pharmacy_outbox_publish_lag_seconds",
			Help:    "Time between an event being written and published.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		}),
		batches: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pharmacy_outbox_batch_duration_seconds",
			Help:    "Relay batch duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.events, m.deadLetters, m.lag, m.batches)
	return m
}

func (m *OutboxMetrics) Published(lag time.Duration) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(outboxPublished).Inc()
	if lag > 0 {
		m.lag.Observe(lag.Seconds())
	}
}

func (m *OutboxMetrics) Retried() {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(outboxRetried).Inc()
}

func (m *OutboxMetrics) DeadLettered(reason string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(outboxDeadLettered).Inc()
	m.deadLetters.WithLabelValues(normalizeLabel(reason)).Inc()
}

// ObserveBatch records one relay pass. Empty passes are not recorded.
func (m *OutboxMetrics) ObserveBatch(claimed int, elapsed time.Duration, err error) {
	if m == nil || m.batches == nil {
		return
	}
	switch {
	case err != nil:
		m.batches.WithLabelValues(outcomeError).Observe(elapsed.Seconds())
	case claimed > 0:
		m.batches.WithLabelValues(outcomeOK).Observe(elapsed.Seconds())
	}
}
