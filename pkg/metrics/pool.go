package metrics

import "github.com/prometheus/client_golang/prometheus"

// PoolMetrics exposes worker pool occupancy.
type PoolMetrics struct {
	inFlight prometheus.Gauge
	waiting  prometheus.Gauge
	waits    prometheus.Counter
}

func NewPoolMetrics(reg prometheus.Registerer, pool string) *PoolMetrics {
	if reg == nil {
		return &PoolMetrics{}
	}
	labels := prometheus.Labels{"pool": normalizeLabel(pool)}
	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "pharmacy_worker_pool_in_flight",
		Help:        "Tasks currently holding a worker slot.",
		ConstLabels: labels,
	})
	waiting := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "pharmacy_worker_pool_waiting",
		Help:        "Tasks blocked waiting for a worker slot.",
		ConstLabels: labels,
	})
	waits := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "pharmacy_worker_pool_waits_total",
		Help:        "Tasks that had to wait because the pool was saturated.",
		ConstLabels: labels,
	})
	reg.MustRegister(inFlight, waiting, waits)
	return &PoolMetrics{inFlight: inFlight, waiting: waiting, waits: waits}
}

func (m *PoolMetrics) Acquired() {
	if m == nil || m.inFlight == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *PoolMetrics) Released() {
	if m == nil || m.inFlight == nil {
		return
	}
	m.inFlight.Dec()
}

// WaitStarted marks a task that found the pool full.
func (m *PoolMetrics) WaitStarted() {
	if m == nil || m.waiting == nil {
		return
	}
	m.waits.Inc()
	m.waiting.Inc()
}

func (m *PoolMetrics) WaitFinished() {
	if m == nil || m.waiting == nil {
		return
	}
	m.waiting.Dec()
}
