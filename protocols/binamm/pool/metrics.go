package pool

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	opAddLiquidity      = "add_liquidity"
	opRemoveLiquidity   = "remove_liquidity"
	opMigrateBinUpStack = "migrate_bin_up_stack"
	opMergeBins         = "merge_bins"
)

// Metrics holds the pool's prometheus collectors.
type Metrics struct {
	operations *prometheus.CounterVec
	errors     *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics creates the pool collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "binamm",
			Subsystem: "pool",
			Name:      "operations_total",
			Help:      "Pool state-changing operations, by operation.",
		}, []string{"op"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "binamm",
			Subsystem: "pool",
			Name:      "errors_total",
			Help:      "Pool operations that failed and left no change, by operation.",
		}, []string{"op"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "binamm",
			Subsystem: "pool",
			Name:      "operation_duration_seconds",
			Help:      "Time spent in pool operations.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}, []string{"op"}),
	}
	reg.MustRegister(m.operations, m.errors, m.duration)
	return m
}

// observe starts timing op; the returned func records the outcome held in *err.
func (m *Metrics) observe(op string) func(err *error) {
	timer := prometheus.NewTimer(m.duration.WithLabelValues(op))
	return func(err *error) {
		timer.ObserveDuration()
		m.operations.WithLabelValues(op).Inc()
		if *err != nil {
			m.errors.WithLabelValues(op).Inc()
		}
	}
}
