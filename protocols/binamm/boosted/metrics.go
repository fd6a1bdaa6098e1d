package boosted

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	opMint    = "mint"
	opBurn    = "burn"
	opSkim    = "skim"
	opMigrate = "migrate"
	opCreate  = "create"
)

// Metrics holds the collectors shared by every position a factory creates.
type Metrics struct {
	operations *prometheus.CounterVec
	errors     *prometheus.CounterVec
}

// NewMetrics creates the boosted position collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "binamm",
			Subsystem: "boosted",
			Name:      "operations_total",
			Help:      "Boosted position operations, by operation and position variant.",
		}, []string{"op", "variant"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "binamm",
			Subsystem: "boosted",
			Name:      "errors_total",
			Help:      "Boosted position operations that failed, by operation.",
		}, []string{"op"}),
	}
	reg.MustRegister(m.operations, m.errors)
	return m
}

func (m *Metrics) observe(op, variant string) func(err *error) {
	return func(err *error) {
		m.operations.WithLabelValues(op, variant).Inc()
		if *err != nil {
			m.errors.WithLabelValues(op).Inc()
		}
	}
}
