package inventory

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for inventory operations. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	operations *prometheus.CounterVec
	conflicts  *prometheus.CounterVec
	units      *prometheus.CounterVec
}

// NewMetrics registers the inventory collectors against registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_inventory_operations_total",
		Help: "Inventory operations partitioned by operation and outcome.",
	}, []string{"op", "outcome"})
	conflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_inventory_tx_conflicts_total",
		Help: "Concurrency conflicts raised by the store per operation.",
	}, []string{"op"})
	units := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_inventory_units_total",
		Help: "Units moved per movement type or reservation transition.",
	}, []string{"kind"})
	registerer.MustRegister(operations, conflicts, units)
	return &Metrics{operations: operations, conflicts: conflicts, units: units}
}

func (m *Metrics) observe(op string, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, outcome(err)).Inc()
}

func (m *Metrics) conflict(op string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(op).Inc()
}

func (m *Metrics) addUnits(kind string, qty int64) {
	if m == nil || qty == 0 {
		return
	}
	if qty < 0 {
		qty = -qty
	}
	m.units.WithLabelValues(kind).Add(float64(qty))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrTransactionFailed):
		return "error"
	case IsDomainError(err):
		return "rejected"
	default:
		return "error"
	}
}
