package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeFull    = "full"
	OutcomePartial = "partial"
	OutcomeNone    = "none"
	OutcomeError   = "error"
)

// AllocationMetrics records allocation and reoptimization activity.
type AllocationMetrics struct {
	attempts       *prometheus.CounterVec
	warehousesUsed prometheus.Histogram
	reoptimized    *prometheus.CounterVec
}

// NewAllocationMetrics registers the allocation metrics on the provided registerer.
func NewAllocationMetrics(reg prometheus.Registerer) *AllocationMetrics {
	if reg == nil {
		return &AllocationMetrics{}
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "allocation_attempts_total",
		Help: "Allocation attempts grouped by outcome.",
	}, []string{"outcome"})
	warehousesUsed := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "allocation_warehouses_used",
		Help:    "Distinct warehouses that received reservations in one allocation attempt.",
		Buckets: []float64{0, 1, 2, 3, 4, 6, 8, 12},
	})
	reoptimized := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reoptimization_orders_total",
		Help: "Orders visited by reoptimization grouped by result.",
	}, []string{"result"})
	reg.MustRegister(attempts, warehousesUsed, reoptimized)
	return &AllocationMetrics{
		attempts:       attempts,
		warehousesUsed: warehousesUsed,
		reoptimized:    reoptimized,
	}
}

// ObserveAttempt records one allocation call.
func (m *AllocationMetrics) ObserveAttempt(outcome string, warehousesUsed int) {
	if m == nil || m.attempts == nil {
		return
	}
	m.attempts.WithLabelValues(normalizeLabel(outcome)).Inc()
	if outcome != OutcomeError {
		m.warehousesUsed.Observe(float64(warehousesUsed))
	}
}

// IncReoptimized records the result of reoptimizing one order: improved,
// unchanged, skipped or failed.
func (m *AllocationMetrics) IncReoptimized(result string) {
	if m == nil || m.reoptimized == nil {
		return
	}
	m.reoptimized.WithLabelValues(normalizeLabel(result)).Inc()
}
