package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics mencatat hasil operasi batch ledger.
type LedgerMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	violations prometheus.Counter
}

// NewLedgerMetrics mendaftarkan metrik ledger pada registerer.
func NewLedgerMetrics(registerer prometheus.Registerer) *LedgerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_inventory_operations_total",
		Help: "Jumlah operasi ledger berdasarkan jenis dan hasil.",
	}, []string{"op", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_inventory_operation_duration_seconds",
		Help:    "Durasi operasi ledger, termasuk transaksi.",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"op"})
	violations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_inventory_integrity_violations_total",
		Help: "Produk dengan stok agregat yang tidak sama dengan jumlah batch.",
	})
	registerer.MustRegister(operations, duration, violations)
	return &LedgerMetrics{operations: operations, duration: duration, violations: violations}
}

// ObserveOperation mencatat satu operasi ledger.
func (l *LedgerMetrics) ObserveOperation(op, outcome string, elapsed time.Duration) {
	if l == nil {
		return
	}
	l.operations.WithLabelValues(op, outcome).Inc()
	l.duration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// AddIntegrityViolations menambah penghitung divergensi stok.
func (l *LedgerMetrics) AddIntegrityViolations(n int) {
	if l == nil || n <= 0 {
		return
	}
	l.violations.Add(float64(n))
}
