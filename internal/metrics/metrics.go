package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pool and store Prometheus metrics.
var (
	PoolCheckoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recordx",
			Name:      "pool_checkouts_total",
			Help:      "Total number of pool checkouts",
		},
		[]string{"result"}, // "ok" / "timeout" / "canceled" / "error"
	)

	PoolCheckoutWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "recordx",
			Name:      "pool_checkout_wait_seconds",
			Help:      "Time spent waiting for a pooled handle",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	PoolHandlesInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "recordx",
			Name:      "pool_handles_in_use",
			Help:      "Number of pooled handles currently checked out",
		},
	)

	StoreOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recordx",
			Name:      "store_operations_total",
			Help:      "Total number of document store operations",
		},
		[]string{"operation", "status"},
	)

	StoreOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "recordx",
			Name:      "store_operation_duration_seconds",
			Help:      "Document store operation duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"operation"},
	)
)

// Register adds every collector to reg. Call once at startup.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		PoolCheckoutsTotal,
		PoolCheckoutWait,
		PoolHandlesInUse,
		StoreOperationsTotal,
		StoreOperationDuration,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveStoreOp records the outcome and duration of a store operation.
func ObserveStoreOp(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	StoreOperationsTotal.WithLabelValues(op, status).Inc()
	StoreOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
