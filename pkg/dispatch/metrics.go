package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for dispatching and deduplication.
var (
	dispatcherActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reqcore_dispatcher_active",
		Help: "Number of tasks currently executing",
	})

	dispatcherQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reqcore_dispatcher_queued",
		Help: "Number of tasks waiting for a slot",
	})

	dispatcherTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reqcore_dispatcher_tasks_total",
		Help: "Total tasks submitted by priority",
	}, []string{"priority"})

	dispatcherQueueWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reqcore_dispatcher_queue_wait_seconds",
		Help:    "Time tasks spent in the backlog before starting",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	dedupSharedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reqcore_dedup_shared_total",
		Help: "Total callers attached to an already in-flight request",
	})

	dedupExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reqcore_dedup_expired_total",
		Help: "Total in-flight entries removed by the safety timeout",
	})
)
