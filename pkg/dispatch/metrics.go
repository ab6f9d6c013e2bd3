package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for dispatch runs.
var (
	dispatchTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blueprint_dispatch_tasks_total",
		Help: "Total number of tasks by terminal outcome",
	}, []string{"outcome"}) // "succeeded", "failed", "exhausted", "cancelled"

	dispatchAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blueprint_dispatch_attempts_total",
		Help: "Total number of endpoint calls by result",
	}, []string{"result"}) // "success", "throttled", "failed"

	dispatchInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "blueprint_dispatch_in_flight",
		Help: "Endpoint calls currently in flight",
	})

	dispatchBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "blueprint_dispatch_backoff_seconds",
		Help:    "Backoff duration after throttled attempts",
		Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32, 60},
	})

	dispatchTaskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "blueprint_dispatch_task_duration_seconds",
		Help:    "Time from task start to terminal state",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})
)
