package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Dispatches counts gateway dispatch calls by kind and outcome (sent|skipped|failed).
	Dispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "randevly_notification_dispatches_total",
			Help: "Total number of notification dispatch attempts per channel",
		},
		[]string{"kind", "channel", "outcome"},
	)

	// RateLimitRejections counts limiter rejections by tier code.
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "randevly_rate_limit_rejections_total",
			Help: "Total number of notification sends rejected by the rate limiter",
		},
		[]string{"code"},
	)

	// PushQueueDepth tracks the number of queued push delivery tasks.
	PushQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "randevly_push_queue_depth",
			Help: "Number of push delivery tasks waiting in the queue",
		},
	)

	// PushQueueDropped counts tasks rejected because the queue was saturated.
	PushQueueDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "randevly_push_queue_dropped_total",
			Help: "Total number of push delivery tasks dropped due to backpressure",
		},
	)

	// PushDeliveries counts completed push delivery tasks by terminal result.
	PushDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "randevly_push_deliveries_total",
			Help: "Total number of push delivery tasks by result (sent|failed|expired)",
		},
		[]string{"result"},
	)

	// SchedulerRuns counts scheduler job ticks by job name and outcome (ok|error|skipped).
	SchedulerRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "randevly_scheduler_runs_total",
			Help: "Total number of scheduler job runs",
		},
		[]string{"job", "outcome"},
	)

	// APILatency measures HTTP request latencies for the observability surface.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "randevly_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
