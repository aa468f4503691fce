// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ApprovalTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approval_transitions_total",
			Help: "Approval state machine transitions by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_created_total",
			Help: "Notification records persisted",
		},
		[]string{"type", "recipient_kind"},
	)

	NotificationsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_skipped_total",
			Help: "Notify calls that produced no record",
		},
		[]string{"reason"},
	)

	RealtimePushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_pushes_total",
			Help: "Realtime events published",
		},
		[]string{"event", "outcome"},
	)

	RealtimeSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_subscribers",
			Help: "Open realtime streams in this process",
		},
	)

	EnqueueFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_enqueue_fallbacks_total",
			Help: "Synchronous email sends after a failed enqueue",
		},
		[]string{"outcome"},
	)

	DispatchDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_dispatch_dropped_total",
			Help: "Events dropped because the dispatcher buffer was full or closed",
		},
	)

	DeliveryJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_jobs_completed_total",
			Help: "Delivery jobs acknowledged",
		},
		[]string{"kind"},
	)

	DeliveryJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_jobs_failed_total",
			Help: "Delivery job attempts that failed",
		},
		[]string{"kind", "error_code", "terminal"},
	)

	DeliveryJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "delivery_job_duration_seconds",
			Help: "Duration of delivery job processing in seconds",
		},
		[]string{"kind"},
	)

	DeliveryJobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "delivery_jobs_active",
			Help: "Delivery jobs currently being processed",
		},
	)

	EmailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emails_sent_total",
			Help: "Outbound emails by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)
)
