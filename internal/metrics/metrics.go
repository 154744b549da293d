package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mailer"

var (
	// JobOutcomes counts processEmailJob results by outcome
	// (sent, failed, skipped, rate_limited, not_ready, already_processed).
	JobOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "outcomes_total",
			Help:      "Email job results by outcome.",
		},
		[]string{"outcome"},
	)

	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "batch_size",
			Help:      "Number of due units selected per batch.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
		},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Delivery provider call latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "result"},
	)

	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Inbound delivery events by type and result.",
		},
		[]string{"event_type", "result"},
	)

	Retries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "retries_total",
			Help:      "Failed units moved back to pending.",
		},
	)

	RetentionDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "deleted_events_total",
			Help:      "Sent events removed by retention cleanup.",
		},
	)
)
