package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Webhook deliveries by channel and how they were handled
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "omnichannel",
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Webhook deliveries received",
		},
		[]string{"channel", "result"},
	)

	// Pipeline outcomes: persisted, duplicate or the failing stage
	IngestOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "omnichannel",
			Subsystem: "ingest",
			Name:      "outcomes_total",
			Help:      "Messages run through the reconciliation pipeline",
		},
		[]string{"channel", "source", "outcome"},
	)

	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "omnichannel",
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Pull-sync runs",
		},
		[]string{"channel", "result"},
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "omnichannel",
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Pull-sync run duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"channel"},
	)

	ProviderErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "omnichannel",
			Subsystem: "provider",
			Name:      "errors_total",
			Help:      "Failed provider API calls",
		},
		[]string{"channel", "operation"},
	)
)
