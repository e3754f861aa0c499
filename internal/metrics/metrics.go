package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SnapshotsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swasthya_snapshots_received_total",
			Help: "Total number of document snapshots merged into worker records",
		},
		[]string{"source"},
	)

	StaleEventsDiscarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swasthya_stale_events_discarded_total",
			Help: "Total number of subscription events dropped because their generation was stale",
		},
	)

	SubscriptionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swasthya_subscription_errors_total",
			Help: "Total number of transport errors reported by subscriptions",
		},
		[]string{"source"},
	)

	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "swasthya_active_subscriptions",
			Help: "Number of open record subscriptions",
		},
	)

	LookupResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swasthya_lookup_results_total",
			Help: "Total number of lookup events by kind",
		},
		[]string{"result"},
	)

	SinkPublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swasthya_sink_publishes_total",
			Help: "Total number of display record publishes per sink",
		},
		[]string{"sink", "status"},
	)

	SinkPublishDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "swasthya_sink_publish_duration_seconds",
			Help: "Duration of display record publishes in seconds",
		},
		[]string{"sink"},
	)
)
