// Package metrics provides Prometheus instrumentation for the console.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// FeedEventsTotal counts pushed attendance events by scan status.
	FeedEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "faceconsole",
			Name:      "feed_events_total",
			Help:      "Pushed attendance events received, by scan status.",
		},
		[]string{"status"},
	)

	// StatsRefreshesTotal counts stats polls by result.
	StatsRefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "faceconsole",
			Name:      "stats_refreshes_total",
			Help:      "Stats poll attempts by result.",
		},
		[]string{"result"},
	)

	// StaleSeedsDiscarded counts poll responses whose feed seed was ignored
	// because newer pushed events had already arrived.
	StaleSeedsDiscarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "faceconsole",
			Name:      "stale_seeds_discarded_total",
			Help:      "Poll responses whose recent-scans seed lost to fresher pushes.",
		},
	)

	// SubmissionsTotal counts enrollment submissions by outcome kind.
	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "faceconsole",
			Name:      "enroll_submissions_total",
			Help:      "Enrollment submissions by outcome.",
		},
		[]string{"outcome"},
	)

	// DashboardClients gauges connected operator WebSocket clients.
	DashboardClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "faceconsole",
			Name:      "dashboard_clients",
			Help:      "Currently connected operator dashboard clients.",
		},
	)
)

// Register installs all collectors on the default registry.
func Register() {
	prometheus.MustRegister(
		FeedEventsTotal,
		StatsRefreshesTotal,
		StaleSeedsDiscarded,
		SubmissionsTotal,
		DashboardClients,
	)
}
