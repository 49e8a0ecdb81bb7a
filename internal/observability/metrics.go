package observability

import "github.com/prometheus/client_golang/prometheus"

// Pipeline collectors. Label values are fixed small sets so cardinality stays
// bounded regardless of user or project count.
var (
	// NotificationsCreated counts notification rows actually inserted
	// (re-deliveries that hit the unique index are not counted).
	NotificationsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notifications_created_total",
			Help: "Total number of notification rows created.",
		},
	)

	// LivePushes counts push attempts by result: delivered, dropped (buffer
	// full, oldest payload evicted), no_handles.
	LivePushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "live_push_total",
			Help: "Live push attempts by result.",
		},
		[]string{"result"},
	)

	// LiveHandles gauges currently subscribed live handles.
	LiveHandles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "live_handles",
			Help: "Number of open live push handles.",
		},
	)

	// StatsCacheRequests counts stats cache lookups by result: hit, miss, error.
	StatsCacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stats_cache_requests_total",
			Help: "Project stats cache lookups by result.",
		},
		[]string{"result"},
	)

	// DigestTasks counts digest task outcomes by status: done, empty, failed, retried.
	DigestTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digest_tasks_total",
			Help: "Digest task outcomes by status.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(NotificationsCreated, LivePushes, LiveHandles, StatsCacheRequests, DigestTasks)
}
