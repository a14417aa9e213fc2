package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Accounter metrics
	AccounterViewsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bbque_accounter_views_open",
			Help: "Number of resource-accounter views currently open (excludes the system view)",
		},
	)

	ReservationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bbque_reservations_total",
			Help: "Total number of Reserve calls by outcome",
		},
		[]string{"outcome"},
	)

	ReservationLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bbque_reservation_latency_seconds",
			Help:    "Time taken to commit a Reserve call",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Scheduling metrics
	SchedulingRoundDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bbque_scheduling_round_duration_seconds",
			Help:    "Time taken to run one YaMS scheduling round",
			Buckets: prometheus.DefBuckets,
		},
	)

	EntitiesScored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bbque_scheduling_entities_scored_total",
			Help: "Total number of (app, awm, cluster) scheduling entities scored",
		},
	)

	AppsScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bbque_apps_scheduled_total",
			Help: "Total number of applications successfully scheduled in a round",
		},
	)

	AppsBlocked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bbque_apps_blocked_total",
			Help: "Total number of applications that received no resources in a round",
		},
	)

	ContributionScore = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bbque_contribution_score",
			Help:    "Distribution of scores returned by a scheduling contribution",
			Buckets: []float64{0, 0.1, 0.25, 0.5, 0.75, 0.9, 1},
		},
		[]string{"contribution"},
	)

	// SASB synchronization metrics
	SyncRoundDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bbque_sync_round_duration_seconds",
			Help:    "Time taken to drain all SASB subsets for one round",
			Buckets: prometheus.DefBuckets,
		},
	)

	SyncSubsetSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bbque_sync_subset_size",
			Help:    "Number of applications in a yielded SASB subset",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
		},
		[]string{"state"},
	)

	SyncLatencyViolations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bbque_sync_latency_violations_total",
			Help: "Total number of applications demoted for exceeding their latency ceiling",
		},
	)

	// Deferrable executor metrics
	DeferrableFires = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bbque_deferrable_fires_total",
			Help: "Total number of deferrable executions by task name",
		},
		[]string{"task"},
	)

	DeferrableCoalesced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bbque_deferrable_coalesced_total",
			Help: "Total number of schedule() calls absorbed into an already-pending fire",
		},
		[]string{"task"},
	)

	// Application registry metrics
	ApplicationsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bbque_applications_total",
			Help: "Total number of registered applications by sync state",
		},
		[]string{"state"},
	)

	// Platform proxy metrics
	PlatformTransitionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bbque_platform_transition_duration_seconds",
			Help:    "Time taken to apply one application's next-AWM resource mapping to the platform",
			Buckets: prometheus.DefBuckets,
		},
	)

	PlatformTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bbque_platform_transitions_total",
			Help: "Total number of platform transitions by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(AccounterViewsOpen)
	prometheus.MustRegister(ReservationsTotal)
	prometheus.MustRegister(ReservationLatency)
	prometheus.MustRegister(SchedulingRoundDuration)
	prometheus.MustRegister(EntitiesScored)
	prometheus.MustRegister(AppsScheduled)
	prometheus.MustRegister(AppsBlocked)
	prometheus.MustRegister(ContributionScore)
	prometheus.MustRegister(SyncRoundDuration)
	prometheus.MustRegister(SyncSubsetSize)
	prometheus.MustRegister(SyncLatencyViolations)
	prometheus.MustRegister(DeferrableFires)
	prometheus.MustRegister(DeferrableCoalesced)
	prometheus.MustRegister(ApplicationsTotal)
	prometheus.MustRegister(PlatformTransitionDuration)
	prometheus.MustRegister(PlatformTransitionsTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
