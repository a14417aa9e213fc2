/*
Package metrics provides Prometheus instrumentation for bbqued.

The metrics package wraps prometheus/client_golang to expose counters,
gauges, and histograms describing the resource accounter, the YaMS
scheduling policy, SASB synchronization, the deferrable executor, and
the platform proxy. All metrics are registered once at package init
and exposed over HTTP via Handler().

# Architecture

	┌─────────────────── METRICS SYSTEM ───────────────────────┐
	│                                                            │
	│  ┌──────────────────────────────────────────────┐        │
	│  │          Package-level Collectors             │        │
	│  │  - Gauges, Counters, Histograms, Vecs         │        │
	│  │  - Registered once in init()                 │        │
	│  └──────────────────┬─────────────────────────┬─┘        │
	│                     │                           │          │
	│  ┌──────────────────▼─────────┐   ┌────────────▼───────┐ │
	│  │   pkg/accounter             │   │   pkg/scheduler     │ │
	│  │   pkg/round                 │   │   pkg/sasb          │ │
	│  │   pkg/deferrable            │   │   pkg/platform      │ │
	│  │   pkg/apps                  │   │                     │ │
	│  └──────────────────┬─────────┘   └────────────┬───────┘ │
	│                     │                           │          │
	│  ┌──────────────────▼───────────────────────────▼───────┐ │
	│  │                 Timer helper                          │ │
	│  │  - NewTimer() / ObserveDuration(histogram)            │ │
	│  │  - ObserveDurationVec(histogramVec, labels...)        │ │
	│  └──────────────────┬─────────────────────────────────────┘ │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────────────────┐│
	│  │              promhttp.Handler()                        ││
	│  │              GET /metrics                              ││
	│  └──────────────────────────────────────────────────────┘ │
	└────────────────────────────────────────────────────────┘

# Metric Catalog

Accounter:

  - bbque_accounter_views_open (gauge): number of resource-accounter
    views currently open, excluding the system view. Rises when a
    scheduling policy opens a view with GetView and falls when the
    view is adopted or discarded.

  - bbque_reservations_total{outcome} (counter): total Reserve calls,
    labeled "ok", "usage_exceeded", "app_usages", "app_mismatch",
    "miss_usages" or "unknown_view". A steady rate of "usage_exceeded"
    outcomes signals sustained oversubscription.

  - bbque_reservation_latency_seconds (histogram): time to commit a
    single Reserve call.

Scheduling:

  - bbque_scheduling_round_duration_seconds (histogram): wall time of
    one YaMS scheduling round (scheduler.Policy.RunRound).

  - bbque_scheduling_entities_scored_total (counter): total number of
    (app, awm, cluster) triples scored across all rounds. Compare its
    rate against bbque_scheduling_round_duration_seconds to see how
    scoring cost scales with fleet size.

  - bbque_apps_scheduled_total / bbque_apps_blocked_total (counters):
    applications that did or didn't receive resources in a round.

  - bbque_contribution_score{contribution} (histogram vec): the
    distribution of scores returned by each named scheduling
    contribution (e.g. "value", "congestion", "fairness"), bucketed
    0 through 1.

Synchronization (SASB):

  - bbque_sync_round_duration_seconds (histogram): time to drain every
    SASB subset for one round (round.Driver.synchronize).

  - bbque_sync_subset_size{state} (histogram vec): size of each yielded
    SASB subset, labeled by the apps.SyncState it targets.

  - bbque_sync_latency_violations_total (counter): applications demoted
    to StateBlocked because their platform transition exceeded
    LatencyCeilingMs (sasb.CheckLatency returning Violation).

Deferrable executor:

  - bbque_deferrable_fires_total{task} (counter): executions of a named
    deferrable task.

  - bbque_deferrable_coalesced_total{task} (counter): schedule() calls
    absorbed into an already-pending fire instead of triggering a new
    one. A high ratio against fires_total means the task's cadence is
    shorter than its own execution time.

Application registry:

  - bbque_applications_total{state} (gauge vec): applications bucketed
    by apps.SyncState. Register counts an application under "new";
    Deregister moves it from the state it held at that moment to
    "finished". Other state transitions do not update the gauge, so
    the buckets do not track an application's later states.

Platform proxy:

  - bbque_platform_transition_duration_seconds (histogram): time to
    apply one application's next-AWM resource mapping to the platform
    (platform.CgroupProxy.Transition).

  - bbque_platform_transitions_total{outcome} (counter): transitions
    labeled "ok", "noop", "setup_failed", or "map_failed".

# Usage

Recording a simple counter:

	metrics.ReservationsTotal.WithLabelValues("ok").Inc()
	metrics.ReservationsTotal.WithLabelValues("usage_exceeded").Inc()

Recording a gauge:

	metrics.AccounterViewsOpen.Inc()
	defer metrics.AccounterViewsOpen.Dec()

Timing a histogram:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulingRoundDuration)

Timing a labeled histogram:

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.SyncSubsetSize, state.String())

Serving the /metrics endpoint:

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	http.ListenAndServe(":9090", mux)

# Design Patterns

Package-level Collectors:
  - All collectors are package vars, registered once in init()
  - Avoids passing a registry through every constructor
  - Matches the accounter/scheduler/round packages importing metrics
    directly rather than taking a collector set as a dependency

Outcome Labels:
  - Counters that can fail use an "outcome" label instead of two
    separate counters, so a single PromQL query compares rates
  - Keeps label cardinality low and bounded (a handful of known values)

Timer Helper:
  - NewTimer/ObserveDuration pairs avoid repeating time.Since math
  - ObserveDurationVec covers the labeled-histogram case without a
    second helper type

# Performance Characteristics

  - Counter/gauge increment: a few nanoseconds, lock-free in the
    common case
  - Histogram observe: bucket search plus one atomic add per bucket,
    sub-microsecond
  - /metrics scrape cost scales with the number of distinct label
    combinations actually observed, not the cardinality declared in
    code

# Alerting

Sustained resource pressure:
  - rate(bbque_reservations_total{outcome="usage_exceeded"}[5m]) > 0

Scheduling round falling behind its cadence:
  - histogram_quantile(0.99, bbque_scheduling_round_duration_seconds)
    approaching the configured round interval

Latency ceiling violations:
  - increase(bbque_sync_latency_violations_total[10m]) > 0

Platform transitions failing:
  - rate(bbque_platform_transitions_total{outcome!="ok"}[5m]) > 0

# See Also

  - Prometheus client_golang: https://github.com/prometheus/client_golang
  - Prometheus naming conventions: https://prometheus.io/docs/practices/naming/
*/
package metrics
