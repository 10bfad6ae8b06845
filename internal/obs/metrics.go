// Package obs provides Prometheus instrumentation for the store.
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Own registry so the scrape surface carries only vitald metrics.
var registry = prometheus.NewRegistry()

var (
	snapshotsIngested = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Namespace: "vitald",
		Name:      "snapshots_ingested_total",
		Help:      "Snapshots stored, fresh days and corrections alike.",
	})
	snapshotsUnchanged = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Namespace: "vitald",
		Name:      "snapshots_unchanged_total",
		Help:      "Re-submissions identical to the stored snapshot (recompute skipped).",
	})
	interventionsAppended = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Namespace: "vitald",
		Name:      "interventions_appended_total",
		Help:      "Intervention entries appended to the daily log.",
	})
	interventionsDeduped = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Namespace: "vitald",
		Name:      "interventions_deduped_total",
		Help:      "Appends dropped because their request ID was already stored.",
	})
	recomputeDuration = promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: "vitald",
		Name:      "baseline_recompute_duration_seconds",
		Help:      "Wall time of a full baseline recompute.",
		Buckets:   prometheus.DefBuckets,
	})
	prunedRecords = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "vitald",
		Name:      "pruned_records_total",
		Help:      "Records removed by retention, by data class.",
	}, []string{"class"})
	pruneFailures = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Namespace: "vitald",
		Name:      "prune_failures_total",
		Help:      "Prune passes that reported an error.",
	})
	backfillDays = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "vitald",
		Name:      "backfill_days_total",
		Help:      "Backfill outcomes per date.",
	}, []string{"outcome"})
)

// Registry exposes the private registry for the /metrics handler.
func Registry() *prometheus.Registry { return registry }

func RecordSnapshotIngested()     { snapshotsIngested.Inc() }
func RecordSnapshotUnchanged()    { snapshotsUnchanged.Inc() }
func RecordInterventionAppended() { interventionsAppended.Inc() }
func RecordInterventionDeduped()  { interventionsDeduped.Inc() }

func ObserveRecompute(seconds float64) { recomputeDuration.Observe(seconds) }

func RecordPruned(class string, n int64) {
	if n > 0 {
		prunedRecords.WithLabelValues(class).Add(float64(n))
	}
}
func RecordPruneFailure() { pruneFailures.Inc() }

func RecordBackfillDay(ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	backfillDays.WithLabelValues(outcome).Inc()
}
