// Package ingest is the write entry point for external collaborators. The
// coordinator validates, enforces idempotency, and orders the dependent
// baseline recompute and retention pass after each successful write.
package ingest

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nkovacs/vitald/internal/baseline"
	"github.com/nkovacs/vitald/internal/metric"
	"github.com/nkovacs/vitald/internal/obs"
	"github.com/nkovacs/vitald/internal/retention"
	"github.com/nkovacs/vitald/internal/storage"
)

// RecordStore is the slice of the store the coordinator writes through.
type RecordStore interface {
	PutSnapshot(snap storage.Snapshot) (prev storage.Snapshot, replaced bool, err error)
	AppendIntervention(entry storage.InterventionEntry) (stored storage.InterventionEntry, deduped bool, err error)
	LatestSnapshotDate() (storage.Date, error)
	EnqueueJob(job storage.Job) error
}

// Coordinator serializes the submit paths and their follow-on work.
type Coordinator struct {
	store     RecordStore
	engine    *baseline.Engine
	retention *retention.Manager
	normalize bool // enqueue normalization jobs for raw-only entries
	logger    *slog.Logger
}

func New(store RecordStore, engine *baseline.Engine, ret *retention.Manager, normalize bool) *Coordinator {
	return &Coordinator{
		store:     store,
		engine:    engine,
		retention: ret,
		normalize: normalize,
		logger:    slog.Default(),
	}
}

// MetricsResult reports what a SubmitMetrics call did.
type MetricsResult struct {
	Changed    bool // snapshot differs from what was stored before
	FreshDay   bool // no snapshot existed for the date
	Recomputed bool // baseline recompute ran
}

// SubmitMetrics stores a day's snapshot. Re-submitting an identical snapshot
// is a no-op for the baseline engine; a differing snapshot is a correction
// that replaces the day whole and triggers a recompute when the date touches
// the live window. Retention runs after every successful write; its failures
// are logged, never surfaced.
func (c *Coordinator) SubmitMetrics(date storage.Date, metrics map[string]float64) (MetricsResult, error) {
	if _, err := storage.ParseDate(date.String()); err != nil {
		return MetricsResult{}, err
	}
	if err := metric.Validate(metrics); err != nil {
		return MetricsResult{}, err
	}

	// Latest date before the write decides whether this date touches the
	// current baseline window.
	latestBefore, err := c.store.LatestSnapshotDate()
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return MetricsResult{}, fmt.Errorf("reading latest date: %w", err)
	}

	snap := storage.Snapshot{Date: date, Metrics: metrics}
	prev, replaced, err := c.store.PutSnapshot(snap)
	if err != nil {
		return MetricsResult{}, fmt.Errorf("storing snapshot for %s: %w", date, err)
	}

	res := MetricsResult{
		Changed:  !replaced || !prev.Equal(snap),
		FreshDay: !replaced,
	}

	if !res.Changed {
		// Identical re-submission (retried write or backfill replay):
		// nothing for the baseline engine to do.
		obs.RecordSnapshotUnchanged()
		return res, nil
	}
	obs.RecordSnapshotIngested()

	if latestBefore == "" || c.engine.Covers(date, latestBefore) {
		asOf := date
		if date.Before(latestBefore) {
			asOf = latestBefore
		}
		start := time.Now()
		if _, err := c.engine.Recompute(asOf); err != nil {
			return res, fmt.Errorf("recomputing baseline: %w", err)
		}
		obs.ObserveRecompute(time.Since(start).Seconds())
		res.Recomputed = true
	}

	c.prune()
	return res, nil
}

// SubmitIntervention appends one entry to the day's log. Duplicate free text
// is kept: two identical messages are two real events. Only an explicit
// caller-supplied request ID makes a retry collapse onto the original entry.
func (c *Coordinator) SubmitIntervention(date storage.Date, entry storage.InterventionEntry) (storage.InterventionEntry, error) {
	if _, err := storage.ParseDate(date.String()); err != nil {
		return storage.InterventionEntry{}, err
	}
	if entry.Raw == "" {
		return storage.InterventionEntry{}, &metric.ValidationError{Metric: "raw", Reason: "empty intervention text"}
	}

	entry.Date = date
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	stored, deduped, err := c.store.AppendIntervention(entry)
	if err != nil {
		return storage.InterventionEntry{}, fmt.Errorf("appending intervention for %s: %w", date, err)
	}
	if deduped {
		obs.RecordInterventionDeduped()
		return stored, nil
	}
	obs.RecordInterventionAppended()

	if c.normalize && stored.Normalized == "" {
		job := storage.Job{ID: uuid.New().String(), Type: "normalize", Payload: stored.ID}
		if err := c.store.EnqueueJob(job); err != nil {
			// The raw entry is durable and valid without normalization.
			c.logger.Warn("enqueueing normalize job failed", "entry_id", stored.ID, "error", err)
		}
	}

	c.prune()
	return stored, nil
}

func (c *Coordinator) prune() {
	res, err := c.retention.Prune()
	if err != nil {
		obs.RecordPruneFailure()
		c.logger.Warn("retention prune failed", "error", err)
	}
	obs.RecordPruned("snapshot", res.Snapshots)
	obs.RecordPruned("intervention", res.Interventions)
	obs.RecordPruned("brief", res.Briefs)
}

// Prune runs a retention pass on demand (administrative entry point).
func (c *Coordinator) Prune() (retention.Result, error) {
	res, err := c.retention.Prune()
	if err != nil {
		obs.RecordPruneFailure()
		return res, err
	}
	obs.RecordPruned("snapshot", res.Snapshots)
	obs.RecordPruned("intervention", res.Interventions)
	obs.RecordPruned("brief", res.Briefs)
	return res, nil
}

// Recompute rebuilds the baseline as of the newest stored date (administrative
// entry point). With an empty store there is nothing to rebuild.
func (c *Coordinator) Recompute() (storage.Baseline, error) {
	latest, err := c.store.LatestSnapshotDate()
	if err != nil {
		return storage.Baseline{}, err
	}
	return c.engine.Recompute(latest)
}
