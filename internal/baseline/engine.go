// Package baseline derives rolling per-metric statistics from the snapshot
// history. The engine always recomputes from scratch over the trailing
// window: any day can be corrected after the fact and the window drops its
// oldest day as it slides, both of which break a running accumulator. At
// tens of days of history the O(window) rebuild is immaterial.
package baseline

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/nkovacs/vitald/internal/storage"
)

// StdDevMode selects the standard deviation convention.
type StdDevMode string

const (
	// StdDevSample divides by n-1. The default: the window is a sample of
	// the subject's ongoing physiology, not the whole population of days.
	StdDevSample StdDevMode = "sample"
	// StdDevPopulation divides by n.
	StdDevPopulation StdDevMode = "population"
)

// SnapshotLister is the slice of the store the engine reads from.
type SnapshotLister interface {
	ListSnapshots(start, end storage.Date) ([]storage.Snapshot, error)
	ReplaceBaseline(b storage.Baseline) error
}

// Engine rebuilds the baseline record from the snapshot history.
type Engine struct {
	store      SnapshotLister
	windowDays int
	minSamples int
	mode       StdDevMode
	logger     *slog.Logger
}

// New creates an Engine. windowDays <= 0 defaults to 60, minSamples <= 0
// defaults to 5, an empty mode defaults to sample standard deviation.
func New(store SnapshotLister, windowDays, minSamples int, mode StdDevMode) *Engine {
	if windowDays <= 0 {
		windowDays = 60
	}
	if minSamples <= 0 {
		minSamples = 5
	}
	if mode == "" {
		mode = StdDevSample
	}
	return &Engine{
		store:      store,
		windowDays: windowDays,
		minSamples: minSamples,
		mode:       mode,
		logger:     slog.Default(),
	}
}

// WindowDays returns the configured trailing window length.
func (e *Engine) WindowDays() int { return e.windowDays }

// Recompute rebuilds the baseline from the window of windowDays trailing days
// ending at asOf (inclusive) and replaces the persisted record whole.
func (e *Engine) Recompute(asOf storage.Date) (storage.Baseline, error) {
	start := asOf.AddDays(-(e.windowDays - 1))

	snaps, err := e.store.ListSnapshots(start, asOf)
	if err != nil {
		return storage.Baseline{}, fmt.Errorf("listing window %s..%s: %w", start, asOf, err)
	}

	// Gather non-absent values per metric across the window.
	values := make(map[string][]float64)
	for _, snap := range snaps {
		for name, v := range snap.Metrics {
			values[name] = append(values[name], v)
		}
	}

	b := storage.Baseline{
		ComputedAt: time.Now().UTC(),
		WindowDays: e.windowDays,
		Metrics:    make(map[string]storage.MetricStats, len(values)),
	}
	for name, vals := range values {
		stats := storage.MetricStats{
			SampleCount: len(vals),
			WindowStart: start,
			WindowEnd:   asOf,
		}
		if len(vals) < e.minSamples {
			stats.Insufficient = true
		} else {
			stats.Mean = mean(vals)
			stats.StdDev = stdDev(vals, stats.Mean, e.mode)
		}
		b.Metrics[name] = stats
	}

	if err := e.store.ReplaceBaseline(b); err != nil {
		return storage.Baseline{}, fmt.Errorf("replacing baseline: %w", err)
	}
	e.logger.Info("baseline recomputed",
		"as_of", asOf.String(), "days_with_data", len(snaps), "metrics", len(b.Metrics))
	return b, nil
}

// Covers reports whether date falls inside the trailing window ending at
// latest. A put outside the live window (deep historical backfill) does not
// need to trigger a recompute.
func (e *Engine) Covers(date, latest storage.Date) bool {
	if latest.Before(date) {
		return true // new newest date: the window slides forward to it
	}
	start := latest.AddDays(-(e.windowDays - 1))
	return !date.Before(start)
}

func mean(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func stdDev(vals []float64, mean float64, mode StdDevMode) float64 {
	if len(vals) < 2 {
		return 0
	}
	var ss float64
	for _, v := range vals {
		d := v - mean
		ss += d * d
	}
	n := float64(len(vals))
	if mode == StdDevPopulation {
		return math.Sqrt(ss / n)
	}
	return math.Sqrt(ss / (n - 1))
}
