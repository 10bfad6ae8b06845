package ingest

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nkovacs/vitald/internal/obs"
	"github.com/nkovacs/vitald/internal/storage"
)

// SnapshotSource produces one day's metric snapshot. The fetch side (device
// API, export files) lives outside the store; backfill only needs this one
// method. Returning storage.ErrNotFound means the source has no data for the
// date, which backfill records as a failure for that date without aborting.
type SnapshotSource interface {
	Fetch(ctx context.Context, date storage.Date) (map[string]float64, error)
}

// backfillFetchers bounds concurrent source fetches. Writes serialize in the
// store regardless.
const backfillFetchers = 4

// DayResult is the outcome of backfilling one date.
type DayResult struct {
	Date storage.Date
	Err  error
}

// BackfillSummary reports per-date outcomes for a whole range.
type BackfillSummary struct {
	OK     []storage.Date
	Failed []DayResult
}

// Backfill fetches and submits one snapshot per date in [start, end]
// inclusive. A failure on one date never aborts the rest; the summary names
// every date that could not be fetched or stored. Re-running a backfill over
// already-stored dates is safe: identical days are idempotent no-ops.
func (c *Coordinator) Backfill(ctx context.Context, start, end storage.Date, source SnapshotSource) (BackfillSummary, error) {
	if _, err := storage.ParseDate(start.String()); err != nil {
		return BackfillSummary{}, err
	}
	if _, err := storage.ParseDate(end.String()); err != nil {
		return BackfillSummary{}, err
	}
	if end.Before(start) {
		return BackfillSummary{}, fmt.Errorf("backfill range %s..%s is inverted", start, end)
	}

	var (
		mu      sync.Mutex
		summary BackfillSummary
	)
	record := func(date storage.Date, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			obs.RecordBackfillDay(false)
			summary.Failed = append(summary.Failed, DayResult{Date: date, Err: err})
			return
		}
		obs.RecordBackfillDay(true)
		summary.OK = append(summary.OK, date)
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(backfillFetchers)

	for date := start; !end.Before(date); date = date.AddDays(1) {
		date := date
		g.Go(func() error {
			metrics, err := source.Fetch(gCtx, date)
			if err != nil {
				record(date, fmt.Errorf("fetching: %w", err))
				return nil
			}
			if _, err := c.SubmitMetrics(date, metrics); err != nil {
				record(date, fmt.Errorf("storing: %w", err))
				return nil
			}
			record(date, nil)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return summary, err
	}

	// Submits land in arbitrary order; one final recompute pins the baseline
	// to the true newest date.
	if len(summary.OK) > 0 {
		if _, err := c.Recompute(); err != nil {
			c.logger.Warn("post-backfill recompute failed", "error", err)
		}
	}

	c.logger.Info("backfill finished",
		"start", start.String(), "end", end.String(),
		"ok", len(summary.OK), "failed", len(summary.Failed))
	return summary, nil
}
