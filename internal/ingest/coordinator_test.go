package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nkovacs/vitald/internal/baseline"
	"github.com/nkovacs/vitald/internal/metric"
	"github.com/nkovacs/vitald/internal/retention"
	"github.com/nkovacs/vitald/internal/storage"
)

func newTestCoordinator(t *testing.T, windowDays, minSamples int, policy retention.Policy) (*Coordinator, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:): %v", err)
	}
	t.Cleanup(func() { store.Close() })

	engine := baseline.New(store, windowDays, minSamples, baseline.StdDevSample)
	ret := retention.New(store, policy)
	return New(store, engine, ret, false), store
}

func TestSubmitMetricsFreshDay(t *testing.T) {
	c, store := newTestCoordinator(t, 60, 2, retention.Policy{})

	res, err := c.SubmitMetrics("2026-08-10", map[string]float64{"hrv": 55})
	if err != nil {
		t.Fatalf("SubmitMetrics: %v", err)
	}
	if !res.FreshDay || !res.Changed || !res.Recomputed {
		t.Errorf("fresh day result = %+v", res)
	}

	snap, err := store.GetSnapshot("2026-08-10")
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if snap.Metrics["hrv"] != 55 {
		t.Errorf("hrv = %v, want 55", snap.Metrics["hrv"])
	}
}

func TestSubmitMetricsRejectsBadInput(t *testing.T) {
	c, store := newTestCoordinator(t, 60, 2, retention.Policy{})

	if _, err := c.SubmitMetrics("2026-8-10", map[string]float64{"hrv": 55}); err == nil {
		t.Error("malformed date accepted")
	}

	_, err := c.SubmitMetrics("2026-08-10", map[string]float64{"sleep_score": 150})
	var verr *metric.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("out-of-range value: expected ValidationError, got %v", err)
	}

	// A rejected submit must leave nothing behind.
	if _, err := store.GetSnapshot("2026-08-10"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("rejected submit wrote a snapshot: %v", err)
	}
}

// TestSubmitMetricsIdempotentResubmit submits the same snapshot twice and
// verifies the second pass changes neither the record nor the baseline.
func TestSubmitMetricsIdempotentResubmit(t *testing.T) {
	c, store := newTestCoordinator(t, 60, 1, retention.Policy{})

	metrics := map[string]float64{"hrv": 55, "sleep_score": 80}
	if _, err := c.SubmitMetrics("2026-08-10", metrics); err != nil {
		t.Fatalf("first SubmitMetrics: %v", err)
	}
	before, err := store.GetBaseline()
	if err != nil {
		t.Fatalf("GetBaseline: %v", err)
	}

	res, err := c.SubmitMetrics("2026-08-10", map[string]float64{"sleep_score": 80, "hrv": 55})
	if err != nil {
		t.Fatalf("second SubmitMetrics: %v", err)
	}
	if res.Changed || res.FreshDay || res.Recomputed {
		t.Errorf("identical re-submission did work: %+v", res)
	}

	after, err := store.GetBaseline()
	if err != nil {
		t.Fatalf("GetBaseline: %v", err)
	}
	if !after.ComputedAt.Equal(before.ComputedAt) {
		t.Error("baseline recomputed on an identical re-submission")
	}
}

// TestSubmitMetricsCorrectionRecomputes replaces a stored day with different
// values and checks the baseline reflects the corrected number.
func TestSubmitMetricsCorrectionRecomputes(t *testing.T) {
	c, store := newTestCoordinator(t, 60, 1, retention.Policy{})

	if _, err := c.SubmitMetrics("2026-08-10", map[string]float64{"hrv": 55}); err != nil {
		t.Fatalf("initial SubmitMetrics: %v", err)
	}

	res, err := c.SubmitMetrics("2026-08-10", map[string]float64{"hrv": 61})
	if err != nil {
		t.Fatalf("correction SubmitMetrics: %v", err)
	}
	if !res.Changed || res.FreshDay || !res.Recomputed {
		t.Errorf("correction result = %+v", res)
	}

	b, err := store.GetBaseline()
	if err != nil {
		t.Fatalf("GetBaseline: %v", err)
	}
	if b.Metrics["hrv"].Mean != 61 {
		t.Errorf("baseline mean = %v, want corrected 61", b.Metrics["hrv"].Mean)
	}
}

// TestSubmitMetricsOldDateOutsideWindow backfills a date far before the live
// window and checks the baseline is left alone.
func TestSubmitMetricsOldDateOutsideWindow(t *testing.T) {
	c, store := newTestCoordinator(t, 7, 1, retention.Policy{})

	if _, err := c.SubmitMetrics("2026-08-10", map[string]float64{"hrv": 55}); err != nil {
		t.Fatalf("SubmitMetrics: %v", err)
	}
	before, err := store.GetBaseline()
	if err != nil {
		t.Fatalf("GetBaseline: %v", err)
	}

	res, err := c.SubmitMetrics("2026-01-01", map[string]float64{"hrv": 99})
	if err != nil {
		t.Fatalf("historical SubmitMetrics: %v", err)
	}
	if res.Recomputed {
		t.Error("date outside the live window triggered a recompute")
	}

	after, err := store.GetBaseline()
	if err != nil {
		t.Fatalf("GetBaseline: %v", err)
	}
	if after.Metrics["hrv"].Mean != before.Metrics["hrv"].Mean {
		t.Error("baseline changed for a date outside the window")
	}
}

// TestSubmitMetricsRecomputeAnchorsOnLatest submits an older in-window date
// and verifies the window stays anchored on the newest stored date.
func TestSubmitMetricsRecomputeAnchorsOnLatest(t *testing.T) {
	c, store := newTestCoordinator(t, 7, 1, retention.Policy{})

	if _, err := c.SubmitMetrics("2026-08-10", map[string]float64{"hrv": 50}); err != nil {
		t.Fatalf("SubmitMetrics: %v", err)
	}
	if _, err := c.SubmitMetrics("2026-08-08", map[string]float64{"hrv": 60}); err != nil {
		t.Fatalf("older SubmitMetrics: %v", err)
	}

	b, err := store.GetBaseline()
	if err != nil {
		t.Fatalf("GetBaseline: %v", err)
	}
	if b.Metrics["hrv"].WindowEnd != "2026-08-10" {
		t.Errorf("window end = %s, want 2026-08-10 (latest stored date)", b.Metrics["hrv"].WindowEnd)
	}
	if b.Metrics["hrv"].SampleCount != 2 {
		t.Errorf("sample count = %d, want 2", b.Metrics["hrv"].SampleCount)
	}
}

func TestSubmitMetricsTriggersRetention(t *testing.T) {
	c, store := newTestCoordinator(t, 60, 1, retention.Policy{SnapshotDays: 7})

	if _, err := c.SubmitMetrics("2026-08-01", map[string]float64{"hrv": 50}); err != nil {
		t.Fatalf("SubmitMetrics: %v", err)
	}
	// 2026-08-20 pushes the cutoff to 2026-08-13, past the first day.
	if _, err := c.SubmitMetrics("2026-08-20", map[string]float64{"hrv": 55}); err != nil {
		t.Fatalf("SubmitMetrics: %v", err)
	}

	if _, err := store.GetSnapshot("2026-08-01"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expired snapshot survived the retention pass: %v", err)
	}
	if _, err := store.GetSnapshot("2026-08-20"); err != nil {
		t.Errorf("fresh snapshot pruned: %v", err)
	}
}

func TestSubmitIntervention(t *testing.T) {
	c, store := newTestCoordinator(t, 60, 1, retention.Policy{})

	entry, err := c.SubmitIntervention("2026-08-10", storage.InterventionEntry{Time: "21:00", Raw: "sauna"})
	if err != nil {
		t.Fatalf("SubmitIntervention: %v", err)
	}
	if entry.ID == "" {
		t.Error("no ID assigned")
	}
	if entry.Date != "2026-08-10" {
		t.Errorf("date = %s", entry.Date)
	}

	got, err := store.ReadInterventions("2026-08-10")
	if err != nil {
		t.Fatalf("ReadInterventions: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("log has %d entries, want 1", len(got))
	}
}

func TestSubmitInterventionRejectsEmptyText(t *testing.T) {
	c, _ := newTestCoordinator(t, 60, 1, retention.Policy{})

	_, err := c.SubmitIntervention("2026-08-10", storage.InterventionEntry{Time: "21:00"})
	var verr *metric.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("expected ValidationError for empty text, got %v", err)
	}
}

func TestSubmitInterventionRequestIDDedup(t *testing.T) {
	c, store := newTestCoordinator(t, 60, 1, retention.Policy{})

	e := storage.InterventionEntry{Time: "21:00", Raw: "sauna", RequestID: "req-1"}
	first, err := c.SubmitIntervention("2026-08-10", e)
	if err != nil {
		t.Fatalf("first SubmitIntervention: %v", err)
	}
	second, err := c.SubmitIntervention("2026-08-10", e)
	if err != nil {
		t.Fatalf("retried SubmitIntervention: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("retry created a new entry: %s vs %s", second.ID, first.ID)
	}

	got, err := store.ReadInterventions("2026-08-10")
	if err != nil {
		t.Fatalf("ReadInterventions: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("log has %d entries after retry, want 1", len(got))
	}
}

func TestSubmitInterventionEnqueuesNormalizeJob(t *testing.T) {
	c, store := newTestCoordinator(t, 60, 1, retention.Policy{})
	c.normalize = true

	entry, err := c.SubmitIntervention("2026-08-10", storage.InterventionEntry{Time: "21:00", Raw: "  sauna  20min "})
	if err != nil {
		t.Fatalf("SubmitIntervention: %v", err)
	}

	job, err := store.ClaimNextJob("normalize")
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job == nil {
		t.Fatal("no normalize job enqueued")
	}
	if job.Payload != entry.ID {
		t.Errorf("job payload = %q, want entry ID %q", job.Payload, entry.ID)
	}
}

func TestRecomputeAdminEntryPoint(t *testing.T) {
	c, _ := newTestCoordinator(t, 60, 1, retention.Policy{})

	if _, err := c.Recompute(); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("empty store: expected ErrNotFound, got %v", err)
	}

	if _, err := c.SubmitMetrics("2026-08-10", map[string]float64{"hrv": 55}); err != nil {
		t.Fatalf("SubmitMetrics: %v", err)
	}
	b, err := c.Recompute()
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if b.Metrics["hrv"].Mean != 55 {
		t.Errorf("recomputed mean = %v", b.Metrics["hrv"].Mean)
	}
}

// flakySource serves a fixed value per date and fails the configured dates.
type flakySource struct {
	fail map[storage.Date]bool
}

func (f flakySource) Fetch(_ context.Context, date storage.Date) (map[string]float64, error) {
	if f.fail[date] {
		return nil, fmt.Errorf("export missing: %w", storage.ErrNotFound)
	}
	return map[string]float64{"hrv": 55}, nil
}

// TestBackfillToleratesPerDateFailures runs a 10-day backfill with one bad
// date and checks the other nine land.
func TestBackfillToleratesPerDateFailures(t *testing.T) {
	c, store := newTestCoordinator(t, 60, 1, retention.Policy{})

	source := flakySource{fail: map[storage.Date]bool{"2026-08-05": true}}
	summary, err := c.Backfill(context.Background(), "2026-08-01", "2026-08-10", source)
	if err != nil {
		t.Fatalf("Backfill: %v", err)
	}

	if len(summary.OK) != 9 {
		t.Errorf("ok count = %d, want 9", len(summary.OK))
	}
	if len(summary.Failed) != 1 || summary.Failed[0].Date != "2026-08-05" {
		t.Errorf("failed = %+v, want exactly 2026-08-05", summary.Failed)
	}

	if _, err := store.GetSnapshot("2026-08-05"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("failed date has a snapshot: %v", err)
	}
	if _, err := store.GetSnapshot("2026-08-10"); err != nil {
		t.Errorf("successful date missing: %v", err)
	}

	// The final recompute anchors on the newest landed date.
	b, err := store.GetBaseline()
	if err != nil {
		t.Fatalf("GetBaseline: %v", err)
	}
	if b.Metrics["hrv"].WindowEnd != "2026-08-10" {
		t.Errorf("window end = %s, want 2026-08-10", b.Metrics["hrv"].WindowEnd)
	}
	if b.Metrics["hrv"].SampleCount != 9 {
		t.Errorf("sample count = %d, want 9", b.Metrics["hrv"].SampleCount)
	}
}

func TestBackfillRejectsInvertedRange(t *testing.T) {
	c, _ := newTestCoordinator(t, 60, 1, retention.Policy{})

	if _, err := c.Backfill(context.Background(), "2026-08-10", "2026-08-01", flakySource{}); err == nil {
		t.Error("inverted range accepted")
	}
}

// TestBackfillReplaySafe runs the same backfill twice; the second pass is all
// idempotent no-ops.
func TestBackfillReplaySafe(t *testing.T) {
	c, store := newTestCoordinator(t, 60, 1, retention.Policy{})

	for i := 0; i < 2; i++ {
		summary, err := c.Backfill(context.Background(), "2026-08-01", "2026-08-05", flakySource{})
		if err != nil {
			t.Fatalf("Backfill pass %d: %v", i+1, err)
		}
		if len(summary.OK) != 5 || len(summary.Failed) != 0 {
			t.Errorf("pass %d: ok=%d failed=%d", i+1, len(summary.OK), len(summary.Failed))
		}
	}

	snaps, err := store.ListSnapshots("2026-08-01", "2026-08-05")
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(snaps) != 5 {
		t.Errorf("got %d snapshots after replay, want 5", len(snaps))
	}
}
