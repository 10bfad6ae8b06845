// Package retention enforces per-data-class age limits over the store.
package retention

import (
	"errors"
	"log/slog"

	"github.com/nkovacs/vitald/internal/storage"
)

// Policy maps each data class to a maximum age in days. Zero means unbounded:
// that class is never pruned. Policies are fixed at startup.
type Policy struct {
	SnapshotDays     int
	InterventionDays int
	BriefDays        int
}

// Pruner is the slice of the store the manager deletes through.
type Pruner interface {
	LatestSnapshotDate() (storage.Date, error)
	DeleteSnapshotsBefore(cutoff storage.Date) (int64, error)
	DeleteInterventionsBefore(cutoff storage.Date) (int64, error)
	DeleteBriefsBefore(cutoff storage.Date) (int64, error)
}

// Result reports what one prune pass removed.
type Result struct {
	Snapshots     int64
	Interventions int64
	Briefs        int64
}

// Manager runs prune passes after successful ingestion writes or on demand.
type Manager struct {
	store  Pruner
	policy Policy
	logger *slog.Logger
}

func New(store Pruner, policy Policy) *Manager {
	return &Manager{store: store, policy: policy, logger: slog.Default()}
}

// Prune deletes every record older than its class's retention window.
// Cutoffs anchor on the latest ingested snapshot date rather than the wall
// clock, so replaying a historical dataset prunes the same way every time.
// An empty store has no anchor and nothing to prune.
//
// Prune failures are reported but must not fail the ingestion write that
// triggered them; callers log the error and move on.
func (m *Manager) Prune() (Result, error) {
	var res Result

	latest, err := m.store.LatestSnapshotDate()
	if errors.Is(err, storage.ErrNotFound) {
		return res, nil
	}
	if err != nil {
		return res, err
	}

	var firstErr error
	keep := func(n int64, err error) int64 {
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return n
	}

	if m.policy.SnapshotDays > 0 {
		cutoff := latest.AddDays(-m.policy.SnapshotDays)
		res.Snapshots = keep(m.store.DeleteSnapshotsBefore(cutoff))
	}
	if m.policy.InterventionDays > 0 {
		cutoff := latest.AddDays(-m.policy.InterventionDays)
		res.Interventions = keep(m.store.DeleteInterventionsBefore(cutoff))
	}
	if m.policy.BriefDays > 0 {
		cutoff := latest.AddDays(-m.policy.BriefDays)
		res.Briefs = keep(m.store.DeleteBriefsBefore(cutoff))
	}

	if total := res.Snapshots + res.Interventions + res.Briefs; total > 0 {
		m.logger.Info("pruned expired records",
			"snapshots", res.Snapshots, "interventions", res.Interventions, "briefs", res.Briefs)
	}
	return res, firstErr
}
