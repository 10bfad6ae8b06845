package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// ReplaceBaseline overwrites the singleton baseline record whole. Partial
// per-metric updates are deliberately not offered: readers must never observe
// a mix of two computations.
func (s *Store) ReplaceBaseline(b Baseline) error {
	metricsJSON, err := json.Marshal(b.Metrics)
	if err != nil {
		return fmt.Errorf("encoding baseline metrics: %w", err)
	}
	if b.ComputedAt.IsZero() {
		b.ComputedAt = time.Now().UTC()
	}
	_, err = s.db.Exec(`
		INSERT INTO baseline (id, computed_at, window_days, metrics)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			computed_at = excluded.computed_at,
			window_days = excluded.window_days,
			metrics = excluded.metrics`,
		b.ComputedAt.Format(time.RFC3339), b.WindowDays, string(metricsJSON),
	)
	return classify(err)
}

// GetBaseline returns the current baseline record, or ErrNotFound when no
// recompute has run yet.
func (s *Store) GetBaseline() (Baseline, error) {
	var computedAt, metricsJSON string
	var b Baseline
	err := s.db.QueryRow(`SELECT computed_at, window_days, metrics FROM baseline WHERE id = 1`).
		Scan(&computedAt, &b.WindowDays, &metricsJSON)
	if err == sql.ErrNoRows {
		return Baseline{}, ErrNotFound
	}
	if err != nil {
		return Baseline{}, err
	}
	if err := json.Unmarshal([]byte(metricsJSON), &b.Metrics); err != nil {
		return Baseline{}, fmt.Errorf("decoding baseline metrics: %w", err)
	}
	if b.ComputedAt, err = time.Parse(time.RFC3339, computedAt); err != nil {
		return Baseline{}, fmt.Errorf("parsing computed_at: %w", err)
	}
	return b, nil
}
