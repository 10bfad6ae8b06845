package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PutSnapshot stores snap as the record for its date, replacing any existing
// record whole. The previous snapshot is returned so callers can tell a fresh
// day from a correction; replaced is false when the date had no record.
//
// The read of the previous row and the upsert run in one transaction, so a
// reader sees either the old complete record or the new one, never a mix.
func (s *Store) PutSnapshot(snap Snapshot) (prev Snapshot, replaced bool, err error) {
	metricsJSON, err := json.Marshal(snap.Metrics)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("encoding metrics: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return Snapshot{}, false, classify(err)
	}
	defer tx.Rollback()

	var prevMetrics, prevCreated, prevUpdated string
	err = tx.QueryRow(`SELECT metrics, created_at, updated_at FROM snapshots WHERE date = ?`, string(snap.Date)).
		Scan(&prevMetrics, &prevCreated, &prevUpdated)
	switch {
	case err == sql.ErrNoRows:
		replaced = false
	case err != nil:
		return Snapshot{}, false, classify(err)
	default:
		prev, err = decodeSnapshot(snap.Date, prevMetrics, prevCreated, prevUpdated)
		if err != nil {
			return Snapshot{}, false, err
		}
		replaced = true
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = tx.Exec(`
		INSERT INTO snapshots (date, metrics, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET metrics = excluded.metrics, updated_at = excluded.updated_at`,
		string(snap.Date), string(metricsJSON), now, now,
	)
	if err != nil {
		return Snapshot{}, false, classify(err)
	}

	if err := tx.Commit(); err != nil {
		return Snapshot{}, false, classify(err)
	}
	return prev, replaced, nil
}

// GetSnapshot returns the snapshot for date, or ErrNotFound. It never
// synthesizes a zero-filled record: zero is a valid metric value.
func (s *Store) GetSnapshot(date Date) (Snapshot, error) {
	var metrics, created, updated string
	err := s.db.QueryRow(`SELECT metrics, created_at, updated_at FROM snapshots WHERE date = ?`, string(date)).
		Scan(&metrics, &created, &updated)
	if err == sql.ErrNoRows {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}
	return decodeSnapshot(date, metrics, created, updated)
}

// ListSnapshots returns the snapshots with dates in [start, end] inclusive,
// ascending by date. Dates with no record are absent from the result.
func (s *Store) ListSnapshots(start, end Date) ([]Snapshot, error) {
	rows, err := s.db.Query(`
		SELECT date, metrics, created_at, updated_at FROM snapshots
		WHERE date >= ? AND date <= ? ORDER BY date ASC`,
		string(start), string(end),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Snapshot
	for rows.Next() {
		var date, metrics, created, updated string
		if err := rows.Scan(&date, &metrics, &created, &updated); err != nil {
			return nil, err
		}
		snap, err := decodeSnapshot(Date(date), metrics, created, updated)
		if err != nil {
			return nil, err
		}
		results = append(results, snap)
	}
	return results, rows.Err()
}

// DeleteSnapshot removes the record for date. Deleting a non-existent date is
// not an error.
func (s *Store) DeleteSnapshot(date Date) error {
	_, err := s.db.Exec(`DELETE FROM snapshots WHERE date = ?`, string(date))
	return classify(err)
}

// LatestSnapshotDate returns the most recent date with a stored snapshot, or
// ErrNotFound when the store is empty.
func (s *Store) LatestSnapshotDate() (Date, error) {
	var date string
	err := s.db.QueryRow(`SELECT date FROM snapshots ORDER BY date DESC LIMIT 1`).Scan(&date)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return Date(date), nil
}

func decodeSnapshot(date Date, metricsJSON, created, updated string) (Snapshot, error) {
	snap := Snapshot{Date: date}
	if err := json.Unmarshal([]byte(metricsJSON), &snap.Metrics); err != nil {
		return Snapshot{}, fmt.Errorf("decoding metrics for %s: %w", date, err)
	}
	var err error
	if snap.CreatedAt, err = time.Parse(time.RFC3339, created); err != nil {
		return Snapshot{}, fmt.Errorf("parsing created_at for %s: %w", date, err)
	}
	if snap.UpdatedAt, err = time.Parse(time.RFC3339, updated); err != nil {
		return Snapshot{}, fmt.Errorf("parsing updated_at for %s: %w", date, err)
	}
	return snap, nil
}
