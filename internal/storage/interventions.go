package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// AppendIntervention adds entry to the ordered log for its date. The append
// is a single INSERT, so two concurrent callers both land; there is no
// read-modify-write window to race through.
//
// When entry.RequestID is set and an entry with the same request ID already
// exists, the append is a no-op and the original entry is returned with
// deduped = true. Without a request ID duplicates are meaningful (two actual
// sauna sessions) and are always kept.
func (s *Store) AppendIntervention(entry InterventionEntry) (stored InterventionEntry, deduped bool, err error) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var requestID any
	if entry.RequestID != "" {
		requestID = entry.RequestID
	}

	res, err := s.db.Exec(`
		INSERT INTO interventions (id, date, tod, raw, normalized, request_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO NOTHING`,
		entry.ID, string(entry.Date), entry.Time, entry.Raw, entry.Normalized,
		requestID, entry.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return InterventionEntry{}, false, classify(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return InterventionEntry{}, false, err
	}
	if n == 0 {
		// Retried request: hand back the entry the first attempt stored.
		original, err := s.getInterventionByRequestID(entry.RequestID)
		if err != nil {
			return InterventionEntry{}, false, err
		}
		return original, true, nil
	}
	return entry, false, nil
}

// ReadInterventions returns the full ordered log for date, oldest first.
// An empty day yields an empty slice, not an error.
func (s *Store) ReadInterventions(date Date) ([]InterventionEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, date, tod, raw, normalized, request_id, created_at
		FROM interventions WHERE date = ? ORDER BY rowid ASC`,
		string(date),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []InterventionEntry{}
	for rows.Next() {
		e, err := scanIntervention(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ClearInterventions removes every entry for date. Clearing an empty day
// succeeds and leaves the log empty.
func (s *Store) ClearInterventions(date Date) error {
	_, err := s.db.Exec(`DELETE FROM interventions WHERE date = ?`, string(date))
	return classify(err)
}

// GetIntervention returns a single entry by ID.
func (s *Store) GetIntervention(id string) (InterventionEntry, error) {
	row := s.db.QueryRow(`
		SELECT id, date, tod, raw, normalized, request_id, created_at
		FROM interventions WHERE id = ?`, id)
	e, err := scanIntervention(row.Scan)
	if err == sql.ErrNoRows {
		return InterventionEntry{}, ErrNotFound
	}
	return e, err
}

// AttachNormalization sets the normalized text of an already-appended entry.
// Normalization is slow and external, so it may arrive well after the append;
// the raw text is never touched.
func (s *Store) AttachNormalization(id, normalized string) error {
	res, err := s.db.Exec(`UPDATE interventions SET normalized = ? WHERE id = ?`, normalized, id)
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) getInterventionByRequestID(requestID string) (InterventionEntry, error) {
	row := s.db.QueryRow(`
		SELECT id, date, tod, raw, normalized, request_id, created_at
		FROM interventions WHERE request_id = ?`, requestID)
	e, err := scanIntervention(row.Scan)
	if err == sql.ErrNoRows {
		return InterventionEntry{}, ErrNotFound
	}
	return e, err
}

func scanIntervention(scan func(...any) error) (InterventionEntry, error) {
	var e InterventionEntry
	var date, createdAt string
	var requestID sql.NullString
	if err := scan(&e.ID, &date, &e.Time, &e.Raw, &e.Normalized, &requestID, &createdAt); err != nil {
		return InterventionEntry{}, err
	}
	e.Date = Date(date)
	e.RequestID = requestID.String
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return InterventionEntry{}, fmt.Errorf("parsing created_at for entry %s: %w", e.ID, err)
	}
	e.CreatedAt = t
	return e, nil
}
