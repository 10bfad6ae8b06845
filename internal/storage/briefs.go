package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// PutBrief stores a generated summary for a day, replacing any existing brief
// with the same date and kind.
func (s *Store) PutBrief(b Brief) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO briefs (date, kind, content, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(date, kind) DO UPDATE SET
			content = excluded.content,
			created_at = excluded.created_at`,
		string(b.Date), b.Kind, b.Content, b.CreatedAt.Format(time.RFC3339),
	)
	return classify(err)
}

// GetBrief returns the brief for a date and kind, or ErrNotFound.
func (s *Store) GetBrief(date Date, kind string) (Brief, error) {
	var content, createdAt string
	err := s.db.QueryRow(`SELECT content, created_at FROM briefs WHERE date = ? AND kind = ?`,
		string(date), kind).Scan(&content, &createdAt)
	if err == sql.ErrNoRows {
		return Brief{}, ErrNotFound
	}
	if err != nil {
		return Brief{}, err
	}
	b := Brief{Date: date, Kind: kind, Content: content}
	if b.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Brief{}, fmt.Errorf("parsing created_at for brief %s/%s: %w", date, kind, err)
	}
	return b, nil
}

// LatestBrief returns the most recent brief of the given kind.
func (s *Store) LatestBrief(kind string) (Brief, error) {
	var date, content, createdAt string
	err := s.db.QueryRow(`
		SELECT date, content, created_at FROM briefs
		WHERE kind = ? ORDER BY date DESC LIMIT 1`, kind).
		Scan(&date, &content, &createdAt)
	if err == sql.ErrNoRows {
		return Brief{}, ErrNotFound
	}
	if err != nil {
		return Brief{}, err
	}
	b := Brief{Date: Date(date), Kind: kind, Content: content}
	if b.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Brief{}, fmt.Errorf("parsing created_at for brief %s/%s: %w", date, kind, err)
	}
	return b, nil
}

// ListBriefs returns briefs of a kind with dates in [start, end], ascending.
func (s *Store) ListBriefs(kind string, start, end Date) ([]Brief, error) {
	rows, err := s.db.Query(`
		SELECT date, content, created_at FROM briefs
		WHERE kind = ? AND date >= ? AND date <= ? ORDER BY date ASC`,
		kind, string(start), string(end),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Brief
	for rows.Next() {
		var date, content, createdAt string
		if err := rows.Scan(&date, &content, &createdAt); err != nil {
			return nil, err
		}
		b := Brief{Date: Date(date), Kind: kind, Content: content}
		if b.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for brief %s/%s: %w", date, kind, err)
		}
		results = append(results, b)
	}
	return results, rows.Err()
}
