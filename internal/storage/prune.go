package storage

// Bulk deletions used by the retention manager. Each returns the number of
// rows removed; deleting nothing is not an error.

// DeleteSnapshotsBefore removes every snapshot dated strictly before cutoff.
func (s *Store) DeleteSnapshotsBefore(cutoff Date) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM snapshots WHERE date < ?`, string(cutoff))
	if err != nil {
		return 0, classify(err)
	}
	return res.RowsAffected()
}

// DeleteInterventionsBefore removes every intervention entry dated strictly
// before cutoff.
func (s *Store) DeleteInterventionsBefore(cutoff Date) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM interventions WHERE date < ?`, string(cutoff))
	if err != nil {
		return 0, classify(err)
	}
	return res.RowsAffected()
}

// DeleteBriefsBefore removes every brief dated strictly before cutoff.
func (s *Store) DeleteBriefsBefore(cutoff Date) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM briefs WHERE date < ?`, string(cutoff))
	if err != nil {
		return 0, classify(err)
	}
	return res.RowsAffected()
}
