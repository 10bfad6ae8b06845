package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nkovacs/vitald/internal/storage"
)

// FileSource reads per-day snapshot exports from a directory laid out as
// <dir>/<YYYY-MM-DD>.json, each file a JSON object of metric name to value.
// This matches the raw export layout the device fetch job writes, which makes
// a directory of old exports directly backfillable.
type FileSource struct {
	Dir string
}

func (f FileSource) Fetch(_ context.Context, date storage.Date) (map[string]float64, error) {
	path := filepath.Join(f.Dir, date.String()+".json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: %w", path, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var metrics map[string]float64
	if err := json.Unmarshal(data, &metrics); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return metrics, nil
}
