package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nkovacs/vitald/internal/storage"
)

// EntryStore is the slice of the store the worker reads and writes.
type EntryStore interface {
	ClaimNextJob(jobType string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetIntervention(id string) (storage.InterventionEntry, error)
	AttachNormalization(id, normalized string) error
}

// Worker drains normalize jobs from the queue and attaches the result to the
// entry that spawned them.
type Worker struct {
	store      EntryStore
	normalizer Normalizer
	poll       time.Duration
	logger     *slog.Logger
}

// NewWorker creates a Worker. If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store EntryStore, normalizer Normalizer, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:      store,
		normalizer: normalizer,
		poll:       pollInterval,
		logger:     slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single normalize job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob("normalize")
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("normalize job failed", "job_id", job.ID, "entry_id", job.Payload, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	entry, err := w.store.GetIntervention(job.Payload)
	if err != nil {
		return fmt.Errorf("loading entry %s: %w", job.Payload, err)
	}
	if entry.Normalized != "" {
		return nil // normalization arrived through another path
	}

	normalized, err := w.normalizer.Normalize(ctx, entry.Raw)
	if err != nil {
		return fmt.Errorf("normalizing: %w", err)
	}
	if normalized == "" || normalized == entry.Raw {
		return nil
	}

	if err := w.store.AttachNormalization(entry.ID, normalized); err != nil {
		return fmt.Errorf("attaching normalization: %w", err)
	}
	return nil
}
