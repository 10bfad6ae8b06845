// Package api exposes the store's operation set over local HTTP for the
// external collaborators (fetch job, chat agent, brief generator). The wire
// surface is a thin translation layer; all semantics live in ingest and
// storage.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nkovacs/vitald/internal/ingest"
	"github.com/nkovacs/vitald/internal/metric"
	"github.com/nkovacs/vitald/internal/obs"
	"github.com/nkovacs/vitald/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// ReadStore is the query side handed to the handlers. Collaborators read
// snapshots, logs, the baseline, and briefs directly; they never write around
// the coordinator.
type ReadStore interface {
	GetSnapshot(date storage.Date) (storage.Snapshot, error)
	ListSnapshots(start, end storage.Date) ([]storage.Snapshot, error)
	ReadInterventions(date storage.Date) ([]storage.InterventionEntry, error)
	ClearInterventions(date storage.Date) error
	AttachNormalization(id, normalized string) error
	GetBaseline() (storage.Baseline, error)
	PutBrief(b storage.Brief) error
	GetBrief(date storage.Date, kind string) (storage.Brief, error)
	LatestBrief(kind string) (storage.Brief, error)
}

type Deps struct {
	Store       ReadStore
	Coordinator *ingest.Coordinator
	Token       string
	Location    *time.Location
}

// NewHandler builds the collaborator-facing router. /health and /metrics are
// open; everything else sits behind bearer auth.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(obs.Registry(), promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Put("/days/{date}/snapshot", handlePutSnapshot(deps))
		r.Get("/days/{date}/snapshot", handleGetSnapshot(deps))
		r.Get("/snapshots", handleListSnapshots(deps))

		r.Post("/days/{date}/interventions", handleAppendIntervention(deps))
		r.Get("/days/{date}/interventions", handleReadInterventions(deps))
		r.Delete("/days/{date}/interventions", handleClearInterventions(deps))
		r.Post("/interventions/{id}/normalization", handleAttachNormalization(deps))

		r.Get("/baseline", handleGetBaseline(deps))
		r.Post("/baseline/recompute", handleRecompute(deps))
		r.Post("/prune", handlePrune(deps))

		r.Put("/days/{date}/brief", handlePutBrief(deps))
		r.Get("/days/{date}/brief", handleGetBrief(deps))
		r.Get("/briefs/latest", handleLatestBrief(deps))
	})

	return r
}

type snapshotRequest struct {
	Metrics map[string]float64 `json:"metrics"`
}

type snapshotResponse struct {
	Date    storage.Date       `json:"date"`
	Metrics map[string]float64 `json:"metrics"`
}

func handlePutSnapshot(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date, ok := datePathParam(w, r)
		if !ok {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req snapshotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Metrics == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "metrics is required")
			return
		}

		res, err := deps.Coordinator.SubmitMetrics(date, req.Metrics)
		if err != nil {
			writeCoordinatorError(w, err)
			return
		}

		writeJSON(w, map[string]any{
			"date":       date,
			"changed":    res.Changed,
			"fresh_day":  res.FreshDay,
			"recomputed": res.Recomputed,
		})
	}
}

func handleGetSnapshot(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date, ok := datePathParam(w, r)
		if !ok {
			return
		}

		snap, err := deps.Store.GetSnapshot(date)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "no snapshot for %s", date)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get snapshot: %v", err)
			return
		}
		writeJSON(w, snapshotResponse{Date: snap.Date, Metrics: snap.Metrics})
	}
}

func handleListSnapshots(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start, err := storage.ParseDate(r.URL.Query().Get("start"))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid start: %v", err)
			return
		}
		end, err := storage.ParseDate(r.URL.Query().Get("end"))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid end: %v", err)
			return
		}

		snaps, err := deps.Store.ListSnapshots(start, end)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list snapshots: %v", err)
			return
		}

		out := make([]snapshotResponse, 0, len(snaps))
		for _, s := range snaps {
			out = append(out, snapshotResponse{Date: s.Date, Metrics: s.Metrics})
		}
		writeJSON(w, out)
	}
}

type interventionRequest struct {
	Time       string `json:"time"`
	Raw        string `json:"raw"`
	Normalized string `json:"normalized,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

type interventionResponse struct {
	ID         string       `json:"id"`
	Date       storage.Date `json:"date"`
	Time       string       `json:"time"`
	Raw        string       `json:"raw"`
	Normalized string       `json:"normalized,omitempty"`
}

func handleAppendIntervention(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date, ok := datePathParam(w, r)
		if !ok {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req interventionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Time == "" {
			req.Time = time.Now().In(deps.Location).Format("15:04")
		}

		entry := storage.InterventionEntry{
			Time:       req.Time,
			Raw:        req.Raw,
			Normalized: req.Normalized,
			RequestID:  req.RequestID,
		}
		stored, err := deps.Coordinator.SubmitIntervention(date, entry)
		if err != nil {
			writeCoordinatorError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(toInterventionResponse(stored))
	}
}

func handleReadInterventions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date, ok := datePathParam(w, r)
		if !ok {
			return
		}

		entries, err := deps.Store.ReadInterventions(date)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read interventions: %v", err)
			return
		}

		out := make([]interventionResponse, 0, len(entries))
		for _, e := range entries {
			out = append(out, toInterventionResponse(e))
		}
		writeJSON(w, out)
	}
}

func handleClearInterventions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date, ok := datePathParam(w, r)
		if !ok {
			return
		}

		if err := deps.Store.ClearInterventions(date); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to clear interventions: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "cleared"})
	}
}

func handleAttachNormalization(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Text == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
			return
		}

		err := deps.Store.AttachNormalization(id, req.Text)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "intervention entry not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to attach normalization: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "attached"})
	}
}

func handleGetBaseline(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := deps.Store.GetBaseline()
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "no baseline computed yet")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get baseline: %v", err)
			return
		}
		writeJSON(w, map[string]any{
			"computed_at": b.ComputedAt.Format(time.RFC3339),
			"window_days": b.WindowDays,
			"metrics":     b.Metrics,
		})
	}
}

func handleRecompute(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := deps.Coordinator.Recompute()
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "no snapshots stored yet")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "recompute failed: %v", err)
			return
		}
		writeJSON(w, map[string]any{"status": "recomputed", "metrics": len(b.Metrics)})
	}
}

func handlePrune(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Coordinator.Prune()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "prune failed: %v", err)
			return
		}
		writeJSON(w, map[string]int64{
			"snapshots":     res.Snapshots,
			"interventions": res.Interventions,
			"briefs":        res.Briefs,
		})
	}
}

func handlePutBrief(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date, ok := datePathParam(w, r)
		if !ok {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Kind    string `json:"kind"`
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Kind == "" {
			req.Kind = "morning"
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}

		if err := deps.Store.PutBrief(storage.Brief{Date: date, Kind: req.Kind, Content: req.Content}); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to store brief: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "stored"})
	}
}

func handleGetBrief(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date, ok := datePathParam(w, r)
		if !ok {
			return
		}
		kind := r.URL.Query().Get("kind")
		if kind == "" {
			kind = "morning"
		}

		b, err := deps.Store.GetBrief(date, kind)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "no %s brief for %s", kind, date)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get brief: %v", err)
			return
		}
		writeJSON(w, b)
	}
}

func handleLatestBrief(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind := r.URL.Query().Get("kind")
		if kind == "" {
			kind = "morning"
		}

		b, err := deps.Store.LatestBrief(kind)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "no %s briefs stored yet", kind)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get brief: %v", err)
			return
		}
		writeJSON(w, b)
	}
}

func toInterventionResponse(e storage.InterventionEntry) interventionResponse {
	return interventionResponse{
		ID:         e.ID,
		Date:       e.Date,
		Time:       e.Time,
		Raw:        e.Raw,
		Normalized: e.Normalized,
	}
}

func datePathParam(w http.ResponseWriter, r *http.Request) (storage.Date, bool) {
	date, err := storage.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return "", false
	}
	return date, true
}

// writeCoordinatorError maps the coordinator's error taxonomy onto HTTP.
func writeCoordinatorError(w http.ResponseWriter, err error) {
	var verr *metric.ValidationError
	switch {
	case errors.As(err, &verr):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", verr)
	case errors.Is(err, storage.ErrConflict):
		httpError(w, http.StatusConflict, "conflict", "concurrent write, retry: %v", err)
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
