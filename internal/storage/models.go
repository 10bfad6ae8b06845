package storage

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write could not be serialized against a
// concurrent writer within the busy timeout. Callers may retry.
var ErrConflict = errors.New("write conflict")

// Date is a calendar day in ISO format (YYYY-MM-DD). ISO dates compare
// chronologically as strings, so Date values order correctly with <.
type Date string

// ParseDate validates s as a calendar date and returns it as a Date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: %w", s, err)
	}
	if canonical := t.Format("2006-01-02"); canonical != s {
		return "", fmt.Errorf("invalid date %q: want %s", s, canonical)
	}
	return Date(s), nil
}

// DateOf converts a time to the Date of its calendar day in t's location.
func DateOf(t time.Time) Date {
	return Date(t.Format("2006-01-02"))
}

// AddDays returns the date n days after d (n may be negative).
func (d Date) AddDays(n int) Date {
	t, _ := time.Parse("2006-01-02", string(d))
	return DateOf(t.AddDate(0, 0, n))
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool { return d < other }

func (d Date) String() string { return string(d) }

// Snapshot holds the biometric metric values recorded for one calendar day.
// A metric with no reading that day is simply absent from the map; absence is
// distinct from a zero value.
type Snapshot struct {
	Date      Date
	Metrics   map[string]float64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Equal reports whether two snapshots carry identical metric values.
// Timestamps are bookkeeping and do not participate.
func (s Snapshot) Equal(other Snapshot) bool {
	if s.Date != other.Date || len(s.Metrics) != len(other.Metrics) {
		return false
	}
	for k, v := range s.Metrics {
		ov, ok := other.Metrics[k]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

// InterventionEntry is one user-reported action for a day. Entries are
// immutable once appended; a correction is a new entry. Normalized may be
// attached after the append when cleanup is deferred.
type InterventionEntry struct {
	ID         string
	Date       Date
	Time       string // HH:MM, subject-local
	Raw        string
	Normalized string
	RequestID  string // optional caller-supplied idempotency key
	CreatedAt  time.Time
}

// MetricStats is the rolling statistic for one metric inside a Baseline.
// When Insufficient is true the window held fewer than the configured minimum
// number of readings and Mean/StdDev are meaningless.
type MetricStats struct {
	Mean         float64 `json:"mean"`
	StdDev       float64 `json:"std_dev"`
	SampleCount  int     `json:"sample_count"`
	WindowStart  Date    `json:"window_start"`
	WindowEnd    Date    `json:"window_end"`
	Insufficient bool    `json:"insufficient,omitempty"`
}

// Baseline is the process-wide rolling baseline record. It is always replaced
// whole so readers never observe a mix of two computations.
type Baseline struct {
	ComputedAt time.Time
	WindowDays int
	Metrics    map[string]MetricStats
}

// Brief is a generated per-day summary. Kind distinguishes multiple summaries
// for the same day (e.g. "morning", "evening").
type Brief struct {
	Date      Date      `json:"date"`
	Kind      string    `json:"kind"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Job is a unit of deferred work, currently only normalization of freshly
// appended intervention entries.
type Job struct {
	ID          string
	Type        string
	Payload     string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
