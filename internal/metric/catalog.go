// Package metric defines the fixed set of tracked biometric metrics and the
// physical ranges used to reject implausible readings before they are stored.
package metric

import (
	"fmt"
	"sort"
)

// Range bounds the physically plausible values for one metric. Values outside
// the range indicate an upstream extraction bug, not an unusual day.
type Range struct {
	Min float64
	Max float64
}

// catalog is the fixed enumerable metric set. It mirrors what the wearable's
// daily export actually produces; unknown names are rejected at ingestion.
var catalog = map[string]Range{
	// Sleep
	"sleep_score":           {0, 100},
	"deep_sleep_minutes":    {0, 600},
	"light_sleep_minutes":   {0, 900},
	"rem_sleep_minutes":     {0, 600},
	"total_sleep_minutes":   {0, 1440},
	"sleep_efficiency":      {0, 100},
	"latency_minutes":       {0, 360},
	"hrv":                   {1, 300},
	"restless_periods":      {0, 500},

	// Vitals
	"resting_hr":            {20, 150},
	"daytime_hr_avg":        {30, 220},
	"daytime_hr_min":        {20, 220},
	"daytime_hr_max":        {30, 250},
	"avg_breath":            {4, 40},
	"temperature_deviation": {-5, 5},

	// Recovery
	"readiness":     {0, 100},
	"stress_high":   {0, 1440},
	"recovery_high": {0, 1440},

	// Activity
	"activity_score":   {0, 100},
	"steps":            {0, 200000},
	"workout_count":    {0, 20},
	"workout_minutes":  {0, 1440},
	"workout_calories": {0, 20000},
}

// ValidationError reports a snapshot that was rejected before any write.
type ValidationError struct {
	Metric string
	Value  float64
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid metric %s=%g: %s", e.Metric, e.Value, e.Reason)
}

// Known reports whether name is part of the tracked metric set.
func Known(name string) bool {
	_, ok := catalog[name]
	return ok
}

// Names returns the tracked metric names in sorted order.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks every value in a snapshot's metric map against the catalog.
// The first offending metric is reported; nothing is written on failure.
func Validate(metrics map[string]float64) error {
	for name, value := range metrics {
		r, ok := catalog[name]
		if !ok {
			return &ValidationError{Metric: name, Value: value, Reason: "unknown metric"}
		}
		if value < r.Min || value > r.Max {
			return &ValidationError{
				Metric: name,
				Value:  value,
				Reason: fmt.Sprintf("outside physical range [%g, %g]", r.Min, r.Max),
			}
		}
	}
	return nil
}
