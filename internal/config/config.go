// Package config defines the vitald configuration surface.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the full process configuration.
type Config struct {
	// Addr is the HTTP listen address for the collaborator API.
	Addr string `koanf:"addr"`

	// APIToken protects every mutating endpoint. Required for serve.
	APIToken string `koanf:"api_token"`

	// DataDir holds the SQLite database.
	DataDir string `koanf:"data_dir"`

	// Timezone resolves "today" for CLI and API defaults. Store operations
	// themselves only ever see explicit dates.
	Timezone string `koanf:"timezone"`

	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	Baseline  BaselineConfig  `koanf:"baseline"`
	Retention RetentionConfig `koanf:"retention"`

	// Normalizer selects deferred intervention cleanup: "none" or "basic".
	Normalizer string `koanf:"normalizer"`
}

type BaselineConfig struct {
	// WindowDays is the trailing window the baseline is computed over.
	WindowDays int `koanf:"window_days"`

	// MinSamples is the fewest non-absent readings a metric needs before a
	// numeric baseline is reported instead of "insufficient data".
	MinSamples int `koanf:"min_samples"`

	// StdDev selects the deviation convention: "sample" (n-1) or "population".
	StdDev string `koanf:"stddev"`
}

type RetentionConfig struct {
	// Days per data class; 0 means unbounded.
	SnapshotDays     int `koanf:"snapshot_days"`
	InterventionDays int `koanf:"intervention_days"`
	BriefDays        int `koanf:"brief_days"`
}

func defaults() Config {
	return Config{
		Addr:       "127.0.0.1:7600",
		DataDir:    defaultDataDir(),
		Timezone:   "America/New_York",
		LogLevel:   "info",
		Normalizer: "none",
		Baseline: BaselineConfig{
			WindowDays: 60,
			MinSamples: 5,
			StdDev:     "sample",
		},
		Retention: RetentionConfig{
			SnapshotDays:     28,
			InterventionDays: 28,
			BriefDays:        28,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".vitald"
	}
	return filepath.Join(home, ".vitald")
}

// Location resolves the configured timezone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c Config) validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr must not be empty")
	}
	if c.Baseline.WindowDays <= 0 {
		return fmt.Errorf("baseline.window_days must be positive, got %d", c.Baseline.WindowDays)
	}
	if c.Baseline.MinSamples <= 0 {
		return fmt.Errorf("baseline.min_samples must be positive, got %d", c.Baseline.MinSamples)
	}
	if s := c.Baseline.StdDev; s != "sample" && s != "population" {
		return fmt.Errorf("baseline.stddev must be \"sample\" or \"population\", got %q", s)
	}
	if c.Retention.SnapshotDays < 0 || c.Retention.InterventionDays < 0 || c.Retention.BriefDays < 0 {
		return fmt.Errorf("retention days must not be negative")
	}
	if n := c.Normalizer; n != "none" && n != "basic" {
		return fmt.Errorf("normalizer must be \"none\" or \"basic\", got %q", n)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}
