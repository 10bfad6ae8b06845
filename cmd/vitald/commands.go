package main

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/nkovacs/vitald/internal/baseline"
	"github.com/nkovacs/vitald/internal/config"
	"github.com/nkovacs/vitald/internal/ingest"
	"github.com/nkovacs/vitald/internal/retention"
	"github.com/nkovacs/vitald/internal/storage"
)

// today resolves the current date in the configured home timezone.
func today(cfg config.Config) (storage.Date, error) {
	loc, err := cfg.Location()
	if err != nil {
		return "", err
	}
	return storage.DateOf(time.Now().In(loc)), nil
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vitald system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			printError("config error: %v", err)
			return nil
		}

		client := &http.Client{Timeout: 2 * time.Second}
		resp, err := client.Get("http://" + cfg.Addr + "/health")
		if err != nil {
			printStatus("Server", "stopped")
		} else {
			resp.Body.Close()
			if resp.StatusCode == 200 {
				printStatus("Server", "running on %s", cfg.Addr)
			} else {
				printStatus("Server", "error (HTTP %d)", resp.StatusCode)
			}
		}

		printStatus("Data dir", "%s", cfg.DataDir)
		printStatus("Timezone", "%s", cfg.Timezone)
		printStatus("Baseline window", "%d days (min %d samples, %s stddev)",
			cfg.Baseline.WindowDays, cfg.Baseline.MinSamples, cfg.Baseline.StdDev)
		printStatus("Retention", "snapshots %s, interventions %s, briefs %s",
			retentionLabel(cfg.Retention.SnapshotDays),
			retentionLabel(cfg.Retention.InterventionDays),
			retentionLabel(cfg.Retention.BriefDays))
		return nil
	},
}

func retentionLabel(days int) string {
	if days <= 0 {
		return "unbounded"
	}
	return fmt.Sprintf("%dd", days)
}

// --- log ---

var logCmd = &cobra.Command{
	Use:   "log <text>",
	Short: "Log an intervention for today",
	Long: `Log a free-text intervention entry.

Examples:
  vitald log "400mg magnesium glycinate"
  vitald log --date 2026-08-20 --time 21:30 "sauna, 20 min"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dateStr, _ := cmd.Flags().GetString("date")
		tod, _ := cmd.Flags().GetString("time")
		requestID, _ := cmd.Flags().GetString("request-id")

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		var date storage.Date
		if dateStr == "" {
			if date, err = today(cfg); err != nil {
				return err
			}
		} else if date, err = storage.ParseDate(dateStr); err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]string{"raw": args[0]}
		if tod != "" {
			body["time"] = tod
		}
		if requestID != "" {
			body["request_id"] = requestID
		}

		resp, err := client.post(cmd.Context(), "/days/"+date.String()+"/interventions", body)
		if err != nil {
			return err
		}
		var entry struct {
			ID   string `json:"id"`
			Time string `json:"time"`
		}
		if err := decodeJSON(resp, &entry); err != nil {
			return err
		}

		printSuccess("Logged at %s (%s)", entry.Time, date)
		return nil
	},
}

func init() {
	logCmd.Flags().String("date", "", "date to log against (default today)")
	logCmd.Flags().String("time", "", "time of day, HH:MM (default now)")
	logCmd.Flags().String("request-id", "", "idempotency key for safe retries")
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent daily snapshots and interventions",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		end, err := today(cfg)
		if err != nil {
			return err
		}
		start := end.AddDays(-(days - 1))

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/snapshots?start="+start.String()+"&end="+end.String())
		if err != nil {
			return err
		}
		var snaps []struct {
			Date    storage.Date       `json:"date"`
			Metrics map[string]float64 `json:"metrics"`
		}
		if err := decodeJSON(resp, &snaps); err != nil {
			return err
		}

		if len(snaps) == 0 {
			printWarning("no snapshots in the last %d days", days)
			return nil
		}
		for _, s := range snaps {
			fmt.Printf("%s\n", s.Date)
			names := make([]string, 0, len(s.Metrics))
			for name := range s.Metrics {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Printf("  %-24s %g\n", name, s.Metrics[name])
			}
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("days", 7, "number of trailing days to show")
}

// --- baseline ---

var baselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Show the current rolling baseline",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/baseline")
		if err != nil {
			return err
		}
		var b struct {
			ComputedAt string                         `json:"computed_at"`
			WindowDays int                            `json:"window_days"`
			Metrics    map[string]storage.MetricStats `json:"metrics"`
		}
		if err := decodeJSON(resp, &b); err != nil {
			return err
		}

		fmt.Printf("baseline over trailing %d days (computed %s)\n", b.WindowDays, b.ComputedAt)
		names := make([]string, 0, len(b.Metrics))
		for name := range b.Metrics {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			stats := b.Metrics[name]
			if stats.Insufficient {
				fmt.Printf("  %-24s insufficient data (%d samples)\n", name, stats.SampleCount)
				continue
			}
			fmt.Printf("  %-24s %.1f ± %.1f (n=%d)\n", name, stats.Mean, stats.StdDev, stats.SampleCount)
		}
		return nil
	},
}

// --- backfill ---

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Bulk-ingest historical snapshots from a directory of daily exports",
	Long: `Backfill snapshots for a date range from per-day JSON files
(<dir>/<YYYY-MM-DD>.json). Runs directly against the data directory;
stop the server first or point it at a different data dir.

A date that fails to load is reported and skipped; the rest of the
range still lands.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fromDir, _ := cmd.Flags().GetString("from")
		startStr, _ := cmd.Flags().GetString("start")
		endStr, _ := cmd.Flags().GetString("end")

		if fromDir == "" {
			return fmt.Errorf("--from directory is required")
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		start, err := storage.ParseDate(startStr)
		if err != nil {
			return err
		}
		var end storage.Date
		if endStr == "" {
			if end, err = today(cfg); err != nil {
				return err
			}
		} else if end, err = storage.ParseDate(endStr); err != nil {
			return err
		}

		store, err := storage.Open(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		engine := baseline.New(store, cfg.Baseline.WindowDays, cfg.Baseline.MinSamples, baseline.StdDevMode(cfg.Baseline.StdDev))
		ret := retention.New(store, retention.Policy{
			SnapshotDays:     cfg.Retention.SnapshotDays,
			InterventionDays: cfg.Retention.InterventionDays,
			BriefDays:        cfg.Retention.BriefDays,
		})
		coordinator := ingest.New(store, engine, ret, false)

		summary, err := coordinator.Backfill(cmd.Context(), start, end, ingest.FileSource{Dir: fromDir})
		if err != nil {
			return err
		}

		printSuccess("Backfilled %d days", len(summary.OK))
		for _, f := range summary.Failed {
			printWarning("%s: %v", f.Date, f.Err)
		}
		return nil
	},
}

func init() {
	backfillCmd.Flags().String("from", "", "directory of per-day JSON exports")
	backfillCmd.Flags().String("start", "", "first date to backfill (YYYY-MM-DD)")
	backfillCmd.Flags().String("end", "", "last date to backfill (default today)")
	backfillCmd.MarkFlagRequired("from")
	backfillCmd.MarkFlagRequired("start")
}

// --- prune ---

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Run a retention pass now",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/prune", nil)
		if err != nil {
			return err
		}
		var res map[string]int64
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		printSuccess("Pruned %d snapshots, %d interventions, %d briefs",
			res["snapshots"], res["interventions"], res["briefs"])
		return nil
	},
}
