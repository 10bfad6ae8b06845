package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nkovacs/vitald/internal/api"
	"github.com/nkovacs/vitald/internal/baseline"
	"github.com/nkovacs/vitald/internal/config"
	"github.com/nkovacs/vitald/internal/enrich"
	"github.com/nkovacs/vitald/internal/ingest"
	"github.com/nkovacs/vitald/internal/retention"
	"github.com/nkovacs/vitald/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the vitald server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func logLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "vitald version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.APIToken == "" {
		return fmt.Errorf("missing required config: API token (set VITALD_API_TOKEN)")
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)})))

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	engine := baseline.New(store, cfg.Baseline.WindowDays, cfg.Baseline.MinSamples, baseline.StdDevMode(cfg.Baseline.StdDev))
	ret := retention.New(store, retention.Policy{
		SnapshotDays:     cfg.Retention.SnapshotDays,
		InterventionDays: cfg.Retention.InterventionDays,
		BriefDays:        cfg.Retention.BriefDays,
	})
	coordinator := ingest.New(store, engine, ret, cfg.Normalizer != "none")

	// Deferred normalization runs only when a normalizer is configured; raw
	// entries are complete records either way.
	if cfg.Normalizer == "basic" {
		worker := enrich.NewWorker(store, enrich.BasicNormalizer{}, 500*time.Millisecond)
		go worker.Run(ctx)
		slog.Info("normalization worker started", "normalizer", cfg.Normalizer)
	}

	handler := api.NewHandler(api.Deps{
		Store:       store,
		Coordinator: coordinator,
		Token:       cfg.APIToken,
		Location:    loc,
	})

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "vitald listening on %s\n", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
