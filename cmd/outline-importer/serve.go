package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/outline-importer/internal/api"
	"github.com/withObsrvr/outline-importer/internal/importer"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the import job HTTP API",
	Long: `Serve the job control API:

  POST /imports              start or resume an import
  GET  /imports              list jobs known to this process
  GET  /imports/{id}         job status (falls back to the checkpoint)
  POST /imports/{id}/cancel  stop a job after its current row
  POST /imports/purge        drop inactive handles and stale job storage
  GET  /health, /metrics`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from IMPORTER_SERVER_ADDR)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	log := slog.With("component", "main")
	log.Info("starting outline importer", "version", importer.Version, "git_sha", importer.GitSHA)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	srv := &http.Server{
		Addr: addr,
		Handler: api.New(a.sup, api.Options{
			Version:        importer.Version,
			MetricsEnabled: cfg.Metrics.Enabled,
		}).Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown", "error", err)
	}
	// Running jobs stop after their current row and keep their checkpoints.
	if err := a.sup.Shutdown(shutdownCtx); err != nil {
		log.Warn("jobs did not stop in time", "error", err)
	}

	log.Info("outline importer stopped cleanly")
	return nil
}
