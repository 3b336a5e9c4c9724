package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/outline-importer/internal/jobs"
	"github.com/withObsrvr/outline-importer/internal/metrics"
)

var runFlags struct {
	remote     bool
	rows       int
	resume     string
	rateLimit  bool
	deep       bool
	boardKind  string
	metricsOff bool
}

var runCmd = &cobra.Command{
	Use:   "run [FILE]",
	Short: "Run one import in the foreground",
	Long: `Run one import and wait for it to finish. Ctrl-C stops the job after the
row in progress; resume it later with --resume.

Examples:
  outline-importer run plan.xlsx
  outline-importer run --remote https://example.com/plan.xlsx --rows 50
  outline-importer run --resume 1a2b3c4d`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.BoolVar(&runFlags.remote, "remote", false, "FILE is a URL (http, https, s3, gs, file)")
	f.IntVar(&runFlags.rows, "rows", 0, "process at most this many rows (partial run)")
	f.StringVar(&runFlags.resume, "resume", "", "resume the job with this id")
	f.BoolVar(&runFlags.rateLimit, "rate-limit", true, "sleep IMPORTER_ROW_DELAY between rows")
	f.BoolVar(&runFlags.deep, "deep", false, "import outline levels below the first sub-item level")
	f.StringVar(&runFlags.boardKind, "board-kind", "", "board kind: public, private or share")
	f.BoolVar(&runFlags.metricsOff, "no-metrics-server", false, "do not start the metrics server even if configured")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && runFlags.resume == "" {
		return fmt.Errorf("a FILE or --resume is required")
	}
	var fileRef string
	if len(args) == 1 {
		fileRef = args[0]
	}

	log := slog.With("component", "main")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Metrics.Enabled && cfg.Metrics.Address != "" && !runFlags.metricsOff {
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Address); err != nil {
				log.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	res, err := a.sup.Start(ctx, jobs.StartRequest{
		FileRef:            fileRef,
		Remote:             runFlags.remote,
		RowLimit:           runFlags.rows,
		ResumeJobID:        runFlags.resume,
		RespectRateLimit:   runFlags.rateLimit,
		LoadDeepAsSubitems: runFlags.deep,
		BoardKind:          runFlags.boardKind,
	})
	if err != nil {
		return err
	}
	if !res.Started {
		return errors.New(res.Message)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Job %s: %s\n", res.JobID, res.Message)

	done := make(chan error, 1)
	go func() { done <- a.sup.Wait(context.Background(), res.JobID) }()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		fmt.Fprintln(cmd.OutOrStdout(), "Stopping after the current row...")
		a.sup.Cancel(res.JobID)
		runErr = <-done
	}

	printStatus(cmd, a.sup.Status(context.Background(), res.JobID))
	if runErr != nil {
		return fmt.Errorf("job %s failed: %w", res.JobID, runErr)
	}
	return nil
}
