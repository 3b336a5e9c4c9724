package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/outline-importer/internal/checkpoint"
	"github.com/withObsrvr/outline-importer/internal/config"
	"github.com/withObsrvr/outline-importer/internal/importer"
	"github.com/withObsrvr/outline-importer/internal/jobs"
	"github.com/withObsrvr/outline-importer/internal/logging"
	"github.com/withObsrvr/outline-importer/internal/metrics"
	"github.com/withObsrvr/outline-importer/internal/monday"
	"github.com/withObsrvr/outline-importer/internal/notify"
	"github.com/withObsrvr/outline-importer/internal/workspace"
)

var (
	configPath string

	cfg      config.Config
	closeLog func() error
)

var rootCmd = &cobra.Command{
	Use:   "outline-importer",
	Short: "Import outline spreadsheets into a monday.com board tree",
	Long: `outline-importer reads a project-plan spreadsheet with an outline level
column and creates the matching boards, groups, items and sub-items on
monday.com, one row at a time. Every job is checkpointed so a failed or
cancelled run resumes where it stopped.`,
	Version:       fmt.Sprintf("%s (%s)", importer.Version, importer.GitSHA),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded

		closeLog = logging.Setup(logging.Config{
			Format: cfg.Log.Format,
			Level:  cfg.Log.Level,
			File:   cfg.Log.File,
		})
		if cfg.Metrics.Enabled {
			metrics.Init(cfg.Metrics.Namespace)
		}
		slog.Debug("configuration loaded", "component", "main", "workspace", cfg.Workspace.Dir, "checkpoint_backend", cfg.Checkpoint.Backend)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if closeLog != nil {
			_ = closeLog()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (overrides environment; default $IMPORTER_CONFIG)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

var _ importer.Remote = (*monday.Client)(nil)

// app wires the importer's collaborators from configuration.
type app struct {
	store    checkpoint.Store
	stager   *workspace.Stager
	notifier notify.Notifier
	sup      *jobs.Supervisor
}

// newApp builds the supervisor. withRemote is false for commands that only
// inspect or purge storage and must work without an API key.
func newApp(ctx context.Context, withRemote bool) (*app, error) {
	store, err := checkpoint.NewStore(ctx, checkpoint.Config{
		Backend:     cfg.Checkpoint.Backend,
		Dir:         cfg.Checkpoint.Dir,
		PostgresDSN: cfg.Checkpoint.PostgresDSN,
	})
	if err != nil {
		return nil, fmt.Errorf("create checkpoint store: %w", err)
	}

	stager, err := workspace.New(workspace.Config{
		Dir:          cfg.Workspace.Dir,
		FetchTimeout: cfg.Workspace.FetchTimeout,
	}, store)
	if err != nil {
		closeStore(store)
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	var remote importer.Remote
	if withRemote {
		client, err := monday.NewClient(monday.Config{
			APIKey:            cfg.Monday.APIKey,
			Endpoint:          cfg.Monday.Endpoint,
			APIVersion:        cfg.Monday.APIVersion,
			Timeout:           cfg.Monday.Timeout,
			RequestsPerSecond: cfg.Monday.RequestsPerSecond,
			MaxRetries:        cfg.Monday.MaxRetries,
		})
		if err != nil {
			closeStore(store)
			return nil, err
		}
		remote = client
	}

	notifier := notify.New(notify.Config{
		Endpoint:  cfg.Notify.Endpoint,
		BackupDir: cfg.Notify.BackupDir,
	})

	sup := jobs.New(remote, store, stager, notifier, jobs.Config{
		RowDelay:           cfg.Import.RowDelay,
		BoardKind:          cfg.Import.BoardKind,
		LoadDeepAsSubitems: cfg.Import.LoadDeepAsSubitems,
		DateLayouts:        cfg.Import.DateLayouts,
		Columns: importer.ColumnNames{
			Name:                 cfg.Import.Columns.Name,
			Outline:              cfg.Import.Columns.Outline,
			Start:                cfg.Import.Columns.Start,
			Finish:               cfg.Import.Columns.Finish,
			Responsible:          cfg.Import.Columns.Responsible,
			SecondaryResponsible: cfg.Import.Columns.SecondaryResponsible,
		},
	})

	return &app{store: store, stager: stager, notifier: notifier, sup: sup}, nil
}

func (a *app) Close() {
	if err := a.notifier.Close(); err != nil {
		slog.Warn("failed to close notifier", "component", "main", "error", err)
	}
	closeStore(a.store)
}

func closeStore(store checkpoint.Store) {
	if c, ok := store.(interface{ Close() }); ok {
		c.Close()
	}
}
