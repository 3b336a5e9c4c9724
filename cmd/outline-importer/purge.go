package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/outline-importer/internal/jobs"
)

var purgeFlags struct {
	stale bool
	job   string
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete leftover job checkpoints and staged files",
	Long: `Delete job storage left behind by earlier runs. Partial and failed jobs keep
their checkpoint and staged file so they can be resumed; purge removes them.

Examples:
  outline-importer purge --stale       # every job directory on disk
  outline-importer purge --job 1a2b3c4d`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !purgeFlags.stale && purgeFlags.job == "" {
			return fmt.Errorf("one of --stale or --job is required")
		}

		a, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		res := a.sup.Purge(cmd.Context(), jobs.PurgeRequest{
			StaleStorage: purgeFlags.stale,
			JobID:        purgeFlags.job,
		})

		out := cmd.OutOrStdout()
		if res.Message != "" {
			fmt.Fprintln(out, res.Message)
		}
		fmt.Fprintf(out, "Removed %d job(s)", len(res.Storage))
		if len(res.Storage) > 0 {
			fmt.Fprintf(out, ": %s", strings.Join(res.Storage, ", "))
		}
		fmt.Fprintln(out)
		if len(res.Errors) > 0 {
			return fmt.Errorf("purge errors: %s", strings.Join(res.Errors, "; "))
		}
		return nil
	},
}

func init() {
	purgeCmd.Flags().BoolVar(&purgeFlags.stale, "stale", false, "remove storage of every job not running in this process")
	purgeCmd.Flags().StringVar(&purgeFlags.job, "job", "", "remove the storage of one job")
	rootCmd.AddCommand(purgeCmd)
}
