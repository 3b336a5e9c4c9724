package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/outline-importer/internal/jobs"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status JOB_ID",
	Short: "Show the checkpointed state of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		report := a.sup.Status(cmd.Context(), args[0])
		if statusJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}
		if !report.Found {
			return errors.New(report.Message)
		}
		printStatus(cmd, report)
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the report as JSON")
	rootCmd.AddCommand(statusCmd)
}

func printStatus(cmd *cobra.Command, r jobs.StatusReport) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Job: %s\n", r.JobID)
	if !r.Found {
		fmt.Fprintf(out, "  %s\n", r.Message)
		return
	}
	fmt.Fprintf(out, "  State: %s\n", r.State)
	if r.Partial {
		fmt.Fprintln(out, "  Partial: yes")
	}
	if r.Total > 0 {
		fmt.Fprintf(out, "  Position: %d/%d\n", r.Position+1, r.Total)
	} else {
		fmt.Fprintf(out, "  Position: %d\n", r.Position)
	}
	if r.Error {
		fmt.Fprintf(out, "  Error: %s\n", r.Message)
	}
	if r.Ancestors.BoardID != "" {
		fmt.Fprintf(out, "  Board: %s\n", r.Ancestors.BoardID)
	}
	if r.Ancestors.GroupID != "" {
		fmt.Fprintf(out, "  Group: %s\n", r.Ancestors.GroupID)
	}
	if r.Ancestors.ItemID != "" {
		fmt.Fprintf(out, "  Item: %s\n", r.Ancestors.ItemID)
	}
	if r.StartedAt != nil {
		fmt.Fprintf(out, "  Started: %s\n", r.StartedAt.Format(time.RFC3339))
	}
	if r.FinishedAt != nil {
		fmt.Fprintf(out, "  Finished: %s\n", r.FinishedAt.Format(time.RFC3339))
	}
}
