package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/jobrunner/pkg/runledger"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent runs from the local run ledger",
	Long: `List final job runs recorded in the local SQLite run ledger, newest first.

The ledger is written by "run" when ledger.path (JOBRUNNER_LEDGER_PATH) is
set. It holds one row per job run: the final attempt's status, attempt
number, duration and the uploaded log location.

Examples:
  jobrunner history
  jobrunner history --job orders --limit 10
  jobrunner history --status err --json`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().String("job", "", "Only show runs of this job")
	historyCmd.Flags().String("status", "", "Only show runs with this status (ok, err, cancelled)")
	historyCmd.Flags().Int("limit", runledger.DefaultLimit, "Maximum number of runs to show")
	historyCmd.Flags().Bool("json", false, "Output as JSON")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	job, _ := cmd.Flags().GetString("job")
	status, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	if appConfig.Ledger.Path == "" {
		return exitError(foundry.ExitInvalidArgument, "Run ledger is not configured",
			errors.New("set ledger.path or JOBRUNNER_LEDGER_PATH"))
	}
	if _, err := os.Stat(appConfig.Ledger.Path); err != nil {
		return exitError(foundry.ExitFileNotFound, "Run ledger not found", err)
	}
	if limit < 1 {
		return exitError(foundry.ExitInvalidArgument, "Invalid --limit value", fmt.Errorf("limit must be >= 1"))
	}

	ledger, err := runledger.Open(ctx, appConfig.Ledger.Path)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to open run ledger", err)
	}
	defer func() { _ = ledger.Close() }()

	entries, err := ledger.List(ctx, runledger.Query{Job: job, Status: status, Limit: limit})
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to query run ledger", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if entries == nil {
			entries = []runledger.Entry{}
		}
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		_, _ = fmt.Fprintln(os.Stderr, "No runs recorded")
		return nil
	}
	printHistoryTable(os.Stdout, entries)
	return nil
}

func printHistoryTable(out io.Writer, entries []runledger.Entry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "STARTED\tJOB\tSTATUS\tATTEMPT\tDURATION\tRUN ID\tREASON")
	for _, e := range entries {
		reason := e.Reason
		if reason == "" {
			reason = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.1fs\t%s\t%s\n",
			e.StartedAt.Format("2006-01-02 15:04:05Z"),
			e.Job,
			e.Status,
			e.Attempt,
			e.DurationSeconds,
			e.RunID,
			reason,
		)
	}
}
