package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/jobrunner/internal/observability"
	"github.com/3leaps/jobrunner/pkg/dedupe"
	"github.com/3leaps/jobrunner/pkg/jobspec"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the job list",
	Long: `Parse the job list and report every malformed row.

Valid jobs are printed with their primary key and the dedupe tiebreakers
the worker would receive. Malformed rows are listed on stderr with their
line number (or list index for YAML/TOML job lists).

Exits with an invalid-argument code if any row is malformed, so the
command can gate deployments of a new job list.

Examples:
  jobrunner validate --jobs jobs.psv
  jobrunner validate --jobs jobs.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(_ *cobra.Command, _ []string) error {
	cfg := appConfig

	specs, bad, err := loadJobs(cfg.Jobs.File, nil, observability.CLILogger)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "JOB\tSOURCE\tTARGET\tPRIMARY KEY\tDEDUPE\tTIEBREAKERS")
	for _, s := range specs {
		dedupeOn := s.DedupeEnabled.Resolve(cfg.Worker.Defaults.Dedupe)
		tiebreakers := "-"
		if dedupeOn {
			if resolved := dedupe.Resolve(s.DedupeTiebreakers, s.PrimaryKeyColumns, s.UpdatedAtColumn); len(resolved) > 0 {
				tiebreakers = dedupe.Join(resolved)
			}
		}
		_, _ = fmt.Fprintf(w, "%s\t%s.%s\t%s\t%s\t%t\t%s\n",
			s.Name, s.SourceSchema, s.SourceTable, s.TargetTable, s.PrimaryKey(), dedupeOn, tiebreakers)
	}
	_ = w.Flush()

	if len(bad) == 0 {
		_, _ = fmt.Fprintf(os.Stdout, "\n%d jobs OK\n", len(specs))
		return nil
	}

	_, _ = fmt.Fprintf(os.Stderr, "\n%d malformed rows:\n", len(bad))
	for _, b := range bad {
		_, _ = fmt.Fprintf(os.Stderr, "  %s\n", b.Error())
	}
	return exitError(foundry.ExitInvalidArgument, "Job list has malformed rows",
		fmt.Errorf("%d malformed: %s", len(bad), strings.Join(badLines(bad), ", ")))
}

func badLines(bad []*jobspec.MalformedRowError) []string {
	out := make([]string, 0, len(bad))
	for _, b := range bad {
		out = append(out, fmt.Sprintf("line %d", b.Line))
	}
	return out
}
