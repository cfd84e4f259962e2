package cmd

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/jobrunner/internal/observability"
	"github.com/3leaps/jobrunner/pkg/execution"
	"github.com/3leaps/jobrunner/pkg/runrecord"
)

var planOnly []string

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the worker invocations without running them",
	Long: `Resolve each selected job into the exact worker command line "run"
would execute, and print it. SQL text is elided to its size.

Source queries that reference files are read, so a missing SQL file shows up
here as it would at run time.

Examples:
  jobrunner plan --jobs jobs.psv
  jobrunner plan --only 'order*'`,
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.Flags().StringArrayVar(&planOnly, "only", nil, "Plan only jobs whose names match this glob (repeatable)")
}

func runPlan(_ *cobra.Command, _ []string) error {
	cfg := appConfig
	log := observability.CLILogger

	patterns := cfg.Jobs.Only
	if len(planOnly) > 0 {
		patterns = planOnly
	}
	specs, _, err := loadJobs(cfg.Jobs.File, patterns, log)
	if err != nil {
		return err
	}

	if _, err := exec.LookPath(cfg.Worker.Command[0]); err != nil {
		log.Warn("Worker command not found on PATH; run would fail", zap.String("command", cfg.Worker.Command[0]))
	}

	clock, err := runrecord.NewClock(cfg.Report.Timezone, cfg.Report.TimezoneLabel)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid report timezone", err)
	}
	engine := execution.NewEngine(engineConfig(cfg, nil), execution.NewWorkspace(cfg.Workspace.Dir), nil, clock, log)

	unavailable := 0
	for _, spec := range specs {
		inv, err := engine.Plan(spec)
		if err != nil {
			unavailable++
			_, _ = fmt.Fprintf(os.Stdout, "# %s\n#   error: %v\n\n", spec.Name, err)
			continue
		}
		_, _ = fmt.Fprintf(os.Stdout, "# %s\n%s\n\n", spec.Name, inv.Display())
	}

	if unavailable > 0 {
		return exitError(foundry.ExitFileReadError, "Some jobs cannot be planned",
			fmt.Errorf("%d of %d jobs failed to resolve", unavailable, len(specs)))
	}
	return nil
}
