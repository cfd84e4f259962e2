package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/jobrunner/internal/observability"
	"github.com/3leaps/jobrunner/pkg/batch"
	"github.com/3leaps/jobrunner/pkg/execution"
	"github.com/3leaps/jobrunner/pkg/lock"
	"github.com/3leaps/jobrunner/pkg/retry"
	"github.com/3leaps/jobrunner/pkg/report"
	"github.com/3leaps/jobrunner/pkg/runledger"
	"github.com/3leaps/jobrunner/pkg/runrecord"
)

var (
	runOnly []string
	runKeep bool
	runJSON bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the job batch",
	Long: `Run every selected job in list order, one at a time.

A batch-wide lock keeps overlapping invocations (e.g. a slow cron run) from
starting a second batch; the later invocation logs a warning and exits 0.
Each job also takes its own lock, and a job whose lock is held is skipped.

Failed attempts are retried with exponential backoff. Every attempt is
reported to storage under:
  <prefix>/<job>/YYYY/MM/DD/<run_id>/run.log
  <prefix>/<job>/YYYY/MM/DD/<run_id>/_SUCCESS | _ERROR | _CANCELLED
  <prefix>/<job>/YYYY/MM/DD/<run_id>/monitoring/status.json
and a per-attempt CSV run log is written after the batch.

SIGINT/SIGTERM stop the batch: the running worker is signalled, reported as
CANCELLED, and no further job starts.

Job failures never change the exit code; only setup errors and interruption do.

Examples:
  # Run all jobs
  jobrunner run --jobs jobs.psv

  # Run a subset
  jobrunner run --only 'order*' --only payments

  # Keep local stdout/stderr artifacts for debugging
  jobrunner run --keep-artifacts`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringArrayVar(&runOnly, "only", nil, "Run only jobs whose names match this glob (repeatable)")
	runCmd.Flags().BoolVar(&runKeep, "keep-artifacts", false, "Keep local attempt artifacts after reporting")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the batch summary as JSON")
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg := appConfig
	log := observability.CLILogger

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	patterns := cfg.Jobs.Only
	if len(runOnly) > 0 {
		patterns = runOnly
	}
	specs, _, err := loadJobs(cfg.Jobs.File, patterns, log)
	if err != nil {
		log.Error("Failed to load job list", zap.String("file", cfg.Jobs.File), zap.Error(err))
		return err
	}
	if len(specs) == 0 {
		log.Warn("No jobs to run", zap.String("file", cfg.Jobs.File))
		return nil
	}

	locks, err := lock.NewFileManager(cfg.Lock.Dir)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to prepare lock directory", err)
	}
	global, err := locks.TryAcquire(lock.Global())
	if errors.Is(err, lock.ErrBusy) {
		log.Warn("Another batch is already running, exiting",
			zap.String("lock", locks.Path(lock.Global())))
		return nil
	}
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to take batch lock", err)
	}
	defer func() { _ = global.Release() }()

	ws := execution.NewWorkspace(cfg.Workspace.Dir)
	sweepStaleAttempts(ws, log)

	workerPath, err := exec.LookPath(cfg.Worker.Command[0])
	if err != nil {
		log.Error("Worker command not found", zap.String("command", cfg.Worker.Command[0]), zap.Error(err))
		return exitError(foundry.ExitFileNotFound, "Worker command not found", err)
	}
	command := append([]string{workerPath}, cfg.Worker.Command[1:]...)

	clock, err := runrecord.NewClock(cfg.Report.Timezone, cfg.Report.TimezoneLabel)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid report timezone", err)
	}

	sink, err := newSink(ctx, cfg.Storage)
	if err != nil {
		log.Error("Failed to create storage sink", zap.String("provider", cfg.Storage.Provider), zap.Error(err))
		return err
	}
	defer func() { _ = sink.Close() }()

	engine := execution.NewEngine(engineConfig(cfg, command), ws,
		execution.ExecLauncher{Grace: cfg.Worker.CancelGrace}, clock, log)
	controller := retry.New(engine, retryOptions(cfg, log))
	reporter := report.New(sink, reportOptions(cfg, runKeep, log))

	opts := batch.Options{InterJobDelay: cfg.Batch.InterJobDelay, Logger: log}
	if cfg.Ledger.Path != "" {
		ledger, err := runledger.Open(ctx, cfg.Ledger.Path)
		if err != nil {
			log.Warn("Run ledger unavailable, continuing without it",
				zap.String("path", cfg.Ledger.Path), zap.Error(err))
		} else {
			defer func() { _ = ledger.Close() }()
			opts.Ledger = ledger
		}
	}

	agg := batch.New(locks, controller, reporter, opts)
	summary := agg.RunBatch(ctx, specs)

	if runJSON {
		if err := printSummaryJSON(os.Stdout, &summary); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write summary", err)
		}
	} else {
		printSummaryTable(os.Stdout, &summary)
	}

	if summary.Interrupted() || ctx.Err() != nil {
		return exitError(foundry.ExitSignalInt, "Batch interrupted", context.Cause(ctx))
	}
	return nil
}

// sweepStaleAttempts removes artifacts of attempts whose orchestrator died.
func sweepStaleAttempts(ws *execution.Workspace, log *zap.Logger) {
	stale, err := ws.Stale()
	if err != nil {
		log.Warn("Failed to scan workspace for stale attempts", zap.String("dir", ws.Root()), zap.Error(err))
		return
	}
	for _, st := range stale {
		log.Warn("Removing abandoned attempt",
			zap.String("job", st.Job),
			zap.String("run_id", st.RunID),
			zap.Int("attempt", st.Attempt),
			zap.Int("pid", st.PID),
			zap.Time("started_at", st.StartedAt))
		if err := ws.Remove(st.RunID); err != nil {
			log.Warn("Failed to remove abandoned attempt", zap.String("run_id", st.RunID), zap.Error(err))
		}
	}
}

func printSummaryTable(out io.Writer, s *batch.Summary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "JOB\tOUTCOME\tSTATUS\tATTEMPTS\tDURATION\tREASON")
	for _, r := range s.Results {
		status := "-"
		if r.Status != "" {
			status = r.Status.DocumentStatus()
		}
		reason := r.Reason
		if reason == "" {
			reason = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			r.Job, r.Outcome, status, r.Attempts, formatDuration(r.Duration), reason)
	}
	_ = w.Flush()

	_, _ = fmt.Fprintf(out, "\nBatch %s: %d jobs, %d succeeded, %d failed, %d cancelled, %d skipped\n",
		s.BatchID, s.Total, s.Succeeded, s.Failed, s.Cancelled, s.Skipped)
	_, _ = fmt.Fprintf(out, "Wall time %s, job time %s\n", formatDuration(s.Wall), formatDuration(s.SumDurations()))
	if s.BatchLog != "" {
		_, _ = fmt.Fprintf(out, "Run log: %s\n", s.BatchLog)
	}
}

func printSummaryJSON(out io.Writer, s *batch.Summary) error {
	type jsonResult struct {
		Job             string  `json:"job"`
		Outcome         string  `json:"outcome"`
		RunID           string  `json:"run_id,omitempty"`
		Status          string  `json:"status,omitempty"`
		Attempts        int     `json:"attempts"`
		DurationSeconds float64 `json:"duration_seconds"`
		Reason          string  `json:"reason,omitempty"`
	}
	type jsonSummary struct {
		BatchID             string       `json:"batch_id"`
		StartedAt           string       `json:"started_at"`
		Total               int          `json:"total"`
		Succeeded           int          `json:"succeeded"`
		Failed              int          `json:"failed"`
		Cancelled           int          `json:"cancelled"`
		Skipped             int          `json:"skipped"`
		WallSeconds         float64      `json:"wall_seconds"`
		SumDurationsSeconds float64      `json:"sum_durations_seconds"`
		BatchLog            string       `json:"batch_log,omitempty"`
		Results             []jsonResult `json:"results"`
	}

	doc := jsonSummary{
		BatchID:             s.BatchID,
		StartedAt:           s.StartedAt.Format(time.RFC3339),
		Total:               s.Total,
		Succeeded:           s.Succeeded,
		Failed:              s.Failed,
		Cancelled:           s.Cancelled,
		Skipped:             s.Skipped,
		WallSeconds:         s.Wall.Seconds(),
		SumDurationsSeconds: s.SumDurations().Seconds(),
		BatchLog:            s.BatchLog,
		Results:             make([]jsonResult, 0, len(s.Results)),
	}
	for _, r := range s.Results {
		jr := jsonResult{
			Job:             r.Job,
			Outcome:         string(r.Outcome),
			RunID:           r.RunID,
			Attempts:        r.Attempts,
			DurationSeconds: r.Duration.Seconds(),
			Reason:          r.Reason,
		}
		if r.Status != "" {
			jr.Status = r.Status.DocumentStatus()
		}
		doc.Results = append(doc.Results, jr)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// formatDuration rounds to the second above a minute and to the
// millisecond below it.
func formatDuration(d time.Duration) string {
	if d >= time.Minute {
		return d.Round(time.Second).String()
	}
	return d.Round(time.Millisecond).String()
}
