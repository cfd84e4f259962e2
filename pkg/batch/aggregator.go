// Package batch runs a list of jobs in order, one at a time, and accumulates
// the batch summary.
package batch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/jobrunner/pkg/execution"
	"github.com/3leaps/jobrunner/pkg/jobspec"
	"github.com/3leaps/jobrunner/pkg/lock"
	"github.com/3leaps/jobrunner/pkg/retry"
	"github.com/3leaps/jobrunner/pkg/runrecord"
)

// DefaultInterJobDelay sheds load on the shared catalog between jobs.
const DefaultInterJobDelay = 5 * time.Second

// Runner runs one job with retries. *retry.Controller implements it.
type Runner interface {
	RunWithRetry(ctx context.Context, spec jobspec.JobSpec) *retry.Run
}

// Reporter persists run artifacts. *report.Reporter implements it.
type Reporter interface {
	Report(ctx context.Context, a *execution.Attempt) error
	ReportBatch(ctx context.Context, batchID string, started time.Time, records []*runrecord.RunRecord) (string, error)
}

// Recorder keeps a local history of final runs. *runledger.Ledger
// implements it.
type Recorder interface {
	Record(ctx context.Context, batchID string, rec *runrecord.RunRecord) error
}

// Options configures an Aggregator.
type Options struct {
	// InterJobDelay is slept between jobs, never after the last one.
	InterJobDelay time.Duration

	// Sleep overrides the delay wait.
	Sleep retry.SleepFunc

	// Ledger, when set, receives every final RunRecord.
	Ledger Recorder

	Logger *zap.Logger
}

// Aggregator drives a batch.
type Aggregator struct {
	locks    lock.Manager
	runner   Runner
	reporter Reporter
	opts     Options
	log      *zap.Logger
}

// New creates an aggregator.
func New(locks lock.Manager, runner Runner, reporter Reporter, opts Options) *Aggregator {
	if opts.Sleep == nil {
		opts.Sleep = retry.Sleep
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{locks: locks, runner: runner, reporter: reporter, opts: opts, log: log}
}

// RunBatch runs specs in listed order. A job whose lock is busy is skipped,
// not queued. A failed job never stops the batch; cancellation of ctx does,
// before the next job starts, and the jobs not reached count as skipped.
//
// After the last job the per-attempt CSV run log is uploaded.
func (a *Aggregator) RunBatch(ctx context.Context, specs []jobspec.JobSpec) Summary {
	s := Summary{
		BatchID:   uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Total:     len(specs),
	}
	log := a.log.With(zap.String("batch_id", s.BatchID))
	log.Info("Starting batch", zap.Int("jobs", len(specs)))

	var records []*runrecord.RunRecord
	for i, spec := range specs {
		if err := ctx.Err(); err != nil {
			for _, rest := range specs[i:] {
				s.add(JobResult{Job: rest.Name, Outcome: OutcomeSkipped, Reason: "batch interrupted"})
			}
			log.Warn("Batch interrupted", zap.Int("not_started", len(specs)-i))
			break
		}

		result, recs := a.runJob(ctx, s.BatchID, spec, log)
		s.add(result)
		records = append(records, recs...)

		if i < len(specs)-1 && a.opts.InterJobDelay > 0 && result.Outcome != OutcomeSkipped {
			_ = a.opts.Sleep(ctx, a.opts.InterJobDelay)
		}
	}
	s.Wall = time.Since(s.StartedAt)

	if len(records) > 0 {
		uri, err := a.reporter.ReportBatch(ctx, s.BatchID, s.StartedAt, records)
		if err == nil {
			s.BatchLog = uri
		}
	}

	log.Info("Batch finished",
		zap.Int("total", s.Total),
		zap.Int("succeeded", s.Succeeded),
		zap.Int("failed", s.Failed),
		zap.Int("cancelled", s.Cancelled),
		zap.Int("skipped", s.Skipped),
		zap.Duration("wall", s.Wall),
		zap.Duration("sum_durations", s.SumDurations()),
	)
	return s
}

func (a *Aggregator) runJob(ctx context.Context, batchID string, spec jobspec.JobSpec, log *zap.Logger) (JobResult, []*runrecord.RunRecord) {
	log = log.With(zap.String("job", spec.Name))

	held, err := a.locks.TryAcquire(lock.Job(spec.Name))
	if err != nil {
		reason := "lock busy"
		if errors.Is(err, lock.ErrBusy) {
			log.Warn("Job already running, skipping")
		} else {
			reason = err.Error()
			log.Error("Failed to acquire job lock, skipping", zap.Error(err))
		}
		return JobResult{Job: spec.Name, Outcome: OutcomeSkipped, Reason: reason}, nil
	}
	defer func() {
		if err := held.Release(); err != nil {
			log.Warn("Failed to release job lock", zap.Error(err))
		}
	}()

	run := a.runner.RunWithRetry(ctx, spec)
	final := run.Record()

	// Failures are logged by the reporter and never change the job's status.
	_ = a.reporter.Report(ctx, run.Final)

	if a.opts.Ledger != nil {
		if err := a.opts.Ledger.Record(context.WithoutCancel(ctx), batchID, final); err != nil {
			log.Warn("Failed to record run in ledger", zap.Error(err))
		}
	}

	first := run.Records[0]
	return JobResult{
		Job:      spec.Name,
		Outcome:  outcomeOf(final.Status),
		RunID:    final.RunID,
		Status:   final.Status,
		Attempts: run.Attempts(),
		Duration: final.EndedAtUTC.Sub(first.StartedAtUTC),
		Reason:   final.Reason,
	}, run.Records
}
