// Package retry wraps the execution engine with bounded retries and
// exponential backoff.
package retry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/jobrunner/pkg/execution"
	"github.com/3leaps/jobrunner/pkg/jobspec"
	"github.com/3leaps/jobrunner/pkg/runrecord"
)

// Executor runs single attempts. *execution.Engine implements it.
type Executor interface {
	Execute(ctx context.Context, spec jobspec.JobSpec, attempt int) *execution.Attempt
	Discard(a *execution.Attempt)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Observer is notified of every attempt. final reports whether the
// controller will stop after this attempt.
type Observer func(a *execution.Attempt, final bool)

// Options configures a Controller.
type Options struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int

	// Backoff computes the wait before each retry. Nil means no wait.
	Backoff Strategy

	// Sleep overrides the wait; tests substitute a recorder.
	Sleep SleepFunc

	// OnAttempt observes every attempt, intermediate and final.
	OnAttempt Observer

	Logger *zap.Logger
}

// Run is the outcome of RunWithRetry.
type Run struct {
	// Final is the last attempt. Its artifacts are still on disk.
	Final *execution.Attempt

	// Records holds the RunRecord of every attempt, oldest first.
	Records []*runrecord.RunRecord
}

// Record returns the final attempt's RunRecord.
func (r *Run) Record() *runrecord.RunRecord {
	return r.Final.Record
}

// Attempts returns how many times the worker was attempted.
func (r *Run) Attempts() int {
	return len(r.Records)
}

// Controller retries failed attempts.
type Controller struct {
	exec Executor
	opts Options
	log  *zap.Logger
}

// New creates a controller around exec.
func New(exec Executor, opts Options) *Controller {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Sleep == nil {
		opts.Sleep = Sleep
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{exec: exec, opts: opts, log: log}
}

// RunWithRetry executes spec until it succeeds, fails in a way that is not
// retryable, or exhausts MaxRetries+1 attempts. Intermediate attempts have
// their local artifacts discarded; only the final attempt is returned for
// reporting.
//
// A cancelled attempt is never retried. If ctx is cancelled during a backoff
// wait the attempt that preceded the wait is returned as final.
func (c *Controller) RunWithRetry(ctx context.Context, spec jobspec.JobSpec) *Run {
	run := &Run{}
	total := c.opts.MaxRetries + 1

	for n := 1; ; n++ {
		a := c.exec.Execute(ctx, spec, n)
		run.Records = append(run.Records, a.Record)

		final := a.Result.OK() || !a.Result.Retryable() || n >= total || ctx.Err() != nil
		if c.opts.OnAttempt != nil {
			c.opts.OnAttempt(a, final)
		}
		if final {
			run.Final = a
			return run
		}

		delay := c.delay(n)
		c.log.Warn("Attempt failed, retrying",
			zap.String("job", spec.Name),
			zap.String("run_id", a.Record.RunID),
			zap.Int("attempt", n),
			zap.Int("max_attempts", total),
			zap.String("kind", string(a.Result.Kind)),
			zap.String("reason", a.Result.Reason),
			zap.Duration("backoff", delay),
		)
		if err := c.opts.Sleep(ctx, delay); err != nil {
			c.log.Warn("Retry abandoned", zap.String("job", spec.Name), zap.Error(err))
			run.Final = a
			return run
		}
		c.exec.Discard(a)
	}
}

func (c *Controller) delay(n int) time.Duration {
	if c.opts.Backoff == nil {
		return 0
	}
	return c.opts.Backoff.Delay(n)
}

// Sleep waits for d, returning ctx.Err() if ctx is done first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
