package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/jobrunner/pkg/execution"
	"github.com/3leaps/jobrunner/pkg/jobspec"
	"github.com/3leaps/jobrunner/pkg/runrecord"
)

// fakeExecutor returns scripted results; the last result repeats.
type fakeExecutor struct {
	results   []execution.Result
	calls     int
	discarded []int
	clock     *runrecord.Clock
}

func newFakeExecutor(results ...execution.Result) *fakeExecutor {
	return &fakeExecutor{
		results: results,
		clock:   runrecord.FixedClock(time.Now, time.UTC, "UTC"),
	}
}

func (f *fakeExecutor) Execute(_ context.Context, spec jobspec.JobSpec, attempt int) *execution.Attempt {
	f.calls++
	res := f.results[len(f.results)-1]
	if f.calls <= len(f.results) {
		res = f.results[f.calls-1]
	}
	rec := runrecord.Start(f.clock, spec, attempt)
	exit := 0
	if !res.OK() {
		exit = 1
	}
	rec.Finish(f.clock, exit, res.Status(), string(res.Kind), res.Reason)
	return &execution.Attempt{Spec: spec, Record: rec, Result: res}
}

func (f *fakeExecutor) Discard(a *execution.Attempt) {
	f.discarded = append(f.discarded, a.Record.Attempt)
}

type sleepRecorder struct {
	delays []time.Duration
	err    error
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return s.err
}

var failing = execution.Failure(execution.KindWorkerFailure, "exit code 1")

func TestRunWithRetry_AlwaysFailing(t *testing.T) {
	exec := newFakeExecutor(failing)
	sleeper := &sleepRecorder{}
	c := New(exec, Options{MaxRetries: 1, Backoff: NewExponential(30*time.Second, 0), Sleep: sleeper.sleep})

	run := c.RunWithRetry(context.Background(), jobspec.JobSpec{Name: "orders"})

	assert.Equal(t, 2, exec.calls)
	assert.Equal(t, runrecord.StatusErr, run.Record().Status)
	assert.Equal(t, 2, run.Record().Attempt)
	assert.Equal(t, 2, run.Attempts())
	assert.Equal(t, []time.Duration{30 * time.Second}, sleeper.delays)
	assert.Equal(t, []int{1}, exec.discarded, "only the intermediate attempt is discarded")
}

func TestRunWithRetry_BackoffDoubles(t *testing.T) {
	exec := newFakeExecutor(failing)
	sleeper := &sleepRecorder{}
	c := New(exec, Options{MaxRetries: 3, Backoff: NewExponential(time.Second, 0), Sleep: sleeper.sleep})

	run := c.RunWithRetry(context.Background(), jobspec.JobSpec{Name: "orders"})

	assert.Equal(t, 4, exec.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sleeper.delays)
	assert.Len(t, run.Records, 4)
}

func TestRunWithRetry_SucceedsAfterFailure(t *testing.T) {
	exec := newFakeExecutor(
		execution.Failure(execution.KindMaskedFailure, "error signature"),
		execution.Success,
	)
	var observed []bool
	c := New(exec, Options{
		MaxRetries: 2,
		Sleep:      (&sleepRecorder{}).sleep,
		OnAttempt:  func(_ *execution.Attempt, final bool) { observed = append(observed, final) },
	})

	run := c.RunWithRetry(context.Background(), jobspec.JobSpec{Name: "orders"})

	assert.Equal(t, 2, exec.calls)
	assert.Equal(t, runrecord.StatusOK, run.Record().Status)
	assert.Equal(t, []bool{false, true}, observed)
	assert.Equal(t, runrecord.StatusErr, run.Records[0].Status)
}

func TestRunWithRetry_SuccessFirstTry(t *testing.T) {
	exec := newFakeExecutor(execution.Success)
	sleeper := &sleepRecorder{}
	c := New(exec, Options{MaxRetries: 2, Sleep: sleeper.sleep})

	run := c.RunWithRetry(context.Background(), jobspec.JobSpec{Name: "orders"})

	assert.Equal(t, 1, exec.calls)
	assert.Empty(t, sleeper.delays)
	assert.Empty(t, exec.discarded)
	assert.True(t, run.Final.Result.OK())
}

func TestRunWithRetry_CancelledNotRetried(t *testing.T) {
	exec := newFakeExecutor(execution.Failure(execution.KindCancelled, "interrupted by signal"))
	c := New(exec, Options{MaxRetries: 3, Sleep: (&sleepRecorder{}).sleep})

	run := c.RunWithRetry(context.Background(), jobspec.JobSpec{Name: "orders"})

	assert.Equal(t, 1, exec.calls)
	assert.Equal(t, runrecord.StatusCancelled, run.Record().Status)
}

func TestRunWithRetry_CancelDuringBackoff(t *testing.T) {
	exec := newFakeExecutor(failing)
	sleeper := &sleepRecorder{err: context.Canceled}
	c := New(exec, Options{MaxRetries: 3, Backoff: NewExponential(time.Minute, 0), Sleep: sleeper.sleep})

	run := c.RunWithRetry(context.Background(), jobspec.JobSpec{Name: "orders"})

	assert.Equal(t, 1, exec.calls)
	require.NotNil(t, run.Final)
	assert.Equal(t, 1, run.Record().Attempt)
	assert.Empty(t, exec.discarded, "the returned attempt keeps its artifacts")
}

func TestRunWithRetry_NegativeRetriesMeansOneAttempt(t *testing.T) {
	exec := newFakeExecutor(failing)
	c := New(exec, Options{MaxRetries: -4})

	c.RunWithRetry(context.Background(), jobspec.JobSpec{Name: "orders"})
	assert.Equal(t, 1, exec.calls)
}

func TestSleep(t *testing.T) {
	require.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Sleep(ctx, time.Hour)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRunWithRetry_SourceUnavailableRetried(t *testing.T) {
	exec := newFakeExecutor(execution.Failure(execution.KindSourceUnavailable, "sql/orders.sql: empty query file"))
	sleeper := &sleepRecorder{}
	c := New(exec, Options{MaxRetries: 2, Sleep: sleeper.sleep})

	run := c.RunWithRetry(context.Background(), jobspec.JobSpec{Name: "orders"})

	assert.Equal(t, 3, exec.calls)
	assert.Len(t, sleeper.delays, 2)
	assert.Equal(t, runrecord.StatusErr, run.Record().Status)
	assert.Equal(t, execution.KindSourceUnavailable, run.Final.Result.Kind)
}
