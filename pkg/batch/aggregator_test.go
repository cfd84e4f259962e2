package batch

import (
	"context"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/jobrunner/pkg/execution"
	"github.com/3leaps/jobrunner/pkg/jobspec"
	"github.com/3leaps/jobrunner/pkg/lock"
	"github.com/3leaps/jobrunner/pkg/provider/file"
	"github.com/3leaps/jobrunner/pkg/report"
	"github.com/3leaps/jobrunner/pkg/retry"
	"github.com/3leaps/jobrunner/pkg/runledger"
	"github.com/3leaps/jobrunner/pkg/runrecord"
)

// scriptedLauncher fails the jobs named in failing and succeeds the rest.
type scriptedLauncher struct {
	mu      sync.Mutex
	failing map[string]bool
	calls   map[string]int
	onCall  func(job string)
}

func (l *scriptedLauncher) Launch(_ context.Context, inv execution.Invocation, stdout, stderr io.Writer, _ func(int)) (int, error) {
	job := ""
	for _, kv := range inv.Env {
		if v, ok := strings.CutPrefix(kv, execution.EnvJobName+"="); ok {
			job = v
		}
	}
	l.mu.Lock()
	l.calls[job]++
	l.mu.Unlock()
	if l.onCall != nil {
		l.onCall(job)
	}

	if l.failing[job] {
		_, _ = io.WriteString(stderr, "[ERROR] SCHEMA_NOT_FOUND: prod_silver\n")
		return 0, nil
	}
	_, _ = io.WriteString(stdout, "merged rows=10\n")
	return 0, nil
}

func spec(name string) jobspec.JobSpec {
	return jobspec.JobSpec{
		Name:              name,
		SourceSchema:      "public",
		SourceTable:       name,
		SourceQuery:       "SELECT * FROM public." + name,
		StagingLocation:   "s3://stg/" + name + "/",
		StagingTable:      "stg_" + name,
		TargetTable:       name + "_iceberg",
		PrimaryKeyColumns: []string{"id"},
		UpdatedAtColumn:   "updated_at",
	}
}

type harness struct {
	launcher *scriptedLauncher
	sink     *file.Provider
	locks    *lock.MemoryManager
	sleeps   []time.Duration
	agg      *Aggregator
}

func newHarness(t *testing.T, failing ...string) *harness {
	t.Helper()
	h := &harness{
		launcher: &scriptedLauncher{failing: map[string]bool{}, calls: map[string]int{}},
		locks:    lock.NewMemoryManager(),
	}
	for _, f := range failing {
		h.launcher.failing[f] = true
	}

	sink, err := file.New(file.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	h.sink = sink

	clock := runrecord.FixedClock(time.Now, time.FixedZone("WIB", 7*3600), "WIB")
	engine := execution.NewEngine(execution.Config{
		Defaults: execution.Defaults{Command: []string{"worker"}, Mode: "full-run", Dedupe: true},
		Policy:   execution.DefaultPolicy(),
	}, execution.NewWorkspace(t.TempDir()), h.launcher, clock, nil)

	sleep := func(_ context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}
	controller := retry.New(engine, retry.Options{MaxRetries: 1, Backoff: retry.NewExponential(time.Second, 0), Sleep: sleep})
	h.agg = New(h.locks, controller, report.New(sink, report.Options{}), Options{InterJobDelay: 5 * time.Second, Sleep: sleep})
	return h
}

func (h *harness) objects(t *testing.T, suffix string) []string {
	t.Helper()
	var out []string
	err := filepath.WalkDir(h.sink.BaseDir(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, suffix) {
			out = append(out, path)
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestRunBatch_OneJobFailsPermanently(t *testing.T) {
	h := newHarness(t, "job2")

	s := h.agg.RunBatch(context.Background(), []jobspec.JobSpec{spec("job1"), spec("job2"), spec("job3")})

	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.Succeeded)
	assert.Equal(t, 1, s.Failed)
	assert.Zero(t, s.Skipped)

	assert.Len(t, h.objects(t, "status.json"), 3, "one status document per job")
	assert.Len(t, h.objects(t, "_SUCCESS"), 2)
	assert.Len(t, h.objects(t, "_ERROR"), 1)
	assert.Len(t, h.objects(t, ".csv"), 1)
	assert.NotEmpty(t, s.BatchLog)

	assert.Equal(t, 2, h.launcher.calls["job2"], "maxRetries=1 means two attempts")
	assert.Equal(t, 1, h.launcher.calls["job1"])

	require.Len(t, s.Results, 3)
	assert.Equal(t, []string{"job1", "job2", "job3"}, []string{s.Results[0].Job, s.Results[1].Job, s.Results[2].Job})
	assert.Equal(t, OutcomeFailed, s.Results[1].Outcome)
	assert.Equal(t, 2, s.Results[1].Attempts)
	assert.Equal(t, runrecord.StatusErr, s.Results[1].Status)

	// Two inter-job delays plus one retry backoff.
	assert.ElementsMatch(t, []time.Duration{5 * time.Second, time.Second, 5 * time.Second}, h.sleeps)
	assert.False(t, h.locks.Held(lock.Job("job2")), "job locks are released")
}

func TestRunBatch_BusyLockSkipsJob(t *testing.T) {
	h := newHarness(t)
	held, err := h.locks.TryAcquire(lock.Job("job2"))
	require.NoError(t, err)
	defer func() { _ = held.Release() }()

	s := h.agg.RunBatch(context.Background(), []jobspec.JobSpec{spec("job1"), spec("job2"), spec("job3")})

	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.Succeeded)
	assert.Equal(t, 1, s.Skipped)
	assert.Zero(t, h.launcher.calls["job2"], "busy job is skipped, not queued")
	assert.Equal(t, OutcomeSkipped, s.Results[1].Outcome)
	assert.Equal(t, "lock busy", s.Results[1].Reason)
	assert.Len(t, h.objects(t, "status.json"), 2)
}

func TestRunBatch_CancellationStopsBeforeNextJob(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.launcher.onCall = func(job string) {
		if job == "job1" {
			cancel()
		}
	}

	s := h.agg.RunBatch(ctx, []jobspec.JobSpec{spec("job1"), spec("job2"), spec("job3")})

	assert.Equal(t, 1, h.launcher.calls["job1"])
	assert.Zero(t, h.launcher.calls["job2"])
	assert.Equal(t, 2, s.Skipped)
	assert.Equal(t, "batch interrupted", s.Results[2].Reason)
}

func TestRunBatch_RecordsLedger(t *testing.T) {
	h := newHarness(t, "job1")
	ledger, err := runledger.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer func() { _ = ledger.Close() }()
	h.agg.opts.Ledger = ledger

	s := h.agg.RunBatch(context.Background(), []jobspec.JobSpec{spec("job1")})

	entries, err := ledger.List(context.Background(), runledger.Query{})
	require.NoError(t, err)
	require.Len(t, entries, 1, "only the final attempt is recorded")
	assert.Equal(t, s.BatchID, entries[0].BatchID)
	assert.Equal(t, "ERR", entries[0].Status)
	assert.Equal(t, 2, entries[0].Attempt)
	assert.Equal(t, []time.Duration{time.Second}, h.sleeps, "retry backoff only, no delay after the last job")
}

func TestSummary_SumDurations(t *testing.T) {
	s := Summary{Results: []JobResult{{Duration: time.Second}, {Duration: 2 * time.Second}, {Outcome: OutcomeSkipped}}}
	assert.Equal(t, 3*time.Second, s.SumDurations())
}

func TestRunBatch_Empty(t *testing.T) {
	h := newHarness(t)
	s := h.agg.RunBatch(context.Background(), nil)
	assert.Zero(t, s.Total)
	assert.Empty(t, s.BatchLog)
	assert.Empty(t, h.objects(t, ".csv"))
}
