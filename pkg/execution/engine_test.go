package execution

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/jobrunner/pkg/runrecord"
)

// fakeLauncher writes canned output and returns a canned exit code.
type fakeLauncher struct {
	stdout   string
	stderr   string
	outcome  string
	exitCode int
	err      error
	block    bool

	calls   int
	lastInv Invocation
}

func (f *fakeLauncher) Launch(ctx context.Context, inv Invocation, stdout, stderr io.Writer, onStart func(pid int)) (int, error) {
	f.calls++
	f.lastInv = inv
	if onStart != nil {
		onStart(os.Getpid())
	}
	_, _ = io.WriteString(stdout, f.stdout)
	_, _ = io.WriteString(stderr, f.stderr)
	if f.outcome != "" {
		for _, kv := range inv.Env {
			if path, ok := strings.CutPrefix(kv, EnvOutcomeFile+"="); ok {
				_ = os.WriteFile(path, []byte(f.outcome), 0o644)
			}
		}
	}
	if f.block {
		<-ctx.Done()
		return -1, ctx.Err()
	}
	return f.exitCode, f.err
}

func testClock() *runrecord.Clock {
	return runrecord.FixedClock(time.Now, time.FixedZone("WIB", 7*3600), "WIB")
}

func newTestEngine(t *testing.T, l Launcher, mutate func(*Config)) (*Engine, *Workspace) {
	t.Helper()
	cfg := Config{Defaults: testDefaults(), Policy: DefaultPolicy(), SQLDir: t.TempDir()}
	if mutate != nil {
		mutate(&cfg)
	}
	ws := NewWorkspace(filepath.Join(t.TempDir(), "runs"))
	return NewEngine(cfg, ws, l, testClock(), nil), ws
}

func TestExecute_Success(t *testing.T) {
	l := &fakeLauncher{stdout: "Done.\n"}
	e, _ := newTestEngine(t, l, nil)

	spec := testSpec()
	spec.DedupeTiebreakers = "id,updated_at"
	a := e.Execute(context.Background(), spec, 1)

	assert.True(t, a.Result.OK(), a.Result.Reason)
	assert.Equal(t, runrecord.StatusOK, a.Record.Status)
	assert.Equal(t, 0, a.Record.ExitCode)
	assert.Equal(t, 1, l.calls)

	tb, ok := l.lastInv.Flag("--dedupe-tiebreakers")
	assert.True(t, ok)
	assert.Equal(t, "order_id,product_id,updated_at", tb)

	require.NotNil(t, a.Artifacts)
	st, err := a.Artifacts.ReadState()
	require.NoError(t, err)
	assert.Equal(t, AttemptFinished, st.State)
	assert.Equal(t, a.Record.RunID, st.RunID)

	e.Discard(a)
	_, err = os.Stat(a.Artifacts.Dir)
	assert.True(t, os.IsNotExist(err))
}

func TestExecute_MaskedFailure(t *testing.T) {
	l := &fakeLauncher{stderr: "[ERROR] SCHEMA_NOT_FOUND\n"}
	e, _ := newTestEngine(t, l, nil)

	a := e.Execute(context.Background(), testSpec(), 1)
	assert.Equal(t, KindMaskedFailure, a.Result.Kind)
	assert.Equal(t, runrecord.StatusErr, a.Record.Status)
	assert.Equal(t, 0, a.Record.ExitCode)
	assert.Equal(t, string(KindMaskedFailure), a.Record.FailureKind)
}

func TestExecute_WorkerFailure(t *testing.T) {
	l := &fakeLauncher{exitCode: 4, stderr: "[ERROR] PostgreSQL connection failed"}
	e, _ := newTestEngine(t, l, nil)

	a := e.Execute(context.Background(), testSpec(), 2)
	assert.Equal(t, KindWorkerFailure, a.Result.Kind)
	assert.Equal(t, 4, a.Record.ExitCode)
	assert.Equal(t, 2, a.Record.Attempt)
}

func TestExecute_LaunchError(t *testing.T) {
	l := &fakeLauncher{exitCode: -1, err: errors.New("start worker: executable file not found")}
	e, _ := newTestEngine(t, l, nil)

	a := e.Execute(context.Background(), testSpec(), 1)
	assert.Equal(t, KindWorkerFailure, a.Result.Kind)
	assert.Contains(t, readText(a.Artifacts.StderrPath()), "executable file not found")
}

func TestExecute_SourceUnavailable(t *testing.T) {
	l := &fakeLauncher{}
	e, _ := newTestEngine(t, l, nil)

	spec := testSpec()
	spec.SourceQuery = "@sql/missing.sql"
	a := e.Execute(context.Background(), spec, 1)

	assert.Equal(t, KindSourceUnavailable, a.Result.Kind)
	assert.True(t, errors.Is(a.Result.Err(), ErrSourceUnavailable))
	assert.Equal(t, 0, l.calls, "worker must not run without its SQL")
	assert.Contains(t, readText(a.Artifacts.StderrPath()), "source unavailable")
}

func TestExecute_StructuredOutcome(t *testing.T) {
	l := &fakeLauncher{outcome: `{"status":"success","rows_written":0}`}
	e, _ := newTestEngine(t, l, func(c *Config) { c.Policy.EmptyWriteIsFailure = true })

	a := e.Execute(context.Background(), testSpec(), 1)
	assert.Equal(t, KindMaskedFailure, a.Result.Kind)
	assert.Contains(t, a.Result.Reason, "zero rows")
}

func TestExecute_Cancelled(t *testing.T) {
	l := &fakeLauncher{block: true}
	e, _ := newTestEngine(t, l, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	a := e.Execute(ctx, testSpec(), 1)
	assert.Equal(t, KindCancelled, a.Result.Kind)
	assert.Equal(t, runrecord.StatusCancelled, a.Record.Status)
}

func TestExecute_Timeout(t *testing.T) {
	l := &fakeLauncher{block: true}
	e, _ := newTestEngine(t, l, func(c *Config) { c.Timeout = 20 * time.Millisecond })

	a := e.Execute(context.Background(), testSpec(), 1)
	assert.Equal(t, KindWorkerFailure, a.Result.Kind)
	assert.Equal(t, "timeout", a.Result.Reason)
}

func TestPlan(t *testing.T) {
	e, _ := newTestEngine(t, &fakeLauncher{}, nil)

	inv, err := e.Plan(testSpec())
	require.NoError(t, err)
	sql, _ := inv.Flag("--pg-sql")
	assert.Equal(t, "SELECT * FROM public.order_product", sql)

	spec := testSpec()
	spec.SourceQuery = "file:nope.sql"
	_, err = e.Plan(spec)
	assert.True(t, errors.Is(err, ErrSourceUnavailable))
}

func TestWorkspace_Stale(t *testing.T) {
	ws := NewWorkspace(t.TempDir())

	live, err := ws.Create("live")
	require.NoError(t, err)
	require.NoError(t, live.WriteState(&StateRecord{RunID: "live", State: AttemptRunning, OwnerPID: os.Getpid()}))

	dead, err := ws.Create("dead")
	require.NoError(t, err)
	require.NoError(t, dead.WriteState(&StateRecord{RunID: "dead", Job: "orders", State: AttemptRunning, OwnerPID: 0}))

	done, err := ws.Create("done")
	require.NoError(t, err)
	require.NoError(t, done.WriteState(&StateRecord{RunID: "done", State: AttemptFinished}))

	stale, err := ws.Stale()
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "dead", stale[0].RunID)

	require.NoError(t, ws.Remove("dead"))
	stale, err = ws.Stale()
	require.NoError(t, err)
	assert.Empty(t, stale)
}
