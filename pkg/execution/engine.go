package execution

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/jobrunner/pkg/dedupe"
	"github.com/3leaps/jobrunner/pkg/jobspec"
	"github.com/3leaps/jobrunner/pkg/runrecord"
)

// Environment variables passed to every worker.
const (
	EnvOutcomeFile = "JOBRUNNER_OUTCOME_FILE"
	EnvRunID       = "JOBRUNNER_RUN_ID"
	EnvJobName     = "JOBRUNNER_JOB"
)

// Config configures the engine.
type Config struct {
	Defaults Defaults
	Policy   Policy

	// SQLDir resolves relative SQL file references.
	SQLDir string

	// Timeout bounds a single attempt. Zero means no limit.
	Timeout time.Duration
}

// Attempt is the product of one Execute call. The RunRecord is finished; the
// artifacts stay on disk until the caller discards or reports them.
type Attempt struct {
	Spec       jobspec.JobSpec
	Record     *runrecord.RunRecord
	Result     Result
	Invocation Invocation

	// Artifacts is nil when the artifact directory could not be created.
	Artifacts *RunDir
}

// Engine executes job attempts.
type Engine struct {
	cfg       Config
	workspace *Workspace
	launcher  Launcher
	clock     *runrecord.Clock
	logger    *zap.Logger
}

// NewEngine creates an engine. A nil logger discards log output.
func NewEngine(cfg Config, ws *Workspace, launcher Launcher, clock *runrecord.Clock, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, workspace: ws, launcher: launcher, clock: clock, logger: logger}
}

// Plan resolves spec into the invocation Execute would run, without running it.
func (e *Engine) Plan(spec jobspec.JobSpec) (Invocation, error) {
	sql, err := ResolveSource(spec.SourceQuery, e.cfg.SQLDir)
	if err != nil {
		return Invocation{}, &AttemptError{Kind: KindSourceUnavailable, Reason: err.Error()}
	}
	tiebreakers := dedupe.Resolve(spec.DedupeTiebreakers, spec.PrimaryKeyColumns, spec.UpdatedAtColumn)
	return BuildInvocation(spec, sql, tiebreakers, e.cfg.Defaults)
}

// Execute runs one attempt of spec. It never returns an error: every failure
// is folded into the attempt's Result and RunRecord.
func (e *Engine) Execute(ctx context.Context, spec jobspec.JobSpec, attempt int) *Attempt {
	rec := runrecord.Start(e.clock, spec, attempt)
	a := &Attempt{Spec: spec, Record: rec}
	log := e.logger.With(zap.String("job", spec.Name), zap.String("run_id", rec.RunID), zap.Int("attempt", attempt))

	dir, err := e.workspace.Create(rec.RunID)
	if err != nil {
		return e.finish(a, -1, Failure(KindWorkerFailure, "workspace: %v", err), log)
	}
	a.Artifacts = dir

	inv, err := e.Plan(spec)
	if err != nil {
		var ae *AttemptError
		if errors.As(err, &ae) {
			e.note(dir, "source unavailable: %s", ae.Reason)
			return e.finish(a, -1, Result{Kind: ae.Kind, Reason: ae.Reason}, log)
		}
		e.note(dir, "invalid invocation: %v", err)
		return e.finish(a, -1, Failure(KindWorkerFailure, "invocation: %v", err), log)
	}
	inv.Env = append(inv.Env,
		EnvOutcomeFile+"="+dir.OutcomePath(),
		EnvRunID+"="+rec.RunID,
		EnvJobName+"="+spec.Name,
	)
	a.Invocation = inv

	exitCode, ev, err := e.launch(ctx, a, dir, log)
	if err != nil && !ev.Cancelled && !ev.TimedOut {
		e.note(dir, "%v", err)
		return e.finish(a, exitCode, Failure(KindWorkerFailure, "%v", err), log)
	}

	ev.Stdout = readText(dir.StdoutPath())
	ev.Stderr = readText(dir.StderrPath())
	ev.Outcome = dir.ReadOutcome()

	return e.finish(a, exitCode, Classify(ev, e.cfg.Policy), log)
}

func (e *Engine) launch(ctx context.Context, a *Attempt, dir *RunDir, log *zap.Logger) (int, Evidence, error) {
	var ev Evidence

	stdout, err := os.Create(dir.StdoutPath())
	if err != nil {
		return -1, ev, fmt.Errorf("create stdout log: %w", err)
	}
	defer func() { _ = stdout.Close() }()
	stderr, err := os.OpenFile(dir.StderrPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return -1, ev, fmt.Errorf("create stderr log: %w", err)
	}
	defer func() { _ = stderr.Close() }()

	attemptCtx := ctx
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	state := &StateRecord{
		RunID:     a.Record.RunID,
		Job:       a.Spec.Name,
		Attempt:   a.Record.Attempt,
		State:     AttemptRunning,
		OwnerPID:  os.Getpid(),
		StartedAt: a.Record.StartedAtUTC,
	}
	if err := dir.WriteState(state); err != nil {
		log.Debug("Failed to write attempt state", zap.Error(err))
	}

	log.Info("Starting worker", zap.String("command", a.Invocation.Display()))
	exitCode, err := e.launcher.Launch(attemptCtx, a.Invocation, stdout, stderr, func(pid int) {
		state.PID = pid
		if werr := dir.WriteState(state); werr != nil {
			log.Debug("Failed to write attempt state", zap.Error(werr))
		}
	})

	ev.ExitCode = exitCode
	if err != nil {
		switch {
		case ctx.Err() != nil:
			ev.Cancelled = true
		case attemptCtx.Err() != nil:
			ev.TimedOut = true
		}
	}

	end := time.Now().UTC()
	state.State = AttemptFinished
	state.EndedAt = &end
	state.ExitCode = &exitCode
	if werr := dir.WriteState(state); werr != nil {
		log.Debug("Failed to write attempt state", zap.Error(werr))
	}
	return exitCode, ev, err
}

func (e *Engine) finish(a *Attempt, exitCode int, res Result, log *zap.Logger) *Attempt {
	a.Result = res
	a.Record.Finish(e.clock, exitCode, res.Status(), kindLabel(res), res.Reason)

	fields := []zap.Field{
		zap.Int("exit_code", exitCode),
		zap.String("status", string(a.Record.Status)),
		zap.Float64("duration_seconds", a.Record.DurationSeconds),
	}
	if res.OK() {
		log.Info("Attempt succeeded", fields...)
	} else {
		log.Warn("Attempt failed", append(fields, zap.String("kind", string(res.Kind)), zap.String("reason", res.Reason))...)
	}
	return a
}

// note appends an orchestrator diagnostic to the attempt's stderr log so it
// travels with the uploaded run log.
func (e *Engine) note(dir *RunDir, format string, args ...any) {
	f, err := os.OpenFile(dir.StderrPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()
	_, _ = fmt.Fprintf(f, "[jobrunner] "+format+"\n", args...)
}

// Discard removes an attempt's local artifacts.
func (e *Engine) Discard(a *Attempt) {
	if a == nil || a.Artifacts == nil {
		return
	}
	if err := a.Artifacts.Remove(); err != nil {
		e.logger.Debug("Failed to remove attempt artifacts", zap.String("dir", a.Artifacts.Dir), zap.Error(err))
	}
}

func kindLabel(res Result) string {
	if res.OK() {
		return ""
	}
	return string(res.Kind)
}
