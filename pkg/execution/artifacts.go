package execution

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"
)

// AttemptState is the lifecycle state written to run.json.
type AttemptState string

const (
	AttemptRunning  AttemptState = "running"
	AttemptFinished AttemptState = "finished"
)

// StateRecord is the on-disk attempt state. A running record whose pid is
// gone marks an attempt abandoned by a killed orchestrator.
type StateRecord struct {
	RunID     string       `json:"run_id"`
	Job       string       `json:"job"`
	Attempt   int          `json:"attempt"`
	State     AttemptState `json:"state"`
	PID       int          `json:"pid,omitempty"`
	OwnerPID  int          `json:"owner_pid"`
	StartedAt time.Time    `json:"started_at"`
	EndedAt   *time.Time   `json:"ended_at,omitempty"`
	ExitCode  *int         `json:"exit_code,omitempty"`
}

// Workspace holds the local artifacts of in-flight attempts.
//
// Directory layout:
//
//	<root>/<run_id>/run.json
//	<root>/<run_id>/stdout.log
//	<root>/<run_id>/stderr.log
//	<root>/<run_id>/outcome.json   (written by the worker, optional)
type Workspace struct {
	root string
}

// NewWorkspace returns a workspace rooted at root.
func NewWorkspace(root string) *Workspace {
	return &Workspace{root: strings.TrimSpace(root)}
}

// Root returns the workspace directory.
func (w *Workspace) Root() string {
	return w.root
}

// Create makes the artifact directory for runID.
func (w *Workspace) Create(runID string) (*RunDir, error) {
	if w.root == "" {
		return nil, fmt.Errorf("workspace root dir is empty")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, fmt.Errorf("run_id is required")
	}
	dir := filepath.Join(w.root, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	return &RunDir{Dir: dir}, nil
}

// Stale returns attempts left running by an orchestrator that no longer exists.
func (w *Workspace) Stale() ([]StateRecord, error) {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read workspace: %w", err)
	}

	var out []StateRecord
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		d := &RunDir{Dir: filepath.Join(w.root, entry.Name())}
		st, err := d.ReadState()
		if err != nil {
			continue
		}
		if st.State == AttemptRunning && !isProcessAlive(st.OwnerPID) {
			out = append(out, *st)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

// Remove deletes the artifact directory of runID.
func (w *Workspace) Remove(runID string) error {
	return os.RemoveAll(filepath.Join(w.root, runID))
}

// RunDir is the artifact directory of one attempt.
type RunDir struct {
	Dir string
}

func (d *RunDir) StdoutPath() string  { return filepath.Join(d.Dir, "stdout.log") }
func (d *RunDir) StderrPath() string  { return filepath.Join(d.Dir, "stderr.log") }
func (d *RunDir) OutcomePath() string { return filepath.Join(d.Dir, "outcome.json") }
func (d *RunDir) StatePath() string   { return filepath.Join(d.Dir, "run.json") }

// WriteState atomically replaces run.json.
func (d *RunDir) WriteState(st *StateRecord) error {
	if st == nil {
		return fmt.Errorf("state record is nil")
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(d.Dir, "run.json.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, d.StatePath()); err != nil {
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}

// ReadState loads run.json.
func (d *RunDir) ReadState() (*StateRecord, error) {
	b, err := os.ReadFile(d.StatePath())
	if err != nil {
		return nil, err
	}
	var st StateRecord
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("parse run.json: %w", err)
	}
	return &st, nil
}

// ReadOutcome loads the worker's structured outcome. A missing or
// unparseable file yields nil so classification falls back to text matching.
func (d *RunDir) ReadOutcome() *WorkerOutcome {
	b, err := os.ReadFile(d.OutcomePath())
	if err != nil || len(strings.TrimSpace(string(b))) == 0 {
		return nil
	}
	var o WorkerOutcome
	if err := json.Unmarshal(b, &o); err != nil {
		return nil
	}
	return &o
}

// Remove deletes the directory and everything in it.
func (d *RunDir) Remove() error {
	return os.RemoveAll(d.Dir)
}

func readText(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(b)
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// signal 0 checks for existence without delivering a signal.
	if err := p.Signal(syscall.Signal(0)); err != nil {
		return false
	}
	return true
}
