// Package lock provides the non-blocking mutual-exclusion guards that keep
// overlapping orchestrator invocations from running the same work twice.
//
// Acquisition never waits: a held lock yields ErrBusy and the caller skips
// the unit of work instead of queueing behind it.
package lock

import (
	"errors"
	"regexp"
	"strings"
)

// ErrBusy is returned by TryAcquire when the scope is already held.
var ErrBusy = errors.New("lock busy")

// Kind distinguishes the two lock scopes.
type Kind string

const (
	KindGlobal Kind = "global"
	KindJob    Kind = "job"
)

// Scope identifies what a lock guards.
type Scope struct {
	Kind Kind
	Name string
}

// Global is the host-wide "one orchestrator at a time" scope.
func Global() Scope {
	return Scope{Kind: KindGlobal}
}

// Job is the per-job scope keyed by job name.
func Job(name string) Scope {
	return Scope{Kind: KindJob, Name: name}
}

// String returns a human-readable scope label.
func (s Scope) String() string {
	if s.Kind == KindGlobal {
		return string(KindGlobal)
	}
	return string(s.Kind) + ":" + s.Name
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// fileName maps a scope to a stable lock file name.
func (s Scope) fileName() string {
	if s.Kind == KindGlobal {
		return "global.lock"
	}
	name := unsafeChars.ReplaceAllString(strings.TrimSpace(s.Name), "_")
	if name == "" {
		name = "_"
	}
	return "job-" + name + ".lock"
}

// Lock is a held guard. Release is idempotent.
type Lock interface {
	Scope() Scope
	Release() error
}

// Manager hands out locks without blocking.
type Manager interface {
	// TryAcquire returns ErrBusy immediately if scope is held elsewhere.
	TryAcquire(scope Scope) (Lock, error)
}
