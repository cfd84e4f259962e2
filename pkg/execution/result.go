// Package execution runs a single job attempt: it resolves the job's SQL,
// assembles the worker invocation, runs the worker as a child process with its
// output captured to local artifacts, and classifies the outcome.
//
// A zero exit code is not taken as proof of success. The captured streams
// (or the worker's structured outcome file, when present) are checked for
// failure signatures before an attempt is reported OK.
package execution

import (
	"errors"
	"fmt"

	"github.com/3leaps/jobrunner/pkg/runrecord"
)

// Sentinel errors for attempt-level failures.
var (
	// ErrSourceUnavailable indicates the job's SQL file could not be read.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrWorkerFailure indicates the worker exited non-zero or could not run.
	ErrWorkerFailure = errors.New("worker failure")

	// ErrMaskedFailure indicates a zero exit whose output shows a failure.
	ErrMaskedFailure = errors.New("masked failure")

	// ErrCancelled indicates the attempt was interrupted by cancellation.
	ErrCancelled = errors.New("cancelled")
)

// Kind classifies an attempt outcome.
type Kind string

const (
	KindSuccess           Kind = "success"
	KindSourceUnavailable Kind = "source_unavailable"
	KindWorkerFailure     Kind = "worker_failure"
	KindMaskedFailure     Kind = "masked_failure"
	KindCancelled         Kind = "cancelled"
)

// Result is the classified outcome of one attempt.
type Result struct {
	Kind   Kind
	Reason string
}

// Success is the successful Result.
var Success = Result{Kind: KindSuccess}

// Failure builds a failed Result.
func Failure(kind Kind, format string, args ...any) Result {
	return Result{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// OK reports whether the attempt succeeded.
func (r Result) OK() bool { return r.Kind == KindSuccess }

// Retryable reports whether another attempt may be made.
func (r Result) Retryable() bool {
	return r.Kind != KindSuccess && r.Kind != KindCancelled
}

// Status maps the result onto a RunRecord status.
func (r Result) Status() runrecord.Status {
	switch r.Kind {
	case KindSuccess:
		return runrecord.StatusOK
	case KindCancelled:
		return runrecord.StatusCancelled
	default:
		return runrecord.StatusErr
	}
}

// Err returns nil for success and an *AttemptError otherwise.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	return &AttemptError{Kind: r.Kind, Reason: r.Reason}
}

// AttemptError is the error form of a failed Result.
type AttemptError struct {
	Kind   Kind
	Reason string
}

// Error implements the error interface.
func (e *AttemptError) Error() string {
	if e.Reason == "" {
		return e.sentinel().Error()
	}
	return fmt.Sprintf("%s: %s", e.sentinel(), e.Reason)
}

// Unwrap returns the sentinel for errors.Is support.
func (e *AttemptError) Unwrap() error {
	return e.sentinel()
}

func (e *AttemptError) sentinel() error {
	switch e.Kind {
	case KindSourceUnavailable:
		return ErrSourceUnavailable
	case KindMaskedFailure:
		return ErrMaskedFailure
	case KindCancelled:
		return ErrCancelled
	default:
		return ErrWorkerFailure
	}
}
