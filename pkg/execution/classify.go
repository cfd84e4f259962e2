package execution

import (
	"strings"
)

// DefaultErrorSignatures are stderr fragments that turn a zero exit into a
// masked failure.
var DefaultErrorSignatures = []string{
	"SCHEMA_NOT_FOUND",
	"AccessDenied",
	"AccessDeniedException",
	"EntityNotFoundException",
	"TABLE_NOT_FOUND",
	"[ERROR]",
}

// DefaultEmptyWriteSignatures are output fragments meaning nothing was written.
var DefaultEmptyWriteSignatures = []string{
	"extracted rows=0",
	"0 rows written",
	"wrote 0 rows",
}

// Policy configures outcome classification.
type Policy struct {
	// ErrorSignatures are matched case-insensitively against stderr.
	ErrorSignatures []string

	// EmptyWriteIsFailure downgrades a run that wrote zero rows.
	EmptyWriteIsFailure bool

	// EmptyWriteSignatures are matched case-insensitively against stdout and stderr.
	EmptyWriteSignatures []string
}

// DefaultPolicy returns the stock signatures with the empty-write check off.
func DefaultPolicy() Policy {
	return Policy{
		ErrorSignatures:      append([]string(nil), DefaultErrorSignatures...),
		EmptyWriteSignatures: append([]string(nil), DefaultEmptyWriteSignatures...),
	}
}

// WorkerOutcome is the optional structured result a worker writes to the
// file named by the JOBRUNNER_OUTCOME_FILE environment variable.
type WorkerOutcome struct {
	Status      string `json:"status"`
	RowsWritten *int64 `json:"rows_written,omitempty"`
	Message     string `json:"message,omitempty"`
}

// Failed reports whether the worker declared failure.
func (o *WorkerOutcome) Failed() bool {
	s := strings.ToLower(strings.TrimSpace(o.Status))
	return s != "" && s != "success" && s != "ok"
}

// Evidence is everything known about an attempt once the child has exited.
type Evidence struct {
	ExitCode  int
	Stdout    string
	Stderr    string
	Outcome   *WorkerOutcome
	Cancelled bool
	TimedOut  bool
}

// Classify decides the outcome of a finished attempt. It is a pure function
// of its inputs.
//
// Order: cancellation, timeout, non-zero exit, structured outcome, stderr
// error signatures, then (when enabled) the empty-write check. Text matching
// is the fallback for workers that do not write a structured outcome.
func Classify(ev Evidence, p Policy) Result {
	switch {
	case ev.Cancelled:
		return Failure(KindCancelled, "interrupted by signal")
	case ev.TimedOut:
		return Failure(KindWorkerFailure, "timeout")
	case ev.ExitCode != 0:
		return Failure(KindWorkerFailure, "exit code %d", ev.ExitCode)
	}

	if ev.Outcome != nil {
		if ev.Outcome.Failed() {
			msg := ev.Outcome.Message
			if msg == "" {
				msg = "worker reported status " + ev.Outcome.Status
			}
			return Failure(KindMaskedFailure, "%s", msg)
		}
		if p.EmptyWriteIsFailure && ev.Outcome.RowsWritten != nil && *ev.Outcome.RowsWritten == 0 {
			return Failure(KindMaskedFailure, "worker wrote zero rows")
		}
	}

	if sig, ok := findSignature(ev.Stderr, p.ErrorSignatures); ok {
		return Failure(KindMaskedFailure, "error signature %q in stderr", sig)
	}

	if p.EmptyWriteIsFailure && (ev.Outcome == nil || ev.Outcome.RowsWritten == nil) {
		if sig, ok := findSignature(ev.Stdout+"\n"+ev.Stderr, p.EmptyWriteSignatures); ok {
			return Failure(KindMaskedFailure, "empty write signature %q", sig)
		}
	}

	return Success
}

func findSignature(text string, signatures []string) (string, bool) {
	if text == "" {
		return "", false
	}
	lower := strings.ToLower(text)
	for _, sig := range signatures {
		if sig == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(sig)) {
			return sig, true
		}
	}
	return "", false
}
