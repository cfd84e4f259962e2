package jobspec

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedRow is the sentinel matched by every MalformedRowError.
var ErrMalformedRow = errors.New("malformed job row")

// MalformedRowError describes a job-list row that was rejected and skipped.
type MalformedRowError struct {
	// Line is the 1-based line number (or list index for structured formats).
	Line int

	// Name is the job name, if the row had one.
	Name string

	// Missing lists required fields that were empty.
	Missing []string

	// Reason explains rejections not caused by missing fields.
	Reason string
}

// Error implements the error interface.
func (e *MalformedRowError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "line %d", e.Line)
	if e.Name != "" {
		fmt.Fprintf(&b, " (%s)", e.Name)
	}
	b.WriteString(": ")
	b.WriteString(ErrMalformedRow.Error())
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, ": missing %s", strings.Join(e.Missing, ", "))
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	return b.String()
}

// Is reports whether target is ErrMalformedRow.
func (e *MalformedRowError) Is(target error) bool {
	return target == ErrMalformedRow
}
