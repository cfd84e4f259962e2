// Package runrecord defines the durable record of one job execution attempt
// and its serialized forms: the monitoring status document and the batch
// run-log CSV row.
package runrecord

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/3leaps/jobrunner/pkg/jobspec"
)

// Status is the final classified outcome of an attempt.
type Status string

const (
	StatusOK        Status = "OK"
	StatusErr       Status = "ERR"
	StatusCancelled Status = "CANCELLED"
)

// DocumentStatus returns the spelling used in status documents and run logs.
func (s Status) DocumentStatus() string {
	switch s {
	case StatusOK:
		return "SUCCESS"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return "ERROR"
	}
}

// RunRecord describes one execution attempt. It is created when the attempt
// starts, finished when the attempt ends, and must not be modified once the
// status reporter has uploaded it.
type RunRecord struct {
	JobName string
	RunID   string
	Attempt int
	Host    string

	SourceSchema string
	SourceTable  string
	StagingTable string
	TargetTable  string

	StartedAtUTC   time.Time
	EndedAtUTC     time.Time
	StartedAtLocal time.Time
	EndedAtLocal   time.Time
	TimezoneLabel  string

	DurationSeconds float64
	ExitCode        int
	Status          Status

	// FailureKind and Reason explain a non-OK status.
	FailureKind string
	Reason      string

	// LogLocation is the durable URI of the uploaded run log.
	LogLocation string
}

// Start creates a record for an attempt of spec beginning now.
func Start(clock *Clock, spec jobspec.JobSpec, attempt int) *RunRecord {
	now := clock.Now()
	return &RunRecord{
		JobName:        spec.Name,
		RunID:          NewRunID(spec.Name, now),
		Attempt:        attempt,
		Host:           hostname(),
		SourceSchema:   spec.SourceSchema,
		SourceTable:    spec.SourceTable,
		StagingTable:   spec.StagingTable,
		TargetTable:    spec.TargetTable,
		StartedAtUTC:   now.UTC(),
		StartedAtLocal: clock.Local(now),
		TimezoneLabel:  clock.Label(),
		ExitCode:       -1,
	}
}

// Finish stamps the end of the attempt and its outcome.
func (r *RunRecord) Finish(clock *Clock, exitCode int, status Status, kind, reason string) {
	end := clock.Now()
	r.EndedAtUTC = end.UTC()
	r.EndedAtLocal = clock.Local(end)
	r.DurationSeconds = end.Sub(r.StartedAtUTC).Seconds()
	if r.DurationSeconds < 0 {
		r.DurationSeconds = 0
	}
	r.ExitCode = exitCode
	r.Status = status
	r.FailureKind = kind
	r.Reason = reason
}

// Duration returns the attempt's wall duration.
func (r *RunRecord) Duration() time.Duration {
	return time.Duration(r.DurationSeconds * float64(time.Second))
}

var runIDUnsafe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// NewRunID returns a globally unique id: job name, UTC timestamp and a random
// suffix. The result is safe to use as a storage path segment.
func NewRunID(jobName string, t time.Time) string {
	name := runIDUnsafe.ReplaceAllString(strings.TrimSpace(jobName), "_")
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%s_%s", name, t.UTC().Format("20060102T150405Z"), suffix)
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "unknown"
	}
	return h
}
