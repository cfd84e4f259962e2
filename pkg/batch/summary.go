package batch

import (
	"time"

	"github.com/3leaps/jobrunner/pkg/runrecord"
)

// Outcome is how a job ended within a batch.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeSkipped   Outcome = "skipped"
)

// JobResult is one job's line in the summary.
type JobResult struct {
	Job     string
	Outcome Outcome

	// RunID and Status are empty for skipped jobs.
	RunID  string
	Status runrecord.Status

	Attempts int

	// Duration spans the first attempt's start to the final attempt's end,
	// so it includes retry backoff.
	Duration time.Duration

	// Reason explains failures and skips.
	Reason string
}

// Summary accumulates over one batch. It is printed at the end and not
// persisted.
type Summary struct {
	BatchID   string
	StartedAt time.Time

	// Total counts every listed job, skipped ones included.
	Total     int
	Succeeded int
	Failed    int
	Cancelled int
	Skipped   int

	Results []JobResult
	Wall    time.Duration

	// BatchLog is the URI of the uploaded CSV run log, if it was uploaded.
	BatchLog string
}

// SumDurations adds up per-job durations.
func (s *Summary) SumDurations() time.Duration {
	var total time.Duration
	for _, r := range s.Results {
		total += r.Duration
	}
	return total
}

// Interrupted reports whether any job was cancelled.
func (s *Summary) Interrupted() bool {
	return s.Cancelled > 0
}

func (s *Summary) add(r JobResult) {
	s.Results = append(s.Results, r)
	switch r.Outcome {
	case OutcomeSucceeded:
		s.Succeeded++
	case OutcomeFailed:
		s.Failed++
	case OutcomeCancelled:
		s.Cancelled++
	case OutcomeSkipped:
		s.Skipped++
	}
}

func outcomeOf(status runrecord.Status) Outcome {
	switch status {
	case runrecord.StatusOK:
		return OutcomeSucceeded
	case runrecord.StatusCancelled:
		return OutcomeCancelled
	default:
		return OutcomeFailed
	}
}
