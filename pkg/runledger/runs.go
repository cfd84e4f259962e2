package runledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/3leaps/jobrunner/pkg/runrecord"
)

// Fixed-width UTC timestamps keep ORDER BY started_at chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Entry is one ledger row.
type Entry struct {
	RunID           string    `json:"run_id"`
	BatchID         string    `json:"batch_id"`
	Job             string    `json:"job"`
	Attempt         int       `json:"attempt"`
	Status          string    `json:"status"`
	ExitCode        int       `json:"exit_code"`
	FailureKind     string    `json:"failure_kind,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	Host            string    `json:"host"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	LogLocation     string    `json:"log_location,omitempty"`
}

// Record inserts the final RunRecord of a job. Re-recording a run id
// replaces the earlier row.
func (l *Ledger) Record(ctx context.Context, batchID string, rec *runrecord.RunRecord) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO runs (
			run_id, batch_id, job, attempt, status, exit_code, failure_kind, reason,
			host, started_at, ended_at, duration_seconds, log_location
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			exit_code = excluded.exit_code,
			failure_kind = excluded.failure_kind,
			reason = excluded.reason,
			ended_at = excluded.ended_at,
			duration_seconds = excluded.duration_seconds,
			log_location = excluded.log_location`,
		rec.RunID, batchID, rec.JobName, rec.Attempt, string(rec.Status), rec.ExitCode,
		nullString(rec.FailureKind), nullString(rec.Reason), rec.Host,
		rec.StartedAtUTC.UTC().Format(timeLayout), rec.EndedAtUTC.UTC().Format(timeLayout),
		rec.DurationSeconds, nullString(rec.LogLocation),
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", rec.RunID, err)
	}
	return nil
}

// Query filters List.
type Query struct {
	// Job restricts results to one job name.
	Job string

	// Status restricts results to one RunRecord status (OK, ERR, CANCELLED).
	Status string

	// Limit caps the number of rows. Zero means DefaultLimit.
	Limit int
}

// DefaultLimit is the List row cap when Query.Limit is zero.
const DefaultLimit = 50

// List returns ledger entries, newest first.
func (l *Ledger) List(ctx context.Context, q Query) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if q.Job != "" {
		where = append(where, "job = ?")
		args = append(args, q.Job)
	}
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, strings.ToUpper(q.Status))
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	stmt := `SELECT run_id, batch_id, job, attempt, status, exit_code, failure_kind, reason,
		host, started_at, ended_at, duration_seconds, log_location FROM runs`
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY started_at DESC, run_id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var (
			e                          Entry
			kind, reason, logLoc, host sql.NullString
			started, ended             string
		)
		if err := rows.Scan(&e.RunID, &e.BatchID, &e.Job, &e.Attempt, &e.Status, &e.ExitCode,
			&kind, &reason, &host, &started, &ended, &e.DurationSeconds, &logLoc); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		e.FailureKind = kind.String
		e.Reason = reason.String
		e.Host = host.String
		e.LogLocation = logLoc.String
		if e.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("parse started_at of %s: %w", e.RunID, err)
		}
		if e.EndedAt, err = time.Parse(timeLayout, ended); err != nil {
			return nil, fmt.Errorf("parse ended_at of %s: %w", e.RunID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
