package runrecord

import (
	"encoding/json"
	"strconv"
	"time"
)

const (
	utcLayout   = "2006-01-02T15:04:05Z"
	localLayout = time.RFC3339
)

// StatusDocument is the JSON status object uploaded for every final attempt.
//
// NOTE: field names are consumed by downstream monitoring and are part of the
// stable contract. Only additive changes are allowed.
type StatusDocument struct {
	RunID           string  `json:"run_id"`
	Job             string  `json:"job"`
	ExitCode        int     `json:"exit_code"`
	Status          string  `json:"status"`
	Host            string  `json:"host"`
	PGSchema        string  `json:"pg_schema"`
	PGTable         string  `json:"pg_table"`
	StagingTable    string  `json:"staging_table"`
	ProdTable       string  `json:"prod_table"`
	StartedAtUTC    string  `json:"started_at_utc"`
	EndedAtUTC      string  `json:"ended_at_utc"`
	StartedAtWIB    string  `json:"started_at_wib"`
	EndedAtWIB      string  `json:"ended_at_wib"`
	TimezoneWIB     string  `json:"timezone_wib"`
	DurationSeconds float64 `json:"duration_seconds"`
	LogS3URI        string  `json:"log_s3_uri"`

	Attempt     int    `json:"attempt,omitempty"`
	FailureKind string `json:"failure_kind,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Document converts r into its status document form.
func (r *RunRecord) Document() StatusDocument {
	return StatusDocument{
		RunID:           r.RunID,
		Job:             r.JobName,
		ExitCode:        r.ExitCode,
		Status:          r.Status.DocumentStatus(),
		Host:            r.Host,
		PGSchema:        r.SourceSchema,
		PGTable:         r.SourceTable,
		StagingTable:    r.StagingTable,
		ProdTable:       r.TargetTable,
		StartedAtUTC:    formatUTC(r.StartedAtUTC),
		EndedAtUTC:      formatUTC(r.EndedAtUTC),
		StartedAtWIB:    formatLocal(r.StartedAtLocal),
		EndedAtWIB:      formatLocal(r.EndedAtLocal),
		TimezoneWIB:     r.TimezoneLabel,
		DurationSeconds: roundSeconds(r.DurationSeconds),
		LogS3URI:        r.LogLocation,
		Attempt:         r.Attempt,
		FailureKind:     r.FailureKind,
		Reason:          r.Reason,
	}
}

// MarshalDocument renders the status document as indented JSON.
func (r *RunRecord) MarshalDocument() ([]byte, error) {
	b, err := json.MarshalIndent(r.Document(), "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// CSVHeader is the header of the per-batch run log.
var CSVHeader = []string{"DATABASE_SOURCE", "TABLE_NAME", "RUN_START_ISO", "RUN_END_ISO", "JOB_STATUS", "TOTAL_DURATIONS"}

// CSVRow renders r as one run-log row.
func (r *RunRecord) CSVRow() []string {
	return []string{
		r.SourceSchema,
		r.SourceTable,
		formatUTC(r.StartedAtUTC),
		formatUTC(r.EndedAtUTC),
		r.Status.DocumentStatus(),
		strconv.FormatFloat(roundSeconds(r.DurationSeconds), 'f', -1, 64),
	}
}

func formatUTC(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(utcLayout)
}

func formatLocal(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(localLayout)
}

func roundSeconds(s float64) float64 {
	return float64(int64(s*1000+0.5)) / 1000
}
