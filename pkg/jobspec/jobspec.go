// Package jobspec parses the static job list into validated JobSpec records.
//
// A job list is line oriented. Each non-blank, non-comment line describes one
// extraction job as pipe-delimited fields:
//
//	name|source_schema|source_table|source_query|staging_location|staging_table|target_table|primary_key_columns|updated_at_column|align_schema|debug|dedupe_enabled|dedupe_tiebreakers
//
// The last four fields are optional. Structured YAML and TOML job lists are
// also supported (see LoadFile).
package jobspec

import (
	"fmt"
	"regexp"
	"strings"
)

// TriState is a three-valued flag resolved once per job against a process
// default.
type TriState int

const (
	// UseDefault defers to the process-wide default.
	UseDefault TriState = iota
	// Enabled forces the flag on.
	Enabled
	// Disabled forces the flag off.
	Disabled
)

// ParseTriState parses a job-list flag value. Empty input means UseDefault.
func ParseTriState(s string) (TriState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return UseDefault, nil
	case "true", "yes", "y", "1", "on":
		return Enabled, nil
	case "false", "no", "n", "0", "off":
		return Disabled, nil
	default:
		return UseDefault, fmt.Errorf("invalid flag value %q (want true/false or empty)", s)
	}
}

// Resolve returns the effective value of t given the process default.
func (t TriState) Resolve(def bool) bool {
	switch t {
	case Enabled:
		return true
	case Disabled:
		return false
	default:
		return def
	}
}

// String returns the job-list spelling of t.
func (t TriState) String() string {
	switch t {
	case Enabled:
		return "true"
	case Disabled:
		return "false"
	default:
		return ""
	}
}

// JobSpec is one validated row of the job list.
type JobSpec struct {
	Name              string
	SourceSchema      string
	SourceTable       string
	SourceQuery       string
	StagingLocation   string
	StagingTable      string
	TargetTable       string
	PrimaryKeyColumns []string
	UpdatedAtColumn   string

	AlignSchema   TriState
	Debug         TriState
	DedupeEnabled TriState

	// DedupeTiebreakers is the raw comma-separated ordering spec. It is
	// normalized by the dedupe package right before execution.
	DedupeTiebreakers string
}

// PrimaryKey returns the primary key columns joined with commas.
func (s JobSpec) PrimaryKey() string {
	return strings.Join(s.PrimaryKeyColumns, ",")
}

// requiredFields lists the fields that must be non-empty, in list order.
var requiredFields = []string{
	"name",
	"source_schema",
	"source_table",
	"source_query",
	"staging_location",
	"staging_table",
	"target_table",
	"primary_key_columns",
	"updated_at_column",
}

// missingFields reports which required fields of s are empty.
func (s JobSpec) missingFields() []string {
	values := []bool{
		s.Name == "",
		s.SourceSchema == "",
		s.SourceTable == "",
		s.SourceQuery == "",
		s.StagingLocation == "",
		s.StagingTable == "",
		s.TargetTable == "",
		len(s.PrimaryKeyColumns) == 0,
		s.UpdatedAtColumn == "",
	}
	var missing []string
	for i, empty := range values {
		if empty {
			missing = append(missing, requiredFields[i])
		}
	}
	return missing
}

var validName = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// checkName rejects names that are unsafe as a storage key segment or lock
// file name.
func checkName(name string) error {
	if name == "." || name == ".." || !validName.MatchString(name) {
		return fmt.Errorf("invalid job name %q: use only letters, digits, '.', '_' and '-'", name)
	}
	return nil
}

// splitColumns splits a comma-separated column list, trimming whitespace and
// dropping empty and repeated entries.
func splitColumns(s string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, part := range strings.Split(s, ",") {
		col := strings.TrimSpace(part)
		if col == "" {
			continue
		}
		if _, ok := seen[col]; ok {
			continue
		}
		seen[col] = struct{}{}
		out = append(out, col)
	}
	return out
}
