package jobspec

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// jobList is the document shape of YAML and TOML job lists.
type jobList struct {
	Jobs []jobEntry `yaml:"jobs" toml:"jobs"`
}

type jobEntry struct {
	Name              string   `yaml:"name" toml:"name"`
	SourceSchema      string   `yaml:"source_schema" toml:"source_schema"`
	SourceTable       string   `yaml:"source_table" toml:"source_table"`
	SourceQuery       string   `yaml:"source_query" toml:"source_query"`
	StagingLocation   string   `yaml:"staging_location" toml:"staging_location"`
	StagingTable      string   `yaml:"staging_table" toml:"staging_table"`
	TargetTable       string   `yaml:"target_table" toml:"target_table"`
	PrimaryKeyColumns []string `yaml:"primary_key_columns" toml:"primary_key_columns"`
	UpdatedAtColumn   string   `yaml:"updated_at_column" toml:"updated_at_column"`
	AlignSchema       *bool    `yaml:"align_schema" toml:"align_schema"`
	Debug             *bool    `yaml:"debug" toml:"debug"`
	DedupeEnabled     *bool    `yaml:"dedupe_enabled" toml:"dedupe_enabled"`
	DedupeTiebreakers string   `yaml:"dedupe_tiebreakers" toml:"dedupe_tiebreakers"`
}

func loadYAML(data []byte) ([]JobSpec, []*MalformedRowError, error) {
	var doc jobList
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("invalid YAML job list: %w", err)
	}
	specs, bad := fromEntries(doc.Jobs)
	return specs, bad, nil
}

func loadTOML(data []byte) ([]JobSpec, []*MalformedRowError, error) {
	var doc jobList
	if _, err := toml.Decode(string(data), &doc); err != nil {
		return nil, nil, fmt.Errorf("invalid TOML job list: %w", err)
	}
	specs, bad := fromEntries(doc.Jobs)
	return specs, bad, nil
}

func fromEntries(entries []jobEntry) ([]JobSpec, []*MalformedRowError) {
	var (
		specs []JobSpec
		bad   []*MalformedRowError
	)
	seen := make(map[string]int)
	for i, e := range entries {
		idx := i + 1
		spec := JobSpec{
			Name:              strings.TrimSpace(e.Name),
			SourceSchema:      strings.TrimSpace(e.SourceSchema),
			SourceTable:       strings.TrimSpace(e.SourceTable),
			SourceQuery:       strings.TrimSpace(e.SourceQuery),
			StagingLocation:   strings.TrimSpace(e.StagingLocation),
			StagingTable:      strings.TrimSpace(e.StagingTable),
			TargetTable:       strings.TrimSpace(e.TargetTable),
			PrimaryKeyColumns: splitColumns(strings.Join(e.PrimaryKeyColumns, ",")),
			UpdatedAtColumn:   strings.TrimSpace(e.UpdatedAtColumn),
			AlignSchema:       fromBool(e.AlignSchema),
			Debug:             fromBool(e.Debug),
			DedupeEnabled:     fromBool(e.DedupeEnabled),
			DedupeTiebreakers: strings.TrimSpace(e.DedupeTiebreakers),
		}
		if missing := spec.missingFields(); len(missing) > 0 {
			bad = append(bad, &MalformedRowError{Line: idx, Name: spec.Name, Missing: missing})
			continue
		}
		if err := checkName(spec.Name); err != nil {
			bad = append(bad, &MalformedRowError{Line: idx, Name: spec.Name, Reason: err.Error()})
			continue
		}
		if rowErr := checkDuplicate(seen, spec.Name, idx); rowErr != nil {
			bad = append(bad, rowErr)
			continue
		}
		specs = append(specs, spec)
	}
	return specs, bad
}

func fromBool(b *bool) TriState {
	switch {
	case b == nil:
		return UseDefault
	case *b:
		return Enabled
	default:
		return Disabled
	}
}
