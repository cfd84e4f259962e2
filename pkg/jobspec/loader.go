package jobspec

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	fieldSeparator = '|'
	commentMarker  = "#"
	minFields      = 9
	maxFields      = 13
)

// LoadFile reads a job list from path.
//
// The format is determined by extension: .yaml/.yml for YAML, .toml for TOML,
// anything else is parsed as the pipe-delimited line format.
//
// Malformed rows never fail the load; they are returned separately so the
// caller can log them. The error is reserved for unreadable or unparseable
// files.
func LoadFile(path string) ([]JobSpec, []*MalformedRowError, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("job list not found: %s", path)
		}
		if os.IsPermission(err) {
			return nil, nil, fmt.Errorf("permission denied reading job list: %s", path)
		}
		return nil, nil, fmt.Errorf("failed to read job list: %w", err)
	}
	return LoadFromBytes(data, path)
}

// LoadFromBytes parses a job list from raw bytes. The path is used only for
// format detection.
func LoadFromBytes(data []byte, path string) ([]JobSpec, []*MalformedRowError, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return loadYAML(data)
	case ".toml":
		return loadTOML(data)
	default:
		return Load(bytes.NewReader(data))
	}
}

// Load parses the pipe-delimited line format from r.
func Load(r io.Reader) ([]JobSpec, []*MalformedRowError, error) {
	var (
		specs []JobSpec
		bad   []*MalformedRowError
	)
	seen := make(map[string]int)

	sc := bufio.NewScanner(r)
	// Inline SQL can make rows long.
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, commentMarker) {
			continue
		}

		spec, rowErr := parseLine(line, lineNo)
		if rowErr == nil {
			rowErr = checkDuplicate(seen, spec.Name, lineNo)
		}
		if rowErr != nil {
			bad = append(bad, rowErr)
			continue
		}
		specs = append(specs, spec)
	}
	if err := sc.Err(); err != nil {
		return specs, bad, fmt.Errorf("read job list: %w", err)
	}
	return specs, bad, nil
}

func checkDuplicate(seen map[string]int, name string, lineNo int) *MalformedRowError {
	if first, ok := seen[name]; ok {
		return &MalformedRowError{Line: lineNo, Name: name, Reason: fmt.Sprintf("duplicate job name (first defined on line %d)", first)}
	}
	seen[name] = lineNo
	return nil
}

func parseLine(line string, lineNo int) (JobSpec, *MalformedRowError) {
	fields := splitFields(line)
	name := ""
	if len(fields) > 0 {
		name = fields[0]
	}
	if len(fields) < minFields {
		return JobSpec{}, &MalformedRowError{
			Line:    lineNo,
			Name:    name,
			Missing: requiredFields[len(fields):],
		}
	}
	if len(fields) > maxFields {
		return JobSpec{}, &MalformedRowError{
			Line:   lineNo,
			Name:   name,
			Reason: fmt.Sprintf("too many fields: got %d, want at most %d", len(fields), maxFields),
		}
	}
	for len(fields) < maxFields {
		fields = append(fields, "")
	}

	spec := JobSpec{
		Name:              fields[0],
		SourceSchema:      fields[1],
		SourceTable:       fields[2],
		SourceQuery:       fields[3],
		StagingLocation:   fields[4],
		StagingTable:      fields[5],
		TargetTable:       fields[6],
		PrimaryKeyColumns: splitColumns(fields[7]),
		UpdatedAtColumn:   fields[8],
		DedupeTiebreakers: fields[12],
	}

	var err error
	flags := []struct {
		field string
		raw   string
		dst   *TriState
	}{
		{"align_schema", fields[9], &spec.AlignSchema},
		{"debug", fields[10], &spec.Debug},
		{"dedupe_enabled", fields[11], &spec.DedupeEnabled},
	}
	for _, f := range flags {
		if *f.dst, err = ParseTriState(f.raw); err != nil {
			return JobSpec{}, &MalformedRowError{Line: lineNo, Name: spec.Name, Reason: f.field + ": " + err.Error()}
		}
	}

	if missing := spec.missingFields(); len(missing) > 0 {
		return JobSpec{}, &MalformedRowError{Line: lineNo, Name: spec.Name, Missing: missing}
	}
	if err := checkName(spec.Name); err != nil {
		return JobSpec{}, &MalformedRowError{Line: lineNo, Name: spec.Name, Reason: err.Error()}
	}
	return spec, nil
}

// splitFields splits a line on unescaped pipes. "\|" yields a literal pipe.
func splitFields(line string) []string {
	var (
		fields []string
		cur    strings.Builder
	)
	for i := 0; i < len(line); i++ {
		c := line[i]
		if c == '\\' && i+1 < len(line) && line[i+1] == fieldSeparator {
			cur.WriteByte(fieldSeparator)
			i++
			continue
		}
		if c == fieldSeparator {
			fields = append(fields, strings.TrimSpace(cur.String()))
			cur.Reset()
			continue
		}
		cur.WriteByte(c)
	}
	fields = append(fields, strings.TrimSpace(cur.String()))
	return fields
}

// Names returns the job names of specs, in order.
func Names(specs []JobSpec) []string {
	out := make([]string, 0, len(specs))
	for _, s := range specs {
		out = append(out, s.Name)
	}
	return out
}

// JoinErrors flattens malformed-row diagnostics into a single error.
func JoinErrors(bad []*MalformedRowError) error {
	errs := make([]error, 0, len(bad))
	for _, b := range bad {
		errs = append(errs, b)
	}
	return errors.Join(errs...)
}
