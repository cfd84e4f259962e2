package execution

import (
	"errors"
	"fmt"
	"strings"

	"github.com/3leaps/jobrunner/pkg/dedupe"
	"github.com/3leaps/jobrunner/pkg/jobspec"
)

// Defaults are the process-wide worker settings shared by every job.
type Defaults struct {
	// Command is the worker program and any leading arguments,
	// e.g. ["python3", "micro_batch_data.py"].
	Command []string

	Mode         string
	SecretID     string
	Region       string
	GlueDB       string
	AthenaOutput string
	Workgroup    string
	SSLMode      string
	OpLiteral    string

	// Flag defaults applied when a job leaves its tri-state unset.
	AlignSchema bool
	Debug       bool
	Dedupe      bool

	DropStaging  bool
	PurgeStaging bool
}

// Invocation is a fully assembled worker command line.
type Invocation struct {
	Path string
	Args []string
	Env  []string
}

// BuildInvocation assembles the worker command line for spec. sql is the
// resolved query text and tiebreakers the resolved dedupe ordering.
func BuildInvocation(spec jobspec.JobSpec, sql string, tiebreakers []string, d Defaults) (Invocation, error) {
	if len(d.Command) == 0 || strings.TrimSpace(d.Command[0]) == "" {
		return Invocation{}, errors.New("worker command is not configured")
	}

	args := append([]string(nil), d.Command[1:]...)
	add := func(flag, value string) {
		args = append(args, flag, value)
	}
	addIf := func(flag, value string) {
		if strings.TrimSpace(value) != "" {
			add(flag, value)
		}
	}
	toggle := func(flag string, on bool) {
		if on {
			args = append(args, flag)
		}
	}

	mode := d.Mode
	if mode == "" {
		mode = "full-run"
	}
	add("--mode", mode)
	addIf("--secret-id", d.SecretID)
	addIf("--region", d.Region)
	add("--pg-sql", sql)
	add("--pg-schema", spec.SourceSchema)
	add("--pg-table", spec.SourceTable)
	toggle("--align-ddl", spec.AlignSchema.Resolve(d.AlignSchema))
	add("--s3-staging-path", spec.StagingLocation)
	addIf("--glue-db", d.GlueDB)
	add("--staging-table", spec.StagingTable)
	add("--prod-table", spec.TargetTable)
	addIf("--op-literal", d.OpLiteral)
	add("--pk", spec.PrimaryKey())
	add("--updated-at-col", spec.UpdatedAtColumn)
	addIf("--athena-output", d.AthenaOutput)
	addIf("--workgroup", d.Workgroup)
	addIf("--sslmode", d.SSLMode)
	if spec.DedupeEnabled.Resolve(d.Dedupe) {
		args = append(args, "--dedupe-source")
		if len(tiebreakers) > 0 {
			add("--dedupe-tiebreakers", dedupe.Join(tiebreakers))
		}
	}
	toggle("--drop-staging-after-merge", d.DropStaging)
	toggle("--purge-staging-objects", d.PurgeStaging)
	toggle("--debug", spec.Debug.Resolve(d.Debug))

	return Invocation{Path: d.Command[0], Args: args}, nil
}

// Display renders the invocation for operators with the SQL text elided.
func (inv Invocation) Display() string {
	parts := make([]string, 0, len(inv.Args)+1)
	parts = append(parts, inv.Path)
	for i := 0; i < len(inv.Args); i++ {
		a := inv.Args[i]
		if a == "--pg-sql" && i+1 < len(inv.Args) {
			parts = append(parts, a, fmt.Sprintf("<sql:%d bytes>", len(inv.Args[i+1])))
			i++
			continue
		}
		parts = append(parts, quoteArg(a))
	}
	return strings.Join(parts, " ")
}

func quoteArg(a string) string {
	if a == "" || strings.ContainsAny(a, " \t\"'") {
		return fmt.Sprintf("%q", a)
	}
	return a
}

// Flag returns the value following flag, if present.
func (inv Invocation) Flag(flag string) (string, bool) {
	for i := 0; i < len(inv.Args)-1; i++ {
		if inv.Args[i] == flag {
			return inv.Args[i+1], true
		}
	}
	return "", false
}

// HasFlag reports whether flag appears in the arguments.
func (inv Invocation) HasFlag(flag string) bool {
	for _, a := range inv.Args {
		if a == flag {
			return true
		}
	}
	return false
}
