package execution

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/jobrunner/pkg/jobspec"
)

func testSpec() jobspec.JobSpec {
	return jobspec.JobSpec{
		Name:              "order_product",
		SourceSchema:      "public",
		SourceTable:       "order_product",
		SourceQuery:       "SELECT * FROM public.order_product",
		StagingLocation:   "s3://stg/op/",
		StagingTable:      "stg_op",
		TargetTable:       "op_iceberg",
		PrimaryKeyColumns: []string{"order_id", "product_id"},
		UpdatedAtColumn:   "updated_at",
	}
}

func testDefaults() Defaults {
	return Defaults{
		Command:      []string{"python3", "micro_batch_data.py"},
		Mode:         "full-run",
		SecretID:     "glue/backfill/prod",
		Region:       "ap-southeast-3",
		GlueDB:       "prod_silver",
		AthenaOutput: "s3://athena/results/",
		OpLiteral:    "cron-2-hours",
		Dedupe:       true,
	}
}

func TestBuildInvocation(t *testing.T) {
	inv, err := BuildInvocation(testSpec(), "SELECT 1", []string{"order_id", "product_id", "updated_at"}, testDefaults())
	require.NoError(t, err)

	assert.Equal(t, "python3", inv.Path)
	assert.Equal(t, "micro_batch_data.py", inv.Args[0])

	want := map[string]string{
		"--mode":               "full-run",
		"--secret-id":          "glue/backfill/prod",
		"--region":             "ap-southeast-3",
		"--pg-sql":             "SELECT 1",
		"--pg-schema":          "public",
		"--pg-table":           "order_product",
		"--s3-staging-path":    "s3://stg/op/",
		"--glue-db":            "prod_silver",
		"--staging-table":      "stg_op",
		"--prod-table":         "op_iceberg",
		"--op-literal":         "cron-2-hours",
		"--pk":                 "order_id,product_id",
		"--updated-at-col":     "updated_at",
		"--athena-output":      "s3://athena/results/",
		"--dedupe-tiebreakers": "order_id,product_id,updated_at",
	}
	for flag, value := range want {
		got, ok := inv.Flag(flag)
		assert.True(t, ok, flag)
		assert.Equal(t, value, got, flag)
	}

	assert.True(t, inv.HasFlag("--dedupe-source"))
	assert.False(t, inv.HasFlag("--align-ddl"))
	assert.False(t, inv.HasFlag("--debug"))
	assert.False(t, inv.HasFlag("--workgroup"))
	assert.False(t, inv.HasFlag("--sslmode"))
	assert.False(t, inv.HasFlag("--drop-staging-after-merge"))
}

func TestBuildInvocation_TriStates(t *testing.T) {
	spec := testSpec()
	spec.AlignSchema = jobspec.Enabled
	spec.Debug = jobspec.Enabled
	spec.DedupeEnabled = jobspec.Disabled

	d := testDefaults()
	d.Workgroup = "primary"
	d.SSLMode = "require"
	d.DropStaging = true
	d.PurgeStaging = true

	inv, err := BuildInvocation(spec, "SELECT 1", []string{"order_id"}, d)
	require.NoError(t, err)

	assert.True(t, inv.HasFlag("--align-ddl"))
	assert.True(t, inv.HasFlag("--debug"))
	assert.True(t, inv.HasFlag("--drop-staging-after-merge"))
	assert.True(t, inv.HasFlag("--purge-staging-objects"))
	assert.False(t, inv.HasFlag("--dedupe-source"))
	assert.False(t, inv.HasFlag("--dedupe-tiebreakers"))

	wg, _ := inv.Flag("--workgroup")
	assert.Equal(t, "primary", wg)
	ssl, _ := inv.Flag("--sslmode")
	assert.Equal(t, "require", ssl)
}

func TestBuildInvocation_DedupeWithoutTiebreakers(t *testing.T) {
	inv, err := BuildInvocation(testSpec(), "SELECT 1", nil, testDefaults())
	require.NoError(t, err)
	assert.True(t, inv.HasFlag("--dedupe-source"))
	assert.False(t, inv.HasFlag("--dedupe-tiebreakers"))
}

func TestBuildInvocation_NoCommand(t *testing.T) {
	d := testDefaults()
	d.Command = nil
	_, err := BuildInvocation(testSpec(), "SELECT 1", nil, d)
	assert.Error(t, err)
}

func TestInvocation_Display(t *testing.T) {
	inv := Invocation{Path: "python3", Args: []string{"w.py", "--pg-sql", "SELECT * FROM t", "--prod-table", "t iceberg"}}
	assert.Equal(t, `python3 w.py --pg-sql <sql:15 bytes> --prod-table "t iceberg"`, inv.Display())
}

func TestResolveSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sql"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sql", "orders.sql"), []byte("  SELECT * FROM orders\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sql", "empty.sql"), []byte("\n"), 0o644))

	tests := []struct {
		name    string
		query   string
		want    string
		wantErr bool
	}{
		{name: "inline", query: "SELECT 1", want: "SELECT 1"},
		{name: "inline mentioning .sql", query: "SELECT 'a.sql'", want: "SELECT 'a.sql'"},
		{name: "file prefix", query: "file:sql/orders.sql", want: "SELECT * FROM orders"},
		{name: "at prefix", query: "@sql/orders.sql", want: "SELECT * FROM orders"},
		{name: "bare path", query: "sql/orders.sql", want: "SELECT * FROM orders"},
		{name: "absolute", query: "@" + filepath.Join(dir, "sql", "orders.sql"), want: "SELECT * FROM orders"},
		{name: "missing", query: "@sql/missing.sql", wantErr: true},
		{name: "empty file", query: "@sql/empty.sql", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveSource(tt.query, dir)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
