//go:build cloudintegration

package report

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/jobrunner/pkg/runrecord"
	"github.com/3leaps/jobrunner/test/cloudtest"
)

func TestReport_S3(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	bucket := cloudtest.CreateBucket(t, ctx)
	r := New(cloudtest.NewSink(t, ctx, bucket), Options{})

	a := testAttempt(t, runrecord.StatusErr)
	require.NoError(t, r.Report(ctx, a))

	keys := r.Keys(a.Record)
	got := cloudtest.ListKeys(t, ctx, bucket, keys.Dir+"/")
	assert.ElementsMatch(t, []string{keys.Log, keys.Marker, keys.Status}, got)
	assert.True(t, strings.HasSuffix(keys.Marker, "/_ERROR"))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(cloudtest.GetObject(t, ctx, bucket, keys.Status), &doc))
	assert.Equal(t, "ERROR", doc["status"])
	assert.Equal(t, "s3://"+bucket+"/"+keys.Log, doc["log_s3_uri"])

	assert.Empty(t, cloudtest.GetObject(t, ctx, bucket, keys.Marker))
	assert.Contains(t, string(cloudtest.GetObject(t, ctx, bucket, keys.Log)), "extracted rows=42")
}

func TestReportBatch_S3(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	bucket := cloudtest.CreateBucket(t, ctx)
	r := New(cloudtest.NewSink(t, ctx, bucket), Options{Prefix: "nightly"})

	rec := testAttempt(t, runrecord.StatusOK).Record
	uri, err := r.ReportBatch(ctx, "batch-1", testStart, []*runrecord.RunRecord{rec})
	require.NoError(t, err)

	key := BatchKey("nightly", "batch-1", testStart)
	assert.Equal(t, "s3://"+bucket+"/"+key, uri)

	body := string(cloudtest.GetObject(t, ctx, bucket, key))
	assert.True(t, strings.HasPrefix(body, "DATABASE_SOURCE,TABLE_NAME,"))
	assert.Contains(t, body, "SUCCESS")
}
