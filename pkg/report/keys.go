package report

import (
	"path"
	"strings"
	"time"

	"github.com/3leaps/jobrunner/pkg/runrecord"
)

// DefaultPrefix is the storage root for run artifacts.
const DefaultPrefix = "etl-logs"

// Object names under a run's directory.
const (
	LogObject      = "run.log"
	StatusObject   = "monitoring/status.json"
	SuccessMarker  = "_SUCCESS"
	ErrorMarker    = "_ERROR"
	CancelMarker   = "_CANCELLED"
	batchDirectory = "_batch"
)

// Keys are the storage keys of one run's artifacts.
type Keys struct {
	Dir    string
	Log    string
	Marker string
	Status string
}

// RunKeys returns <prefix>/<job>/<YYYY>/<MM>/<DD>/<run_id>/... for rec, dated
// by the run's UTC start.
func RunKeys(prefix string, rec *runrecord.RunRecord) Keys {
	t := rec.StartedAtUTC.UTC()
	dir := path.Join(cleanPrefix(prefix), rec.JobName, t.Format("2006"), t.Format("01"), t.Format("02"), rec.RunID)
	return Keys{
		Dir:    dir,
		Log:    path.Join(dir, LogObject),
		Marker: path.Join(dir, MarkerName(rec.Status)),
		Status: path.Join(dir, StatusObject),
	}
}

// MarkerName returns the zero-byte marker object name for status.
func MarkerName(status runrecord.Status) string {
	switch status {
	case runrecord.StatusOK:
		return SuccessMarker
	case runrecord.StatusCancelled:
		return CancelMarker
	default:
		return ErrorMarker
	}
}

// BatchKey returns <prefix>/_batch/<YYYY>/<MM>/<DD>/<HH>/<batch_id>.csv,
// partitioned by the batch's UTC start hour.
func BatchKey(prefix, batchID string, started time.Time) string {
	t := started.UTC()
	return path.Join(cleanPrefix(prefix), batchDirectory, t.Format("2006"), t.Format("01"), t.Format("02"), t.Format("15"), batchID+".csv")
}

func cleanPrefix(prefix string) string {
	return strings.Trim(strings.TrimSpace(prefix), "/")
}
