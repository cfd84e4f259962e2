// Package report uploads run logs, markers and status documents to a durable
// sink, then removes local artifacts.
//
// Reporting is best-effort: upload and cleanup failures are logged and
// returned for information, but never change a run's recorded status.
package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/jobrunner/pkg/execution"
	"github.com/3leaps/jobrunner/pkg/provider"
	"github.com/3leaps/jobrunner/pkg/runrecord"
)

// DefaultUploadTimeout bounds every single upload.
const DefaultUploadTimeout = 60 * time.Second

// UploadError records a failed upload.
type UploadError struct {
	Key string
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.Key, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Options configures a Reporter.
type Options struct {
	// Prefix is the storage root. Empty means DefaultPrefix.
	Prefix string

	// UploadRate caps uploads per second. Zero means unlimited.
	UploadRate float64

	// UploadTimeout bounds each upload. Zero means DefaultUploadTimeout.
	UploadTimeout time.Duration

	// KeepArtifacts leaves local attempt artifacts on disk after reporting.
	KeepArtifacts bool

	Logger *zap.Logger
}

// Reporter writes run artifacts to a sink.
type Reporter struct {
	sink    provider.Sink
	opts    Options
	limiter *rate.Limiter
	log     *zap.Logger
}

// New creates a reporter writing to sink.
func New(sink provider.Sink, opts Options) *Reporter {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = DefaultUploadTimeout
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	r := &Reporter{sink: sink, opts: opts, log: log}
	if opts.UploadRate > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(opts.UploadRate), 1)
	}
	return r
}

// Keys returns the storage keys for rec.
func (r *Reporter) Keys(rec *runrecord.RunRecord) Keys {
	return RunKeys(r.opts.Prefix, rec)
}

// Report uploads the final attempt's combined log, its status marker and its
// status document, in that order, then removes the attempt's local artifacts.
//
// The record's LogLocation is set to the log's URI before the status
// document is rendered. Uploads run on a context detached from ctx so a
// cancelled batch still reports its in-flight run.
func (r *Reporter) Report(ctx context.Context, a *execution.Attempt) error {
	rec := a.Record
	keys := r.Keys(rec)
	rec.LogLocation = r.sink.URI(keys.Log)

	log := r.log.With(zap.String("job", rec.JobName), zap.String("run_id", rec.RunID))
	var errs []error

	if err := r.put(ctx, keys.Log, combinedLog(a)); err != nil {
		errs = append(errs, err)
	}
	if err := r.put(ctx, keys.Marker, nil); err != nil {
		errs = append(errs, err)
	}
	doc, err := rec.MarshalDocument()
	if err != nil {
		errs = append(errs, fmt.Errorf("render status document: %w", err))
	} else if err := r.put(ctx, keys.Status, doc); err != nil {
		errs = append(errs, err)
	}

	if !r.opts.KeepArtifacts && a.Artifacts != nil {
		if err := a.Artifacts.Remove(); err != nil {
			log.Warn("Failed to remove local artifacts", zap.String("dir", a.Artifacts.Dir), zap.Error(err))
		}
	}

	if len(errs) > 0 {
		for _, e := range errs {
			log.Warn("Report upload failed", zap.String("cause", failureCause(e)), zap.Error(e))
		}
		return errors.Join(errs...)
	}
	log.Info("Reported run",
		zap.String("status", rec.Status.DocumentStatus()),
		zap.String("log", rec.LogLocation),
	)
	return nil
}

// ReportBatch uploads the per-batch CSV run log with one row per record and
// returns its URI.
func (r *Reporter) ReportBatch(ctx context.Context, batchID string, started time.Time, records []*runrecord.RunRecord) (string, error) {
	body, err := BatchCSV(records)
	if err != nil {
		return "", err
	}
	key := BatchKey(r.opts.Prefix, batchID, started)
	if err := r.put(ctx, key, body); err != nil {
		r.log.Warn("Batch run log upload failed",
			zap.String("batch_id", batchID), zap.String("cause", failureCause(err)), zap.Error(err))
		return "", err
	}
	uri := r.sink.URI(key)
	r.log.Info("Reported batch", zap.String("batch_id", batchID), zap.Int("rows", len(records)), zap.String("key", key))
	return uri, nil
}

// BatchCSV renders records as the tabular run log.
func BatchCSV(records []*runrecord.RunRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(runrecord.CSVHeader); err != nil {
		return nil, err
	}
	for _, rec := range records {
		if err := w.Write(rec.CSVRow()); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("render run log: %w", err)
	}
	return buf.Bytes(), nil
}

// put uploads body under key, retrying once on a transient sink error.
func (r *Reporter) put(ctx context.Context, key string, body []byte) error {
	err := r.putOnce(ctx, key, body)
	if err != nil && provider.IsTransient(err) {
		r.log.Debug("Retrying upload", zap.String("key", key), zap.Error(err))
		err = r.putOnce(ctx, key, body)
	}
	if err != nil {
		return &UploadError{Key: key, Err: err}
	}
	return nil
}

func (r *Reporter) putOnce(ctx context.Context, key string, body []byte) error {
	uploadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.UploadTimeout)
	defer cancel()

	if r.limiter != nil {
		if err := r.limiter.Wait(uploadCtx); err != nil {
			return err
		}
	}
	return r.sink.PutObject(uploadCtx, key, bytes.NewReader(body), int64(len(body)))
}

// failureCause names the sink failure class for operators.
func failureCause(err error) string {
	switch {
	case provider.IsInvalidCredentials(err):
		return "invalid_credentials"
	case provider.IsAccessDenied(err):
		return "access_denied"
	case provider.IsBucketNotFound(err):
		return "bucket_not_found"
	case provider.IsThrottled(err):
		return "throttled"
	case provider.IsProviderUnavailable(err):
		return "unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "other"
	}
}

// combinedLog joins an attempt's captured streams into one document.
func combinedLog(a *execution.Attempt) []byte {
	var buf bytes.Buffer
	rec := a.Record
	fmt.Fprintf(&buf, "# job=%s run_id=%s attempt=%d host=%s\n", rec.JobName, rec.RunID, rec.Attempt, rec.Host)
	if a.Invocation.Path != "" {
		fmt.Fprintf(&buf, "# command: %s\n", a.Invocation.Display())
	}
	fmt.Fprintf(&buf, "# exit_code=%d status=%s", rec.ExitCode, rec.Status.DocumentStatus())
	if rec.Reason != "" {
		fmt.Fprintf(&buf, " reason=%q", rec.Reason)
	}
	buf.WriteString("\n")

	var stdout, stderr []byte
	if a.Artifacts != nil {
		stdout, _ = os.ReadFile(a.Artifacts.StdoutPath())
		stderr, _ = os.ReadFile(a.Artifacts.StderrPath())
	}
	writeSection(&buf, "stdout", stdout)
	writeSection(&buf, "stderr", stderr)
	return buf.Bytes()
}

func writeSection(buf *bytes.Buffer, name string, body []byte) {
	fmt.Fprintf(buf, "\n===== %s =====\n", name)
	buf.Write(body)
	if len(body) > 0 && body[len(body)-1] != '\n' {
		buf.WriteByte('\n')
	}
}
