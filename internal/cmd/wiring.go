package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"go.uber.org/zap"

	"github.com/3leaps/jobrunner/internal/config"
	"github.com/3leaps/jobrunner/pkg/execution"
	"github.com/3leaps/jobrunner/pkg/jobspec"
	"github.com/3leaps/jobrunner/pkg/provider"
	"github.com/3leaps/jobrunner/pkg/provider/file"
	"github.com/3leaps/jobrunner/pkg/provider/s3"
	"github.com/3leaps/jobrunner/pkg/report"
	"github.com/3leaps/jobrunner/pkg/retry"
)

// loadJobs reads the job list, logs malformed rows and applies the job
// selection patterns.
func loadJobs(path string, patterns []string, log *zap.Logger) ([]jobspec.JobSpec, []*jobspec.MalformedRowError, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil, exitError(foundry.ExitFileNotFound, "Job list not found", err)
		}
		return nil, nil, exitError(foundry.ExitFileReadError, "Failed to read job list", err)
	}

	specs, bad, err := jobspec.LoadFile(path)
	if err != nil {
		return nil, nil, exitError(foundry.ExitFileReadError, "Failed to read job list", err)
	}
	for _, b := range bad {
		log.Warn("Skipping malformed job row",
			zap.String("file", path),
			zap.Int("line", b.Line),
			zap.String("job", b.Name),
			zap.Error(b))
	}

	selected, err := jobspec.Select(specs, patterns)
	if err != nil {
		return nil, bad, exitError(foundry.ExitInvalidArgument, "Invalid job selection", err)
	}
	return selected, bad, nil
}

// workerDefaults converts the worker section; command overrides the
// configured command when non-nil.
func workerDefaults(w config.WorkerConfig, command []string) execution.Defaults {
	if command == nil {
		command = w.Command
	}
	return execution.Defaults{
		Command:      command,
		Mode:         w.Mode,
		SecretID:     w.SecretID,
		Region:       w.Region,
		GlueDB:       w.GlueDB,
		AthenaOutput: w.AthenaOutput,
		Workgroup:    w.Workgroup,
		SSLMode:      w.SSLMode,
		OpLiteral:    w.OpLiteral,
		AlignSchema:  w.Defaults.AlignSchema,
		Debug:        w.Defaults.Debug,
		Dedupe:       w.Defaults.Dedupe,
		DropStaging:  w.Defaults.DropStaging,
		PurgeStaging: w.Defaults.PurgeStaging,
	}
}

func engineConfig(cfg *config.Config, command []string) execution.Config {
	return execution.Config{
		Defaults: workerDefaults(cfg.Worker, command),
		Policy: execution.Policy{
			ErrorSignatures:      cfg.Classify.ErrorSignatures,
			EmptyWriteIsFailure:  cfg.Classify.EmptyWriteIsFailure,
			EmptyWriteSignatures: cfg.Classify.EmptyWriteSignatures,
		},
		SQLDir:  cfg.Worker.SQLDir,
		Timeout: cfg.Worker.Timeout,
	}
}

func retryOptions(cfg *config.Config, log *zap.Logger) retry.Options {
	return retry.Options{
		MaxRetries: cfg.Retry.MaxAttempts,
		Backoff:    retry.NewExponential(cfg.Retry.InitialBackoff, cfg.Retry.MaxBackoff),
		Logger:     log,
	}
}

func reportOptions(cfg *config.Config, keep bool, log *zap.Logger) report.Options {
	return report.Options{
		Prefix:        cfg.Storage.Prefix,
		UploadRate:    cfg.Storage.UploadRate,
		KeepArtifacts: keep || cfg.Workspace.Keep,
		Logger:        log,
	}
}

// newSink builds the durable sink selected by storage.provider.
func newSink(ctx context.Context, sc config.StorageConfig) (provider.Sink, error) {
	pt, ok := provider.ParseProviderType(sc.Provider)
	if !ok {
		return nil, exitError(foundry.ExitInvalidArgument, "Unsupported storage provider", fmt.Errorf("provider %q", sc.Provider))
	}

	switch pt {
	case provider.ProviderFile:
		fc := file.Config{BaseDir: sc.BaseDir}
		if err := fc.Validate(); err != nil {
			return nil, exitError(foundry.ExitInvalidArgument, "Invalid storage configuration", fmt.Errorf("storage.base_dir: %w", err))
		}
		p, err := file.New(fc)
		if err != nil {
			return nil, exitError(foundry.ExitFileWriteError, "Failed to open storage directory", err)
		}
		return p, nil
	default:
		s3cfg := s3.Config{
			Bucket:         sc.Bucket,
			Region:         sc.Region,
			Endpoint:       sc.Endpoint,
			Profile:        sc.Profile,
			ForcePathStyle: sc.ForcePathStyle,
			DetectRegion:   sc.DetectRegion,
		}
		p, err := s3.New(ctx, s3cfg)
		if err != nil {
			var cfgErr *s3.ConfigError
			if errors.As(err, &cfgErr) {
				return nil, exitError(foundry.ExitInvalidArgument, "Invalid storage configuration", err)
			}
			return nil, exitError(foundry.ExitExternalServiceUnavailable, "Failed to connect to storage provider", err)
		}
		return p, nil
	}
}
