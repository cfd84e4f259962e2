package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix prefixes every environment override, e.g. JOBRUNNER_RETRY_MAX_ATTEMPTS.
const EnvPrefix = "JOBRUNNER"

// SetDefaults registers every key with its default. Keys must be registered
// for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("jobs.file", "jobs.psv")
	v.SetDefault("jobs.only", []string{})

	v.SetDefault("worker.command", []string{"python3", "micro_batch_data.py"})
	v.SetDefault("worker.mode", "full-run")
	v.SetDefault("worker.secret_id", "")
	v.SetDefault("worker.region", "")
	v.SetDefault("worker.glue_db", "")
	v.SetDefault("worker.athena_output", "")
	v.SetDefault("worker.workgroup", "")
	v.SetDefault("worker.sslmode", "")
	v.SetDefault("worker.op_literal", "micro-batch")
	v.SetDefault("worker.sql_dir", ".")
	v.SetDefault("worker.timeout", "0s")
	v.SetDefault("worker.cancel_grace", "30s")
	v.SetDefault("worker.defaults.align_schema", false)
	v.SetDefault("worker.defaults.debug", false)
	v.SetDefault("worker.defaults.dedupe", true)
	v.SetDefault("worker.defaults.drop_staging", false)
	v.SetDefault("worker.defaults.purge_staging", false)

	v.SetDefault("classify.error_signatures", []string{
		"SCHEMA_NOT_FOUND", "AccessDenied", "AccessDeniedException",
		"EntityNotFoundException", "TABLE_NOT_FOUND", "[ERROR]",
	})
	v.SetDefault("classify.empty_write_is_failure", false)
	v.SetDefault("classify.empty_write_signatures", []string{"extracted rows=0", "0 rows written", "wrote 0 rows"})

	v.SetDefault("retry.max_attempts", 2)
	v.SetDefault("retry.initial_backoff", "30s")
	v.SetDefault("retry.max_backoff", "0s")

	v.SetDefault("batch.inter_job_delay", "5s")

	v.SetDefault("lock.dir", filepath.Join(os.TempDir(), "jobrunner-locks"))

	v.SetDefault("workspace.dir", filepath.Join(os.TempDir(), "jobrunner-runs"))
	v.SetDefault("workspace.keep", false)

	v.SetDefault("storage.provider", "s3")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "etl-logs")
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.profile", "")
	v.SetDefault("storage.force_path_style", false)
	v.SetDefault("storage.detect_region", false)
	v.SetDefault("storage.base_dir", "")
	v.SetDefault("storage.upload_rate", 0.0)

	v.SetDefault("report.timezone", "Asia/Jakarta")
	v.SetDefault("report.timezone_label", "WIB")

	v.SetDefault("ledger.path", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// BindEnv enables JOBRUNNER_* overrides ("." becomes "_").
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load builds a Config from defaults, configFile (if non-empty), the
// environment and overrides, in increasing precedence.
func Load(configFile string, overrides ...map[string]any) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	BindEnv(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}
	for _, o := range overrides {
		if err := v.MergeConfigMap(o); err != nil {
			return nil, fmt.Errorf("apply overrides: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		commandLineHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		trimSliceHook(),
	)
}

// commandLineHook splits a string worker command on whitespace, so
// JOBRUNNER_WORKER_COMMAND="python3 /opt/etl/micro_batch_data.py" works.
func commandLineHook() mapstructure.DecodeHookFuncType {
	target := reflect.TypeOf(CommandLine{})
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != target || from.Kind() != reflect.String {
			return data, nil
		}
		return CommandLine(strings.Fields(data.(string))), nil
	}
}

// trimSliceHook drops blanks left by "a, b," style env lists.
func trimSliceHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to.Kind() != reflect.Slice || to.Elem().Kind() != reflect.String {
			return data, nil
		}
		in, ok := data.([]string)
		if !ok {
			return data, nil
		}
		out := make([]string, 0, len(in))
		for _, s := range in {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	}
}

// Validate checks the configuration for values no component could use.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(c.Jobs.File) == "" {
		add("jobs.file is required")
	}
	if len(c.Worker.Command) == 0 {
		add("worker.command is required")
	}
	if c.Worker.Timeout < 0 {
		add("worker.timeout must be >= 0")
	}
	if c.Worker.CancelGrace < 0 {
		add("worker.cancel_grace must be >= 0")
	}
	if c.Retry.MaxAttempts < 0 {
		add("retry.max_attempts must be >= 0")
	}
	if c.Retry.InitialBackoff < 0 || c.Retry.MaxBackoff < 0 {
		add("retry backoff durations must be >= 0")
	}
	if c.Batch.InterJobDelay < 0 {
		add("batch.inter_job_delay must be >= 0")
	}
	if strings.TrimSpace(c.Lock.Dir) == "" {
		add("lock.dir is required")
	}
	if strings.TrimSpace(c.Workspace.Dir) == "" {
		add("workspace.dir is required")
	}

	// Bucket and base dir are checked when the sink is built; commands
	// that never upload do not need them.
	switch c.Storage.Provider {
	case "s3", "file":
	default:
		add("storage.provider must be s3 or file, got %q", c.Storage.Provider)
	}
	if c.Storage.UploadRate < 0 {
		add("storage.upload_rate must be >= 0")
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		add("logging.level: %v", err)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		add("logging.format must be console or json, got %q", c.Logging.Format)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
