// Package config loads the orchestrator's immutable runtime configuration
// from defaults, an optional file, JOBRUNNER_* environment variables and
// runtime overrides.
package config

import (
	"time"
)

// Config is the decoded configuration. Treat it as read-only after Load.
type Config struct {
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Classify  ClassifyConfig  `mapstructure:"classify"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Lock      LockConfig      `mapstructure:"lock"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Report    ReportConfig    `mapstructure:"report"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type JobsConfig struct {
	// File is the job list (pipe-delimited, .yaml/.yml or .toml).
	File string `mapstructure:"file"`

	// Only selects jobs by name glob. Empty selects all.
	Only []string `mapstructure:"only"`
}

// CommandLine is a worker command. A string value is split on whitespace.
type CommandLine []string

type WorkerConfig struct {
	Command      CommandLine   `mapstructure:"command"`
	Mode         string        `mapstructure:"mode"`
	SecretID     string        `mapstructure:"secret_id"`
	Region       string        `mapstructure:"region"`
	GlueDB       string        `mapstructure:"glue_db"`
	AthenaOutput string        `mapstructure:"athena_output"`
	Workgroup    string        `mapstructure:"workgroup"`
	SSLMode      string        `mapstructure:"sslmode"`
	OpLiteral    string        `mapstructure:"op_literal"`
	SQLDir       string        `mapstructure:"sql_dir"`
	Timeout      time.Duration `mapstructure:"timeout"`
	CancelGrace  time.Duration `mapstructure:"cancel_grace"`

	Defaults WorkerDefaults `mapstructure:"defaults"`
}

// WorkerDefaults resolve job-level tri-states left unset.
type WorkerDefaults struct {
	AlignSchema  bool `mapstructure:"align_schema"`
	Debug        bool `mapstructure:"debug"`
	Dedupe       bool `mapstructure:"dedupe"`
	DropStaging  bool `mapstructure:"drop_staging"`
	PurgeStaging bool `mapstructure:"purge_staging"`
}

type ClassifyConfig struct {
	ErrorSignatures      []string `mapstructure:"error_signatures"`
	EmptyWriteIsFailure  bool     `mapstructure:"empty_write_is_failure"`
	EmptyWriteSignatures []string `mapstructure:"empty_write_signatures"`
}

type RetryConfig struct {
	// MaxAttempts counts retries after the first attempt.
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

type BatchConfig struct {
	InterJobDelay time.Duration `mapstructure:"inter_job_delay"`
}

type LockConfig struct {
	Dir string `mapstructure:"dir"`
}

type WorkspaceConfig struct {
	Dir  string `mapstructure:"dir"`
	Keep bool   `mapstructure:"keep"`
}

type StorageConfig struct {
	Provider       string  `mapstructure:"provider"`
	Bucket         string  `mapstructure:"bucket"`
	Prefix         string  `mapstructure:"prefix"`
	Region         string  `mapstructure:"region"`
	Endpoint       string  `mapstructure:"endpoint"`
	Profile        string  `mapstructure:"profile"`
	ForcePathStyle bool    `mapstructure:"force_path_style"`
	DetectRegion   bool    `mapstructure:"detect_region"`
	BaseDir        string  `mapstructure:"base_dir"`
	UploadRate     float64 `mapstructure:"upload_rate"`
}

type ReportConfig struct {
	Timezone      string `mapstructure:"timezone"`
	TimezoneLabel string `mapstructure:"timezone_label"`
}

type LedgerConfig struct {
	// Path of the SQLite run ledger. Empty disables it.
	Path string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
