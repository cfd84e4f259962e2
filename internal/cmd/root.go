package cmd

import (
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/3leaps/jobrunner/internal/config"
	"github.com/3leaps/jobrunner/internal/observability"
)

// VersionInfo is injected by main from build flags.
type VersionInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

var versionInfo = VersionInfo{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata for the version command.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// AppIdentity names the binary and its configuration surface.
type AppIdentity struct {
	BinaryName string
	EnvPrefix  string
}

var appIdentity *AppIdentity

// GetAppIdentity returns the identity set at init, or nil.
func GetAppIdentity() *AppIdentity {
	return appIdentity
}

var (
	cfgFile string

	// appConfig is loaded once in PersistentPreRunE and never modified.
	appConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "jobrunner",
	Short: "Micro-batch ETL job orchestrator",
	Long: `jobrunner runs a list of micro-batch ETL jobs one after another.

Each job is handed to an external worker process. Outcomes are classified
from the exit code and the worker's output, failed jobs are retried with
exponential backoff, and every attempt is reported to object storage as a
combined log, a _SUCCESS/_ERROR marker and a monitoring status document.

Configuration comes from defaults, an optional --config file and
JOBRUNNER_* environment variables (e.g. JOBRUNNER_STORAGE_BUCKET).

Examples:
  jobrunner validate --jobs jobs.psv
  jobrunner plan --jobs jobs.psv --only 'order*'
  jobrunner run --config /etc/jobrunner/jobrunner.yaml
  jobrunner history --job orders --limit 10`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initRuntime,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	appIdentity = &AppIdentity{BinaryName: "jobrunner", EnvPrefix: config.EnvPrefix}
	setDefaults()

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Config file (YAML, TOML or JSON)")
	flags.String("jobs", "", "Job list file (overrides jobs.file)")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	flags.String("log-format", "", "Log format: console or json")
	bindFlags()

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return exitError(foundry.ExitInvalidArgument, "Invalid flags", err)
	})
}

func bindFlags() {
	flags := rootCmd.PersistentFlags()
	_ = viper.BindPFlag("jobs.file", flags.Lookup("jobs"))
	_ = viper.BindPFlag("logging.level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", flags.Lookup("log-format"))
}

// setDefaults registers configuration defaults on the global viper.
func setDefaults() {
	config.SetDefaults(viper.GetViper())
}

func initRuntime(cmd *cobra.Command, _ []string) error {
	v := viper.GetViper()
	config.BindEnv(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return exitError(foundry.ExitFileReadError, "Failed to read config file", err)
		}
	}

	cfg, err := config.FromViper(v)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	if err := observability.InitCLILogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	appConfig = cfg
	return nil
}

// ExitCodeError carries the process exit code for a failed command.
type ExitCodeError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitCodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s (exit code %d)", e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %v (exit code %d)", e.Message, e.Err, e.Code)
}

func (e *ExitCodeError) Unwrap() error { return e.Err }

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &ExitCodeError{Code: code, Message: message, Err: err}
}

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ec *ExitCodeError
	if errors.As(err, &ec) {
		return ec.Code
	}
	return 1
}
