package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		name := "jobrunner"
		if id := GetAppIdentity(); id != nil && id.BinaryName != "" {
			name = id.BinaryName
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", name, versionInfo.Version)
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  commit: %s\n", versionInfo.Commit)
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  built:  %s\n", versionInfo.BuildDate)
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  go:     %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
