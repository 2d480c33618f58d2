package cmd

import (
	"runtime"

	"github.com/spf13/cobra"
)

// set with -ldflags at build time
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = ""
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of confmon",
	Run: func(cmd *cobra.Command, args []string) {
		outLogger.Printf("confmon %s (commit %s, built %s, %s)", Version, GitCommit, BuildDate, runtime.Version())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
