package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var versionCmd = &cobra.Command{
	Use:     "version",
	Aliases: []string{"v"},
	Short:   "Print the version number of chatvault",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("chatvault version: %s %s/%s\nBuildTime: %s, Commit: %s\n", Version, runtime.GOOS, runtime.GOARCH, BuildTime, GitCommit)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
