package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"chatvault/config"
)

var rootCmd = &cobra.Command{
	Use:   "chatvault",
	Short: "Local-first archive for captured chat history",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.Init(config.GetConfigFile(cmd))
	},
}

func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	config.RegisterFlags(rootCmd)
	rootCmd.PersistentFlags().BoolP("yes", "y", false, "answer yes to schema upgrade prompts")
}

func newLogger() *log.Logger {
	level := log.InfoLevel
	if parsed, err := log.ParseLevel(strings.ToLower(config.Cfg.Log.Level)); err == nil {
		level = parsed
	}
	return log.NewWithOptions(os.Stderr, log.Options{
		Level:           level,
		ReportTimestamp: true,
	})
}
