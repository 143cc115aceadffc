package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print archive statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := newLogger()

		store, err := openStore(ctx, cmd, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := store.Statistics(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Servers:      %d\n", stats.Servers)
		fmt.Printf("Channels:     %d\n", stats.Channels)
		fmt.Printf("Users:        %d\n", stats.Users)
		fmt.Printf("Messages:     %d\n", stats.Messages)
		fmt.Printf("Attachments:  %d\n", stats.Attachments)
		fmt.Println("Downloads:")
		fmt.Printf("  pending:    %d (%s)\n", stats.Downloads.PendingCount, humanize.Bytes(stats.Downloads.PendingSize))
		fmt.Printf("  successful: %d (%s)\n", stats.Downloads.SuccessfulCount, humanize.Bytes(stats.Downloads.SuccessfulSize))
		fmt.Printf("  failed:     %d (%s)\n", stats.Downloads.FailedCount, humanize.Bytes(stats.Downloads.FailedSize))
		fmt.Printf("  skipped:    %d (%s)\n", stats.Downloads.SkippedCount, humanize.Bytes(stats.Downloads.SkippedSize))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
