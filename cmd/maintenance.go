package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var vacuumCmd = &cobra.Command{
	Use:   "vacuum",
	Short: "Reclaim space freed by removed messages and downloads",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := newLogger()

		store, err := openStore(ctx, cmd, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Vacuum(ctx); err != nil {
			return err
		}
		fmt.Println("Archive compacted.")
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove rows nothing references anymore",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := newLogger()

		store, err := openStore(ctx, cmd, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		removed, err := store.RemoveUnreachable(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d unreachable rows.\n", removed)
		return nil
	},
}

var mergeCmd = &cobra.Command{
	Use:   "merge <source.db>",
	Short: "Merge another archive into this one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := newLogger()

		store, err := openStore(ctx, cmd, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		assumeYes, _ := cmd.Flags().GetBool("yes")
		callbacks := promptCallbacks{logger: logger, assumeYes: assumeYes}

		if err := store.AddFrom(ctx, args[0], callbacks); err != nil {
			return err
		}
		fmt.Printf("Merged %s.\n", args[0])
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Requeue failed downloads",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := newLogger()

		store, err := openStore(ctx, cmd, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		retried, err := store.Downloads.RetryFailed(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Requeued %d failed downloads.\n", retried)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(vacuumCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(retryCmd)
}
