package cmd

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"chatvault/database"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show the archive's download preferences",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := newLogger()

		store, err := openStore(ctx, cmd, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		autoStart, err := database.GetSetting(ctx, store.Settings, database.KeyDownloadsAutoStart)
		if err != nil {
			return err
		}
		limitSize, err := database.GetSetting(ctx, store.Settings, database.KeyDownloadsLimitSize)
		if err != nil {
			return err
		}
		maxSize, err := database.GetSetting(ctx, store.Settings, database.KeyDownloadsMaxSize)
		if err != nil {
			return err
		}

		fmt.Printf("auto-start: %v\n", autoStart)
		fmt.Printf("limit-size: %v\n", limitSize)
		fmt.Printf("max-size:   %s\n", humanize.Bytes(maxSize))
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change a download preference (auto-start, limit-size, max-size)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := newLogger()

		store, err := openStore(ctx, cmd, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		key, value := args[0], args[1]
		switch key {
		case "auto-start", "limit-size":
			parsed, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("%s expects true or false, got %q", key, value)
			}
			settingsKey := database.KeyDownloadsAutoStart
			if key == "limit-size" {
				settingsKey = database.KeyDownloadsLimitSize
			}
			if err := database.SetSetting(ctx, store.Settings, settingsKey, parsed); err != nil {
				return err
			}
		case "max-size":
			parsed, err := humanize.ParseBytes(value)
			if err != nil {
				return fmt.Errorf("max-size expects a byte size such as 500MB, got %q", value)
			}
			if err := database.SetSetting(ctx, store.Settings, database.KeyDownloadsMaxSize, parsed); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown setting %q", key)
		}

		fmt.Printf("%s = %s\n", key, value)
		return nil
	},
}

func init() {
	settingsCmd.AddCommand(settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}
