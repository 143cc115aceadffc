package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"chatvault/config"
	"chatvault/database"
)

// promptCallbacks gates schema upgrades on an interactive yes and
// reports migration progress to the log.
type promptCallbacks struct {
	logger    *log.Logger
	assumeYes bool
}

func (c promptCallbacks) CanUpgrade(fromVersion, toVersion int) (bool, error) {
	if c.assumeYes {
		return true, nil
	}

	fmt.Printf("This archive uses schema version %d and will be upgraded to version %d.\n", fromVersion, toVersion)
	fmt.Print("The upgrade cannot be undone. Continue? [y/N] ")

	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, err
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}

func (c promptCallbacks) MainWork(message string, finished, total int) {
	c.logger.Info(message, "step", finished, "of", total)
}

func (c promptCallbacks) SubWork(message string, finished, total int) {
	c.logger.Debug(message, "done", finished, "of", total)
}

func openStore(ctx context.Context, cmd *cobra.Command, logger *log.Logger) (*database.Store, error) {
	path := config.Cfg.DB.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	assumeYes, _ := cmd.Flags().GetBool("yes")
	callbacks := promptCallbacks{logger: logger, assumeYes: assumeYes}

	return database.OpenOrCreate(ctx, path, config.Cfg.DB.PoolSize, callbacks, logger)
}
