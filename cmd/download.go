package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"chatvault/config"
	"chatvault/database"
	"chatvault/downloader"
	"chatvault/pkg/tasks"
	"chatvault/types"
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Fetch pending attachments into the archive",
	Long: "Enqueues attachments without a stored copy, then runs the download " +
		"pipeline until the backlog is empty or the process is interrupted.",
	RunE: runDownload,
}

func init() {
	downloadCmd.Flags().Bool("all", false, "ignore the configured size cap")
	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := newLogger()

	store, err := openStore(ctx, cmd, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ignoreCap, _ := cmd.Flags().GetBool("all")

	var filter *types.DownloadFilter
	if !ignoreCap {
		filter, err = store.Settings.DownloadFilter(ctx)
		if err != nil {
			return err
		}
	}

	var attachmentFilter *types.AttachmentFilter
	if filter != nil {
		attachmentFilter = &types.AttachmentFilter{MaxBytes: filter.MaxBytes}
	}
	enqueued, err := store.Downloads.EnqueueFromAttachments(ctx, attachmentFilter)
	if err != nil {
		return err
	}
	if enqueued > 0 {
		logger.Info("enqueued attachments", "count", enqueued)
	}

	derived, err := store.Downloads.EnqueueDerived(ctx)
	if err != nil {
		return err
	}
	if derived > 0 {
		logger.Info("enqueued embeds, avatars and emoji", "count", derived)
	}

	backlog, err := store.Downloads.CountMatching(ctx, &types.DownloadFilter{
		IncludeStatuses: map[types.DownloadStatus]struct{}{
			types.StatusPending:     {},
			types.StatusEnqueued:    {},
			types.StatusDownloading: {},
		},
	})
	if err != nil {
		return err
	}
	if backlog == 0 {
		fmt.Println("Nothing to download.")
		return nil
	}
	logger.Info("starting downloads", "backlog", backlog)

	dl := downloader.New(store, logger, downloader.Options{
		Workers:   config.Cfg.Downloads.Workers,
		QueueSize: config.Cfg.Downloads.QueueSize,
		Timeout:   time.Duration(config.Cfg.Downloads.Timeout) * time.Second,
		UserAgent: config.Cfg.Downloads.UserAgent,
		RateLimit: config.Cfg.Downloads.RateLimit,
		ProxyURL:  config.Cfg.Downloads.Proxy.URL,
	})
	defer dl.Close()

	dl.Start(filter)

	remainingFilter := &types.DownloadFilter{
		IncludeStatuses: map[types.DownloadStatus]struct{}{
			types.StatusPending:     {},
			types.StatusEnqueued:    {},
			types.StatusDownloading: {},
		},
	}
	if filter != nil {
		remainingFilter.MaxBytes = filter.MaxBytes
	}

	// Each tick restarts the backlog count, so a count stuck behind a
	// busy database is cancelled instead of stacking behind the next
	// tick. Delivery is non-blocking; a dropped value is replaced by
	// the next tick's.
	counts := make(chan int64, 1)
	recount := tasks.NewRestartable(logger, func(remaining int64) {
		select {
		case counts <- remaining:
		default:
		}
	})
	defer recount.Cancel()

	// Progress reports run single-flight: a slow aggregate swallows
	// intermediate requests rather than queueing them.
	progress := tasks.NewValueComputer(logger, func(stats database.DownloadStatistics) {
		logger.Info("progress",
			"fetched", stats.SuccessfulCount,
			"failed", stats.FailedCount,
			"pending", stats.PendingCount)
	})
	defer progress.Cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	progressTicker := time.NewTicker(5 * time.Second)
	defer progressTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("interrupted, stopping downloads")
			dl.Stop()
			return nil
		case <-ticker.C:
			recount.Restart(func(ctx context.Context) (int64, error) {
				return store.Downloads.CountMatching(ctx, remainingFilter)
			})
		case <-progressTicker.C:
			progress.Compute(func(ctx context.Context) (database.DownloadStatistics, error) {
				return store.Downloads.Statistics(ctx)
			})
		case remaining := <-counts:
			if remaining == 0 {
				dl.Stop()
				stats, err := store.Downloads.Statistics(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Done: %d files (%s), %d failed.\n",
					stats.SuccessfulCount, humanize.Bytes(stats.SuccessfulSize), stats.FailedCount)
				return nil
			}
		}
	}
}
