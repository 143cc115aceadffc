package database_test

import (
	"context"
	"testing"

	"chatvault/types"
)

func TestPullPendingClaimsRows(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	urls := []string{
		"https://cdn.discordapp.com/attachments/1/1/a.png",
		"https://cdn.discordapp.com/attachments/1/2/b.png",
	}
	for _, url := range urls {
		d := types.NewPendingDownload(url, url, nil, nil)
		if err := store.Downloads.AddDownload(ctx, d, nil); err != nil {
			t.Fatalf("adding download: %v", err)
		}
	}

	items, err := store.Downloads.PullPending(ctx, 10, nil)
	if err != nil {
		t.Fatalf("pulling pending: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("pulled %d items; want 2", len(items))
	}

	// Claimed rows are marked downloading inside the pull, so a second
	// pull must come back empty.
	again, err := store.Downloads.PullPending(ctx, 10, nil)
	if err != nil {
		t.Fatalf("pulling again: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second pull returned %d items; want 0", len(again))
	}
}

func TestPullPendingHonorsLimitAndFilter(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	small := types.NewPendingDownload("https://cdn.discordapp.com/attachments/1/1/a.png", "https://cdn.discordapp.com/attachments/1/1/a.png", nil, ptr[uint64](10))
	large := types.NewPendingDownload("https://cdn.discordapp.com/attachments/1/2/b.png", "https://cdn.discordapp.com/attachments/1/2/b.png", nil, ptr[uint64](1000))
	for _, d := range []types.Download{small, large} {
		if err := store.Downloads.AddDownload(ctx, d, nil); err != nil {
			t.Fatalf("adding download: %v", err)
		}
	}

	filter := &types.DownloadFilter{MaxBytes: ptr[uint64](100)}
	items, err := store.Downloads.PullPending(ctx, 10, filter)
	if err != nil {
		t.Fatalf("pulling with filter: %v", err)
	}
	if len(items) != 1 || items[0].NormalizedURL != small.NormalizedURL {
		t.Errorf("size filter pulled wrong rows: %+v", items)
	}
}

func TestRetryFailed(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	rows := []types.Download{
		{NormalizedURL: "https://cdn.discordapp.com/a", DownloadURL: "https://cdn.discordapp.com/a", Status: types.DownloadStatus(404)},
		{NormalizedURL: "https://cdn.discordapp.com/b", DownloadURL: "https://cdn.discordapp.com/b", Status: types.StatusGenericError},
		{NormalizedURL: "https://cdn.discordapp.com/c", DownloadURL: "https://cdn.discordapp.com/c", Status: types.StatusSuccess},
	}
	for _, d := range rows {
		if err := store.Downloads.AddDownload(ctx, d, nil); err != nil {
			t.Fatalf("adding download: %v", err)
		}
	}

	retried, err := store.Downloads.RetryFailed(ctx)
	if err != nil {
		t.Fatalf("retrying: %v", err)
	}
	if retried != 2 {
		t.Errorf("retried %d rows; want 2", retried)
	}

	pending, err := store.Downloads.CountMatching(ctx, &types.DownloadFilter{
		IncludeStatuses: map[types.DownloadStatus]struct{}{types.StatusPending: {}},
	})
	if err != nil {
		t.Fatalf("counting pending: %v", err)
	}
	if pending != 2 {
		t.Errorf("pending after retry = %d; want 2", pending)
	}

	success, err := store.Downloads.CountMatching(ctx, &types.DownloadFilter{
		IncludeStatuses: map[types.DownloadStatus]struct{}{types.StatusSuccess: {}},
	})
	if err != nil {
		t.Fatalf("counting successful: %v", err)
	}
	if success != 1 {
		t.Errorf("successful rows were retried: count = %d; want 1", success)
	}
}

func TestEnqueueFromAttachments(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	seedChannel(t, store, 1, 10)

	smallURL := "https://cdn.discordapp.com/attachments/10/1/small.png"
	largeURL := "https://cdn.discordapp.com/attachments/10/2/large.png"
	message := testMessage(1000, 10)
	message.Attachments = []types.Attachment{
		{ID: 1, Name: "small.png", NormalizedURL: smallURL, DownloadURL: smallURL, Size: 10},
		{ID: 2, Name: "large.png", NormalizedURL: largeURL, DownloadURL: largeURL, Size: 1000},
	}
	if err := store.Messages.Upsert(ctx, []types.Message{message}); err != nil {
		t.Fatalf("upserting message: %v", err)
	}

	// Clear the rows the upsert collected, then re-enqueue with a size
	// cap: only the small attachment comes back.
	if _, err := store.Downloads.Remove(ctx, nil, types.RemoveMatching); err != nil {
		t.Fatalf("clearing downloads: %v", err)
	}

	added, err := store.Downloads.EnqueueFromAttachments(ctx, &types.AttachmentFilter{MaxBytes: ptr[uint64](100)})
	if err != nil {
		t.Fatalf("enqueuing: %v", err)
	}
	if added != 1 {
		t.Errorf("enqueued %d rows; want 1", added)
	}

	downloads, err := store.Downloads.Get(ctx, nil)
	if err != nil {
		t.Fatalf("getting downloads: %v", err)
	}
	if len(downloads) != 1 || downloads[0].NormalizedURL != smallURL {
		t.Errorf("wrong rows enqueued: %+v", downloads)
	}
}

func TestEnqueueDerived(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	seedChannel(t, store, 1, 10)

	avatarHash := "a1b2c3"
	if err := store.Users.Upsert(ctx, []types.User{{ID: 100, Name: "author", AvatarHash: &avatarHash}}); err != nil {
		t.Fatalf("upserting user: %v", err)
	}

	message := testMessage(1000, 10)
	message.Embeds = []types.Embed{
		{JSON: `{"type":"image","image":{"url":"https://cdn.discordapp.com/embeds/1/pic.png?ex=1"}}`},
		{JSON: `{"type":"link","url":"https://example.com"}`},
	}
	emojiID := types.Snowflake(777)
	message.Reactions = []types.Reaction{{EmojiID: &emojiID, Flags: types.EmojiFlagAnimated, Count: 2}}
	if err := store.Messages.Upsert(ctx, []types.Message{message}); err != nil {
		t.Fatalf("upserting message: %v", err)
	}

	added, err := store.Downloads.EnqueueDerived(ctx)
	if err != nil {
		t.Fatalf("enqueuing derived: %v", err)
	}
	// One embed image, one avatar, one animated emoji. The link embed
	// carries no media.
	if added != 3 {
		t.Errorf("enqueued %d derived rows; want 3", added)
	}

	downloads, err := store.Downloads.Get(ctx, nil)
	if err != nil {
		t.Fatalf("getting downloads: %v", err)
	}
	urls := make(map[string]struct{}, len(downloads))
	for _, d := range downloads {
		urls[d.NormalizedURL] = struct{}{}
	}
	for _, want := range []string{
		"https://cdn.discordapp.com/embeds/1/pic.png",
		"https://cdn.discordapp.com/avatars/100/a1b2c3.webp",
		"https://cdn.discordapp.com/emojis/777.gif",
	} {
		if _, ok := urls[want]; !ok {
			t.Errorf("derived row %s missing; have %v", want, urls)
		}
	}

	// Re-running changes nothing.
	added, err = store.Downloads.EnqueueDerived(ctx)
	if err != nil {
		t.Fatalf("re-enqueuing derived: %v", err)
	}
	if added != 0 {
		t.Errorf("second run enqueued %d rows; want 0", added)
	}
}

func TestDownloadStatistics(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	seedChannel(t, store, 1, 10)

	skippedURL := "https://cdn.discordapp.com/attachments/10/9/skipped.png"
	message := testMessage(1000, 10)
	message.Attachments = []types.Attachment{{ID: 9, Name: "skipped.png", NormalizedURL: skippedURL, DownloadURL: skippedURL, Size: 7}}
	if err := store.Messages.Upsert(ctx, []types.Message{message}); err != nil {
		t.Fatalf("upserting message: %v", err)
	}
	// Drop the auto-collected row so the attachment counts as skipped.
	if _, err := store.Downloads.Remove(ctx, nil, types.RemoveMatching); err != nil {
		t.Fatalf("clearing downloads: %v", err)
	}

	rows := []struct {
		download types.Download
		blob     []byte
	}{
		{types.Download{NormalizedURL: "https://cdn.discordapp.com/a", DownloadURL: "https://cdn.discordapp.com/a", Status: types.StatusPending, Size: ptr[uint64](1)}, nil},
		{types.Download{NormalizedURL: "https://cdn.discordapp.com/b", DownloadURL: "https://cdn.discordapp.com/b", Status: types.StatusSuccess, Size: ptr[uint64](2)}, []byte("xx")},
		{types.Download{NormalizedURL: "https://cdn.discordapp.com/c", DownloadURL: "https://cdn.discordapp.com/c", Status: types.DownloadStatus(404), Size: ptr[uint64](3)}, nil},
	}
	for _, row := range rows {
		if err := store.Downloads.AddDownload(ctx, row.download, row.blob); err != nil {
			t.Fatalf("adding download: %v", err)
		}
	}

	stats, err := store.Downloads.Statistics(ctx)
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}

	if stats.PendingCount != 1 || stats.PendingSize != 1 {
		t.Errorf("pending = %d/%d; want 1/1", stats.PendingCount, stats.PendingSize)
	}
	if stats.SuccessfulCount != 1 || stats.SuccessfulSize != 2 {
		t.Errorf("successful = %d/%d; want 1/2", stats.SuccessfulCount, stats.SuccessfulSize)
	}
	if stats.FailedCount != 1 || stats.FailedSize != 3 {
		t.Errorf("failed = %d/%d; want 1/3", stats.FailedCount, stats.FailedSize)
	}
	if stats.SkippedCount != 1 || stats.SkippedSize != 7 {
		t.Errorf("skipped = %d/%d; want 1/7", stats.SkippedCount, stats.SkippedSize)
	}
}

func TestRemoveDownloadsBySide(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	success := types.Download{NormalizedURL: "https://cdn.discordapp.com/a", DownloadURL: "https://cdn.discordapp.com/a", Status: types.StatusSuccess}
	failed := types.Download{NormalizedURL: "https://cdn.discordapp.com/b", DownloadURL: "https://cdn.discordapp.com/b", Status: types.DownloadStatus(404)}
	if err := store.Downloads.AddDownload(ctx, success, []byte("x")); err != nil {
		t.Fatalf("adding download: %v", err)
	}
	if err := store.Downloads.AddDownload(ctx, failed, nil); err != nil {
		t.Fatalf("adding download: %v", err)
	}

	successOnly := &types.DownloadFilter{IncludeStatuses: map[types.DownloadStatus]struct{}{types.StatusSuccess: {}}}
	removed, err := store.Downloads.Remove(ctx, successOnly, types.KeepMatching)
	if err != nil {
		t.Fatalf("removing: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed %d rows; want 1", removed)
	}

	remaining, err := store.Downloads.Get(ctx, nil)
	if err != nil {
		t.Fatalf("getting downloads: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Status != types.StatusSuccess {
		t.Errorf("wrong side removed: %+v", remaining)
	}

	// The blob must still be readable for the kept row.
	_, found, err := store.Downloads.GetBlob(ctx, success.NormalizedURL)
	if err != nil {
		t.Fatalf("getting blob: %v", err)
	}
	if !found {
		t.Error("blob of kept row is gone")
	}
}

func TestDownloadFilterEmptyStatusSets(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	url := "https://cdn.discordapp.com/attachments/1/1/a.png"
	if err := store.Downloads.AddDownload(ctx, types.NewPendingDownload(url, url, nil, nil), nil); err != nil {
		t.Fatalf("adding download: %v", err)
	}

	include, err := store.Downloads.CountMatching(ctx, &types.DownloadFilter{
		IncludeStatuses: map[types.DownloadStatus]struct{}{},
	})
	if err != nil {
		t.Fatalf("counting with empty include set: %v", err)
	}
	if include != 0 {
		t.Errorf("empty include set matched %d rows; want 0", include)
	}

	exclude, err := store.Downloads.CountMatching(ctx, &types.DownloadFilter{
		ExcludeStatuses: map[types.DownloadStatus]struct{}{},
	})
	if err != nil {
		t.Fatalf("counting with empty exclude set: %v", err)
	}
	if exclude != 1 {
		t.Errorf("empty exclude set matched %d rows; want 1", exclude)
	}
}
