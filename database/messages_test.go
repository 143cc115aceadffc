package database_test

import (
	"context"
	"testing"
	"time"

	"chatvault/types"
)

func TestMessageRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	seedChannel(t, store, 1, 10)

	edited := int64(1700000001000)
	repliedTo := types.Snowflake(999)
	message := types.Message{
		ID:            1000,
		Sender:        100,
		Channel:       10,
		Text:          "look at this",
		Timestamp:     1700000000000,
		EditTimestamp: &edited,
		RepliedToID:   &repliedTo,
		Attachments: []types.Attachment{{
			ID:            5000,
			Name:          "file.png",
			Type:          ptr("image/png"),
			NormalizedURL: "https://cdn.discordapp.com/attachments/10/1000/file.png",
			DownloadURL:   "https://cdn.discordapp.com/attachments/10/1000/file.png?ex=1",
			Size:          16,
			Width:         ptr(32),
			Height:        ptr(32),
		}},
		Embeds: []types.Embed{{JSON: `{"type":"image"}`}},
		Reactions: []types.Reaction{{
			EmojiName: ptr("thumbsup"),
			Count:     3,
		}},
	}

	if err := store.Messages.Upsert(ctx, []types.Message{message}); err != nil {
		t.Fatalf("upserting message: %v", err)
	}

	loaded, err := store.Messages.Get(ctx, nil)
	if err != nil {
		t.Fatalf("getting messages: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded %d messages; want 1", len(loaded))
	}

	got := loaded[0]
	if got.Text != message.Text || got.Timestamp != message.Timestamp {
		t.Errorf("message body did not round-trip: %+v", got)
	}
	if got.EditTimestamp == nil || *got.EditTimestamp != edited {
		t.Errorf("edit timestamp did not round-trip: %v", got.EditTimestamp)
	}
	if got.RepliedToID == nil || *got.RepliedToID != repliedTo {
		t.Errorf("replied-to did not round-trip: %v", got.RepliedToID)
	}
	if len(got.Attachments) != 1 || got.Attachments[0].ID != 5000 {
		t.Fatalf("attachments did not round-trip: %+v", got.Attachments)
	}
	if len(got.Embeds) != 1 || len(got.Reactions) != 1 {
		t.Errorf("embeds/reactions did not round-trip: %+v", got)
	}
}

func TestMessageUpsertReplacesChildren(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	seedChannel(t, store, 1, 10)

	message := testMessage(1000, 10)
	message.Reactions = []types.Reaction{
		{EmojiName: ptr("thumbsup"), Count: 3},
		{EmojiName: ptr("eyes"), Count: 1},
	}
	if err := store.Messages.Upsert(ctx, []types.Message{message}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	// The edited revision dropped one reaction; the stale child row
	// must not survive.
	message.Text = "edited"
	message.Reactions = message.Reactions[:1]
	message.Reactions[0].Count = 5
	if err := store.Messages.Upsert(ctx, []types.Message{message}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	loaded, err := store.Messages.Get(ctx, nil)
	if err != nil {
		t.Fatalf("getting messages: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded %d messages; want 1", len(loaded))
	}
	if loaded[0].Text != "edited" {
		t.Errorf("text = %q; want edited", loaded[0].Text)
	}
	if len(loaded[0].Reactions) != 1 || loaded[0].Reactions[0].Count != 5 {
		t.Errorf("reactions after re-upsert: %+v", loaded[0].Reactions)
	}
}

func TestMessageUpsertCollectsDownloads(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	seedChannel(t, store, 1, 10)

	url := "https://cdn.discordapp.com/attachments/10/1000/file.png"
	first := testMessage(1000, 10)
	first.Attachments = []types.Attachment{{ID: 5000, Name: "file.png", NormalizedURL: url, DownloadURL: url + "?ex=a", Size: 16}}
	second := testMessage(2000, 10)
	second.Attachments = []types.Attachment{{ID: 6000, Name: "file.png", NormalizedURL: url, DownloadURL: url + "?ex=b", Size: 16}}

	if err := store.Messages.Upsert(ctx, []types.Message{first, second}); err != nil {
		t.Fatalf("upserting messages: %v", err)
	}

	// Both attachments share one normalized URL, so only one download
	// row may exist.
	count, err := store.Downloads.Count(ctx)
	if err != nil {
		t.Fatalf("counting downloads: %v", err)
	}
	if count != 1 {
		t.Errorf("download rows = %d; want 1", count)
	}
}

func TestMessageUpsertDoesNotResetFinishedDownload(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	seedChannel(t, store, 1, 10)

	url := "https://cdn.discordapp.com/attachments/10/1000/file.png"
	fetched := types.Download{NormalizedURL: url, DownloadURL: url, Status: types.StatusSuccess, Size: ptr[uint64](4)}
	if err := store.Downloads.AddDownload(ctx, fetched, []byte("data")); err != nil {
		t.Fatalf("adding download: %v", err)
	}

	message := testMessage(1000, 10)
	message.Attachments = []types.Attachment{{ID: 5000, Name: "file.png", NormalizedURL: url, DownloadURL: url + "?ex=a", Size: 4}}
	if err := store.Messages.Upsert(ctx, []types.Message{message}); err != nil {
		t.Fatalf("upserting message: %v", err)
	}

	downloads, err := store.Downloads.Get(ctx, nil)
	if err != nil {
		t.Fatalf("getting downloads: %v", err)
	}
	if len(downloads) != 1 || downloads[0].Status != types.StatusSuccess {
		t.Errorf("finished download was reset: %+v", downloads)
	}
}

func TestMessageFilters(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	seedChannel(t, store, 1, 10)
	seedChannel(t, store, 1, 20)

	early := testMessage(1000, 10)
	early.Timestamp = 1000
	late := testMessage(2000, 20)
	late.Timestamp = 2000

	if err := store.Messages.Upsert(ctx, []types.Message{early, late}); err != nil {
		t.Fatalf("upserting messages: %v", err)
	}

	byChannel := &types.MessageFilter{ChannelIDs: map[types.Snowflake]struct{}{10: {}}}
	count, err := store.Messages.CountMatching(ctx, byChannel)
	if err != nil {
		t.Fatalf("counting by channel: %v", err)
	}
	if count != 1 {
		t.Errorf("channel filter matched %d; want 1", count)
	}

	cutoff := time.UnixMilli(1500)
	byDate := &types.MessageFilter{EndDate: &cutoff}
	count, err = store.Messages.CountMatching(ctx, byDate)
	if err != nil {
		t.Fatalf("counting by date: %v", err)
	}
	if count != 1 {
		t.Errorf("date filter matched %d; want 1", count)
	}

	count, err = store.Messages.CountMatching(ctx, nil)
	if err != nil {
		t.Fatalf("counting all: %v", err)
	}
	if count != 2 {
		t.Errorf("nil filter matched %d; want 2", count)
	}
}

func TestMessageRemoveKeepMatching(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	seedChannel(t, store, 1, 10)
	seedChannel(t, store, 1, 20)

	if err := store.Messages.Upsert(ctx, []types.Message{testMessage(1000, 10), testMessage(2000, 20)}); err != nil {
		t.Fatalf("upserting messages: %v", err)
	}

	filter := &types.MessageFilter{ChannelIDs: map[types.Snowflake]struct{}{10: {}}}
	removed, err := store.Messages.Remove(ctx, filter, types.KeepMatching)
	if err != nil {
		t.Fatalf("removing: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed %d; want 1", removed)
	}

	remaining, err := store.Messages.Get(ctx, nil)
	if err != nil {
		t.Fatalf("getting messages: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Channel != 10 {
		t.Errorf("wrong side removed: %+v", remaining)
	}
}

func TestMessageRemoveEmptyFilterMatchesAll(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	seedChannel(t, store, 1, 10)

	if err := store.Messages.Upsert(ctx, []types.Message{testMessage(1000, 10)}); err != nil {
		t.Fatalf("upserting message: %v", err)
	}

	// KeepMatching an empty filter keeps everything.
	removed, err := store.Messages.Remove(ctx, nil, types.KeepMatching)
	if err != nil {
		t.Fatalf("removing: %v", err)
	}
	if removed != 0 {
		t.Errorf("KeepMatching(nil) removed %d; want 0", removed)
	}

	// RemoveMatching an empty filter deletes everything.
	removed, err = store.Messages.Remove(ctx, nil, types.RemoveMatching)
	if err != nil {
		t.Fatalf("removing: %v", err)
	}
	if removed != 1 {
		t.Errorf("RemoveMatching(nil) removed %d; want 1", removed)
	}
}

func TestRemoveUnreachableSweep(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	seedChannel(t, store, 1, 10)

	if err := store.Servers.Upsert(ctx, []types.Server{{ID: 2, Name: "other", Type: types.ServerTypeServer}}); err != nil {
		t.Fatalf("upserting server: %v", err)
	}
	if err := store.Channels.Upsert(ctx, []types.Channel{{ID: 20, Server: 2, Name: "empty"}}); err != nil {
		t.Fatalf("upserting channel: %v", err)
	}

	url := "https://cdn.discordapp.com/attachments/10/1000/file.png"
	message := testMessage(1000, 10)
	message.Attachments = []types.Attachment{{ID: 5000, Name: "file.png", NormalizedURL: url, DownloadURL: url, Size: 4}}
	if err := store.Messages.Upsert(ctx, []types.Message{message}); err != nil {
		t.Fatalf("upserting message: %v", err)
	}

	if _, err := store.Messages.Remove(ctx, nil, types.RemoveMatching); err != nil {
		t.Fatalf("removing messages: %v", err)
	}

	if _, err := store.RemoveUnreachable(ctx); err != nil {
		t.Fatalf("sweeping: %v", err)
	}

	stats, err := store.Statistics(ctx)
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.Channels != 0 || stats.Servers != 0 || stats.Users != 0 || stats.Attachments != 0 {
		t.Errorf("sweep left unreachable rows: %+v", stats)
	}

	count, err := store.Downloads.Count(ctx)
	if err != nil {
		t.Fatalf("counting downloads: %v", err)
	}
	if count != 0 {
		t.Errorf("sweep left %d download rows; want 0", count)
	}
}

func TestTotalCountPublishesUpdates(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	seedChannel(t, store, 1, 10)

	counts, cancel := store.Messages.TotalCount()
	defer cancel()

	if err := store.Messages.Upsert(ctx, []types.Message{testMessage(1000, 10)}); err != nil {
		t.Fatalf("upserting message: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case count := <-counts:
			if count == 1 {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for the live count to reach 1")
		}
	}
}

func TestMessageFilterEmptySetMatchesNothing(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	seedChannel(t, store, 1, 10)

	if err := store.Messages.Upsert(ctx, []types.Message{testMessage(1000, 10)}); err != nil {
		t.Fatalf("upserting message: %v", err)
	}

	// A present-but-empty id set selects no rows; it must not render
	// broken SQL.
	empty := &types.MessageFilter{ChannelIDs: map[types.Snowflake]struct{}{}}
	count, err := store.Messages.CountMatching(ctx, empty)
	if err != nil {
		t.Fatalf("counting with empty id set: %v", err)
	}
	if count != 0 {
		t.Errorf("empty id set matched %d messages; want 0", count)
	}

	// Inverted, the same filter matches everything.
	removed, err := store.Messages.Remove(ctx, empty, types.KeepMatching)
	if err != nil {
		t.Fatalf("removing with empty id set: %v", err)
	}
	if removed != 1 {
		t.Errorf("keeping an empty match removed %d messages; want 1", removed)
	}
}
