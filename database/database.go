// Package database implements the schema-versioned archive store on
// SQLite: a fixed connection pool, forward-only migrations, and one
// repository per entity family. All access goes through a Store.
package database

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
)

// Store is an open archive file and its repositories.
type Store struct {
	pool   *Pool
	logger *log.Logger

	Users       *UserRepository
	Servers     *ServerRepository
	Channels    *ChannelRepository
	Messages    *MessageRepository
	Attachments *AttachmentRepository
	Downloads   *DownloadRepository
	Settings    *SettingsRepository
}

// OpenOrCreate opens the archive at path, creating it if missing and
// upgrading it if older, gated by callbacks. Rows stranded in a
// downloading state by a previous run are requeued before the store is
// handed out.
func OpenOrCreate(ctx context.Context, path string, poolSize int, callbacks SchemaCallbacks, logger *log.Logger) (*Store, error) {
	pool, err := NewPool(ctx, path, poolSize)
	if err != nil {
		return nil, err
	}

	conn, err := pool.Take(ctx)
	if err != nil {
		pool.Dispose()
		return nil, err
	}

	if err := setupSchema(ctx, conn, callbacks, logger); err != nil {
		conn.Close()
		pool.Dispose()
		return nil, err
	}
	conn.Close()

	store := &Store{pool: pool, logger: logger}
	store.Downloads = newDownloadRepository(pool, logger)
	store.Users = newUserRepository(pool, logger)
	store.Servers = newServerRepository(pool, logger)
	store.Channels = newChannelRepository(pool, logger)
	store.Messages = newMessageRepository(pool, logger, store.Downloads)
	store.Attachments = newAttachmentRepository(pool, logger)
	store.Settings = newSettingsRepository(pool)

	requeued, err := store.Downloads.MoveDownloadingBackToPending(ctx)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("requeuing stranded downloads: %w", err)
	}
	if requeued > 0 {
		logger.Info("requeued stranded downloads", "count", requeued)
	}

	return store, nil
}

// Close releases every connection. Safe to call once; repositories
// must not be used afterwards.
func (s *Store) Close() error {
	s.Users.close()
	s.Servers.close()
	s.Channels.close()
	s.Messages.close()
	s.Attachments.close()
	s.Downloads.close()
	return s.pool.Dispose()
}

// PoolSize reports the fixed number of connections backing the store.
func (s *Store) PoolSize() int {
	return s.pool.Size()
}

// Vacuum rewrites the file to reclaim space freed by removals.
func (s *Store) Vacuum(ctx context.Context) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx, "VACUUM")
	return err
}

// RemoveUnreachable sweeps every repository for rows nothing refers to
// anymore, in dependency order. Returns the total number of rows
// removed.
func (s *Store) RemoveUnreachable(ctx context.Context) (int64, error) {
	var total int64

	sweeps := []struct {
		name  string
		sweep func(context.Context) (int64, error)
	}{
		{"channels", s.Channels.RemoveUnreachable},
		{"servers", s.Servers.RemoveUnreachable},
		{"users", s.Users.RemoveUnreachable},
		{"attachments", s.Attachments.RemoveUnreachable},
		{"downloads", s.Downloads.RemoveUnreachable},
	}

	for _, entry := range sweeps {
		removed, err := entry.sweep(ctx)
		if err != nil {
			return total, fmt.Errorf("sweeping %s: %w", entry.name, err)
		}
		if removed > 0 {
			s.logger.Info("removed unreachable rows", "table", entry.name, "count", removed)
		}
		total += removed
	}

	return total, nil
}

// AddFrom merges another archive file into this one. The source is
// upgraded to the current schema first, then copied in a single
// transaction. Existing rows win on conflict, except that a
// successfully downloaded copy always replaces a failed or pending
// one.
func (s *Store) AddFrom(ctx context.Context, sourcePath string, callbacks SchemaCallbacks) error {
	// Bring the source file up to the current schema through the
	// normal open path, so the copy below can assume one layout.
	source, err := OpenOrCreate(ctx, sourcePath, 1, callbacks, s.logger)
	if err != nil {
		return fmt.Errorf("opening merge source %s: %w", sourcePath, err)
	}
	if err := source.Close(); err != nil {
		return fmt.Errorf("closing merge source: %w", err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "ATTACH DATABASE ? AS merge_src", sourcePath); err != nil {
		return fmt.Errorf("attaching merge source: %w", err)
	}
	defer conn.ExecContext(context.WithoutCancel(ctx), "DETACH DATABASE merge_src")

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Child tables without primary keys would duplicate rows for
	// messages present on both sides, so children are copied only for
	// messages this merge actually adds.
	statements := []string{
		`CREATE TEMP TABLE merge_new_messages AS
		 SELECT message_id FROM merge_src.messages
		 WHERE message_id NOT IN (SELECT message_id FROM main.messages)`,

		`INSERT INTO main.servers (id, name, type)
		 SELECT id, name, type FROM merge_src.servers WHERE true
		 ON CONFLICT (id) DO NOTHING`,

		`INSERT INTO main.channels (id, server, name, parent_id, position, topic, nsfw)
		 SELECT id, server, name, parent_id, position, topic, nsfw FROM merge_src.channels WHERE true
		 ON CONFLICT (id) DO NOTHING`,

		`INSERT INTO main.users (id, name, display_name, avatar_url, discriminator)
		 SELECT id, name, display_name, avatar_url, discriminator FROM merge_src.users WHERE true
		 ON CONFLICT (id) DO NOTHING`,

		`INSERT INTO main.messages (message_id, sender_id, channel_id, text, timestamp)
		 SELECT message_id, sender_id, channel_id, text, timestamp FROM merge_src.messages
		 WHERE message_id IN (SELECT message_id FROM merge_new_messages)`,

		`INSERT INTO main.message_edit_timestamps (message_id, edit_timestamp)
		 SELECT message_id, edit_timestamp FROM merge_src.message_edit_timestamps
		 WHERE message_id IN (SELECT message_id FROM merge_new_messages)`,

		`INSERT INTO main.message_replied_to (message_id, replied_to_id)
		 SELECT message_id, replied_to_id FROM merge_src.message_replied_to
		 WHERE message_id IN (SELECT message_id FROM merge_new_messages)`,

		`INSERT INTO main.attachments (attachment_id, name, type, normalized_url, download_url, size, width, height)
		 SELECT attachment_id, name, type, normalized_url, download_url, size, width, height FROM merge_src.attachments WHERE true
		 ON CONFLICT (attachment_id) DO NOTHING`,

		`INSERT INTO main.message_attachments (message_id, attachment_id)
		 SELECT message_id, attachment_id FROM merge_src.message_attachments
		 WHERE message_id IN (SELECT message_id FROM merge_new_messages)`,

		`INSERT INTO main.message_embeds (message_id, json)
		 SELECT message_id, json FROM merge_src.message_embeds
		 WHERE message_id IN (SELECT message_id FROM merge_new_messages)`,

		`INSERT INTO main.message_reactions (message_id, emoji_id, emoji_name, emoji_flags, count)
		 SELECT message_id, emoji_id, emoji_name, emoji_flags, count FROM merge_src.message_reactions
		 WHERE message_id IN (SELECT message_id FROM merge_new_messages)`,

		`INSERT INTO main.download_metadata (normalized_url, download_url, status, type, size)
		 SELECT normalized_url, download_url, status, type, size FROM merge_src.download_metadata WHERE true
		 ON CONFLICT (normalized_url) DO UPDATE SET
		   download_url = excluded.download_url,
		   status = excluded.status,
		   type = excluded.type,
		   size = excluded.size
		 WHERE excluded.status = 200 AND download_metadata.status != 200`,

		`INSERT INTO main.download_blobs (normalized_url, blob)
		 SELECT normalized_url, blob FROM merge_src.download_blobs WHERE true
		 ON CONFLICT (normalized_url) DO NOTHING`,

		`DROP TABLE merge_new_messages`,
	}

	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("merging from %s: %w", sourcePath, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.Users.total.update()
	s.Servers.total.update()
	s.Channels.total.update()
	s.Messages.total.update()
	s.Attachments.refresh()
	s.Downloads.total.update()
	return nil
}
