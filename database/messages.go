package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/charmbracelet/log"

	"chatvault/types"
)

// MessageRepository stores messages and everything they own. A message
// upsert replaces the previous revision wholesale: child rows are
// deleted and reinserted so removed attachments or reactions do not
// linger. New attachment URLs become pending download rows in the same
// transaction.
type MessageRepository struct {
	pool      *Pool
	logger    *log.Logger
	downloads *DownloadRepository
	total     *liveCount
}

func newMessageRepository(pool *Pool, logger *log.Logger, downloads *DownloadRepository) *MessageRepository {
	r := &MessageRepository{pool: pool, logger: logger, downloads: downloads}
	r.total = newLiveCount(logger, func(ctx context.Context) (int64, error) {
		return r.Count(ctx)
	})
	return r
}

func (r *MessageRepository) Upsert(ctx context.Context, messages []types.Message) error {
	if len(messages) == 0 {
		return nil
	}

	conn, err := r.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	collector := r.downloads.collector()

	for _, message := range messages {
		if err := upsertMessage(ctx, tx, collector, message); err != nil {
			return fmt.Errorf("upserting message %d: %w", message.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	r.total.update()
	collector.flush()
	return nil
}

func upsertMessage(ctx context.Context, tx *sql.Tx, collector *downloadCollector, message types.Message) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (message_id, sender_id, channel_id, text, timestamp)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (message_id) DO UPDATE SET
		   sender_id = excluded.sender_id,
		   channel_id = excluded.channel_id,
		   text = excluded.text,
		   timestamp = excluded.timestamp`,
		int64(message.ID), int64(message.Sender), int64(message.Channel), message.Text, message.Timestamp); err != nil {
		return err
	}

	// Replace all child rows; the previous revision's leftovers must
	// not survive an edit that removed them.
	for _, table := range []string{"message_edit_timestamps", "message_replied_to", "message_attachments", "message_embeds", "message_reactions"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE message_id = ?", int64(message.ID)); err != nil {
			return err
		}
	}

	if message.EditTimestamp != nil {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO message_edit_timestamps (message_id, edit_timestamp) VALUES (?, ?)",
			int64(message.ID), *message.EditTimestamp); err != nil {
			return err
		}
	}

	if message.RepliedToID != nil {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO message_replied_to (message_id, replied_to_id) VALUES (?, ?)",
			int64(message.ID), int64(*message.RepliedToID)); err != nil {
			return err
		}
	}

	for _, attachment := range message.Attachments {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO attachments (attachment_id, name, type, normalized_url, download_url, size, width, height)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (attachment_id) DO UPDATE SET
			   name = excluded.name,
			   type = excluded.type,
			   normalized_url = excluded.normalized_url,
			   download_url = excluded.download_url,
			   size = excluded.size,
			   width = excluded.width,
			   height = excluded.height`,
			int64(attachment.ID), attachment.Name, attachment.Type, attachment.NormalizedURL,
			attachment.DownloadURL, attachment.Size, attachment.Width, attachment.Height); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO message_attachments (message_id, attachment_id) VALUES (?, ?)",
			int64(message.ID), int64(attachment.ID)); err != nil {
			return err
		}

		size := attachment.Size
		if err := collector.add(ctx, tx, types.NewPendingDownload(attachment.NormalizedURL, attachment.DownloadURL, attachment.Type, &size)); err != nil {
			return err
		}
	}

	for _, embed := range message.Embeds {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO message_embeds (message_id, json) VALUES (?, ?)",
			int64(message.ID), embed.JSON); err != nil {
			return err
		}
	}

	for _, reaction := range message.Reactions {
		var emojiID *int64
		if reaction.EmojiID != nil {
			v := int64(*reaction.EmojiID)
			emojiID = &v
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO message_reactions (message_id, emoji_id, emoji_name, emoji_flags, count) VALUES (?, ?, ?, ?, ?)",
			int64(message.ID), emojiID, reaction.EmojiName, int(reaction.Flags), reaction.Count); err != nil {
			return err
		}
	}

	return nil
}

func (r *MessageRepository) Count(ctx context.Context) (int64, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	var total int64
	err = conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&total)
	return total, err
}

func (r *MessageRepository) TotalCount() (<-chan int64, func()) {
	return r.total.Subscribe()
}

func (r *MessageRepository) CountMatching(ctx context.Context, filter *types.MessageFilter) (int64, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	query := "SELECT COUNT(*) FROM messages" + messageFilterConditions(filter, "", false).whereClause()

	var total int64
	err = conn.QueryRowContext(ctx, query).Scan(&total)
	return total, err
}

// Get loads messages matching the filter with all their children, in
// snowflake order.
func (r *MessageRepository) Get(ctx context.Context, filter *types.MessageFilter) ([]types.Message, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	where := messageFilterConditions(filter, "", false).whereClause()
	matching := "SELECT message_id FROM messages" + where

	byID := make(map[types.Snowflake]*types.Message)
	var ids []types.Snowflake

	rows, err := conn.QueryContext(ctx, "SELECT message_id, sender_id, channel_id, text, timestamp FROM messages"+where+" ORDER BY message_id")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var message types.Message
		var id, sender, channel int64
		if err := rows.Scan(&id, &sender, &channel, &message.Text, &message.Timestamp); err != nil {
			rows.Close()
			return nil, err
		}
		message.ID = types.Snowflake(id)
		message.Sender = types.Snowflake(sender)
		message.Channel = types.Snowflake(channel)
		byID[message.ID] = &message
		ids = append(ids, message.ID)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return nil, nil
	}

	if err := loadEditTimestamps(ctx, conn, matching, byID); err != nil {
		return nil, err
	}
	if err := loadRepliedTo(ctx, conn, matching, byID); err != nil {
		return nil, err
	}
	if err := loadAttachments(ctx, conn, matching, byID); err != nil {
		return nil, err
	}
	if err := loadEmbeds(ctx, conn, matching, byID); err != nil {
		return nil, err
	}
	if err := loadReactions(ctx, conn, matching, byID); err != nil {
		return nil, err
	}

	messages := make([]types.Message, 0, len(ids))
	for _, id := range ids {
		messages = append(messages, *byID[id])
	}
	return messages, nil
}

func loadEditTimestamps(ctx context.Context, conn *sql.Conn, matching string, byID map[types.Snowflake]*types.Message) error {
	rows, err := conn.QueryContext(ctx,
		"SELECT message_id, edit_timestamp FROM message_edit_timestamps WHERE message_id IN ("+matching+")")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id, ts int64
		if err := rows.Scan(&id, &ts); err != nil {
			return err
		}
		if message, ok := byID[types.Snowflake(id)]; ok {
			message.EditTimestamp = &ts
		}
	}
	return rows.Err()
}

func loadRepliedTo(ctx context.Context, conn *sql.Conn, matching string, byID map[types.Snowflake]*types.Message) error {
	rows, err := conn.QueryContext(ctx,
		"SELECT message_id, replied_to_id FROM message_replied_to WHERE message_id IN ("+matching+")")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id, repliedTo int64
		if err := rows.Scan(&id, &repliedTo); err != nil {
			return err
		}
		if message, ok := byID[types.Snowflake(id)]; ok {
			v := types.Snowflake(repliedTo)
			message.RepliedToID = &v
		}
	}
	return rows.Err()
}

func loadAttachments(ctx context.Context, conn *sql.Conn, matching string, byID map[types.Snowflake]*types.Message) error {
	rows, err := conn.QueryContext(ctx,
		`SELECT ma.message_id, a.attachment_id, a.name, a.type, a.normalized_url, a.download_url, a.size, a.width, a.height
		 FROM message_attachments ma
		 JOIN attachments a ON a.attachment_id = ma.attachment_id
		 WHERE ma.message_id IN (`+matching+")")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id, attachmentID int64
		var attachment types.Attachment
		if err := rows.Scan(&id, &attachmentID, &attachment.Name, &attachment.Type,
			&attachment.NormalizedURL, &attachment.DownloadURL, &attachment.Size,
			&attachment.Width, &attachment.Height); err != nil {
			return err
		}
		attachment.ID = types.Snowflake(attachmentID)
		if message, ok := byID[types.Snowflake(id)]; ok {
			message.Attachments = append(message.Attachments, attachment)
		}
	}
	return rows.Err()
}

func loadEmbeds(ctx context.Context, conn *sql.Conn, matching string, byID map[types.Snowflake]*types.Message) error {
	rows, err := conn.QueryContext(ctx,
		"SELECT message_id, json FROM message_embeds WHERE message_id IN ("+matching+")")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var embed types.Embed
		if err := rows.Scan(&id, &embed.JSON); err != nil {
			return err
		}
		if message, ok := byID[types.Snowflake(id)]; ok {
			message.Embeds = append(message.Embeds, embed)
		}
	}
	return rows.Err()
}

func loadReactions(ctx context.Context, conn *sql.Conn, matching string, byID map[types.Snowflake]*types.Message) error {
	rows, err := conn.QueryContext(ctx,
		"SELECT message_id, emoji_id, emoji_name, emoji_flags, count FROM message_reactions WHERE message_id IN ("+matching+")")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var emojiID *int64
		var flags int
		var reaction types.Reaction
		if err := rows.Scan(&id, &emojiID, &reaction.EmojiName, &flags, &reaction.Count); err != nil {
			return err
		}
		if emojiID != nil {
			v := types.Snowflake(*emojiID)
			reaction.EmojiID = &v
		}
		reaction.Flags = types.EmojiFlags(flags)
		if message, ok := byID[types.Snowflake(id)]; ok {
			message.Reactions = append(message.Reactions, reaction)
		}
	}
	return rows.Err()
}

// ChannelIDs returns the distinct channels that currently hold
// messages, sorted.
func (r *MessageRepository) ChannelIDs(ctx context.Context) ([]types.Snowflake, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, "SELECT DISTINCT channel_id FROM messages")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []types.Snowflake
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, types.Snowflake(id))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Remove deletes messages on one side of the filter. Child rows go
// with their messages through the cascading foreign keys; shared
// attachment and download rows survive until an unreachability sweep.
func (r *MessageRepository) Remove(ctx context.Context, filter *types.MessageFilter, mode types.FilterRemovalMode) (int64, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	invert := mode == types.KeepMatching
	query := "DELETE FROM messages" + messageFilterConditions(filter, "", invert).whereClause()

	result, err := conn.ExecContext(ctx, query)
	if err != nil {
		return 0, err
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		r.total.update()
	}
	return removed, nil
}

func (r *MessageRepository) close() {
	r.total.Close()
}
