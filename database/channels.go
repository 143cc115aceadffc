package database

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"chatvault/types"
)

type ChannelRepository struct {
	pool   *Pool
	logger *log.Logger
	total  *liveCount
}

func newChannelRepository(pool *Pool, logger *log.Logger) *ChannelRepository {
	r := &ChannelRepository{pool: pool, logger: logger}
	r.total = newLiveCount(logger, func(ctx context.Context) (int64, error) {
		return r.Count(ctx)
	})
	return r
}

func (r *ChannelRepository) Upsert(ctx context.Context, channels []types.Channel) error {
	if len(channels) == 0 {
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

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO channels (id, server, name, parent_id, position, topic, nsfw)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   server = excluded.server,
		   name = excluded.name,
		   parent_id = excluded.parent_id,
		   position = excluded.position,
		   topic = excluded.topic,
		   nsfw = excluded.nsfw`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, channel := range channels {
		var parentID *int64
		if channel.ParentID != nil {
			v := int64(*channel.ParentID)
			parentID = &v
		}
		if _, err := stmt.ExecContext(ctx, int64(channel.ID), int64(channel.Server), channel.Name, parentID, channel.Position, channel.Topic, channel.NSFW); err != nil {
			return fmt.Errorf("upserting channel %d: %w", channel.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	r.total.update()
	return nil
}

func (r *ChannelRepository) Count(ctx context.Context) (int64, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	var total int64
	err = conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM channels").Scan(&total)
	return total, err
}

func (r *ChannelRepository) TotalCount() (<-chan int64, func()) {
	return r.total.Subscribe()
}

func (r *ChannelRepository) All(ctx context.Context) ([]types.Channel, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, "SELECT id, server, name, parent_id, position, topic, nsfw FROM channels")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []types.Channel
	for rows.Next() {
		var channel types.Channel
		var id, server int64
		var parentID *int64
		if err := rows.Scan(&id, &server, &channel.Name, &parentID, &channel.Position, &channel.Topic, &channel.NSFW); err != nil {
			return nil, err
		}
		channel.ID = types.Snowflake(id)
		channel.Server = types.Snowflake(server)
		if parentID != nil {
			v := types.Snowflake(*parentID)
			channel.ParentID = &v
		}
		channels = append(channels, channel)
	}
	return channels, rows.Err()
}

// RemoveUnreachable deletes channels that no longer hold any message.
func (r *ChannelRepository) RemoveUnreachable(ctx context.Context) (int64, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	result, err := conn.ExecContext(ctx, "DELETE FROM channels WHERE id NOT IN (SELECT DISTINCT channel_id FROM messages)")
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

func (r *ChannelRepository) close() {
	r.total.Close()
}
