package database

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"chatvault/types"
)

type ServerRepository struct {
	pool   *Pool
	logger *log.Logger
	total  *liveCount
}

func newServerRepository(pool *Pool, logger *log.Logger) *ServerRepository {
	r := &ServerRepository{pool: pool, logger: logger}
	r.total = newLiveCount(logger, func(ctx context.Context) (int64, error) {
		return r.Count(ctx)
	})
	return r
}

func (r *ServerRepository) Upsert(ctx context.Context, servers []types.Server) error {
	if len(servers) == 0 {
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
		`INSERT INTO servers (id, name, type) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, type = excluded.type`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, server := range servers {
		if _, err := stmt.ExecContext(ctx, int64(server.ID), server.Name, string(server.Type)); err != nil {
			return fmt.Errorf("upserting server %d: %w", server.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	r.total.update()
	return nil
}

func (r *ServerRepository) Count(ctx context.Context) (int64, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	var total int64
	err = conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM servers").Scan(&total)
	return total, err
}

func (r *ServerRepository) TotalCount() (<-chan int64, func()) {
	return r.total.Subscribe()
}

func (r *ServerRepository) All(ctx context.Context) ([]types.Server, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, "SELECT id, name, type FROM servers")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var servers []types.Server
	for rows.Next() {
		var server types.Server
		var id int64
		var kind string
		if err := rows.Scan(&id, &server.Name, &kind); err != nil {
			return nil, err
		}
		server.ID = types.Snowflake(id)
		server.Type = types.ServerTypeFromString(kind)
		servers = append(servers, server)
	}
	return servers, rows.Err()
}

// RemoveUnreachable deletes servers that no longer own any channel.
func (r *ServerRepository) RemoveUnreachable(ctx context.Context) (int64, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	result, err := conn.ExecContext(ctx, "DELETE FROM servers WHERE id NOT IN (SELECT DISTINCT server FROM channels)")
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

func (r *ServerRepository) close() {
	r.total.Close()
}
