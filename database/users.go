package database

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"chatvault/types"
)

// UserRepository stores the authors referenced by messages. Users are
// upserted wholesale; a newer capture of the same user overwrites the
// stored profile.
type UserRepository struct {
	pool   *Pool
	logger *log.Logger
	total  *liveCount
}

func newUserRepository(pool *Pool, logger *log.Logger) *UserRepository {
	r := &UserRepository{pool: pool, logger: logger}
	r.total = newLiveCount(logger, func(ctx context.Context) (int64, error) {
		return r.Count(ctx)
	})
	return r
}

func (r *UserRepository) Upsert(ctx context.Context, users []types.User) error {
	if len(users) == 0 {
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
		`INSERT INTO users (id, name, display_name, avatar_url, discriminator)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   name = excluded.name,
		   display_name = excluded.display_name,
		   avatar_url = excluded.avatar_url,
		   discriminator = excluded.discriminator`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, user := range users {
		if _, err := stmt.ExecContext(ctx, int64(user.ID), user.Name, user.DisplayName, user.AvatarHash, user.Discriminator); err != nil {
			return fmt.Errorf("upserting user %d: %w", user.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	r.total.update()
	return nil
}

func (r *UserRepository) Count(ctx context.Context) (int64, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	var total int64
	err = conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&total)
	return total, err
}

// TotalCount publishes the live row count; see liveCount.Subscribe.
func (r *UserRepository) TotalCount() (<-chan int64, func()) {
	return r.total.Subscribe()
}

func (r *UserRepository) All(ctx context.Context) ([]types.User, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, "SELECT id, name, display_name, avatar_url, discriminator FROM users")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []types.User
	for rows.Next() {
		var user types.User
		var id int64
		if err := rows.Scan(&id, &user.Name, &user.DisplayName, &user.AvatarHash, &user.Discriminator); err != nil {
			return nil, err
		}
		user.ID = types.Snowflake(id)
		users = append(users, user)
	}
	return users, rows.Err()
}

// RemoveUnreachable deletes users no surviving message refers to.
func (r *UserRepository) RemoveUnreachable(ctx context.Context) (int64, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	result, err := conn.ExecContext(ctx, "DELETE FROM users WHERE id NOT IN (SELECT DISTINCT sender_id FROM messages)")
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

func (r *UserRepository) close() {
	r.total.Close()
}
