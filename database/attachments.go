package database

import (
	"context"

	"github.com/charmbracelet/log"

	"chatvault/types"
)

// AttachmentRepository gives read and maintenance access to the global
// attachment rows. Writes happen through message upserts.
type AttachmentRepository struct {
	pool   *Pool
	logger *log.Logger
	total  *liveCount
}

func newAttachmentRepository(pool *Pool, logger *log.Logger) *AttachmentRepository {
	r := &AttachmentRepository{pool: pool, logger: logger}
	r.total = newLiveCount(logger, func(ctx context.Context) (int64, error) {
		return r.Count(ctx)
	})
	return r
}

func (r *AttachmentRepository) Count(ctx context.Context) (int64, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	var total int64
	err = conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM attachments").Scan(&total)
	return total, err
}

func (r *AttachmentRepository) TotalCount() (<-chan int64, func()) {
	return r.total.Subscribe()
}

func (r *AttachmentRepository) CountMatching(ctx context.Context, filter *types.AttachmentFilter) (int64, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	query := "SELECT COUNT(*) FROM attachments" + attachmentFilterConditions(filter, "", false).whereClause()

	var total int64
	err = conn.QueryRowContext(ctx, query).Scan(&total)
	return total, err
}

// refresh recomputes the live count after message writes, which are
// the only way attachment rows appear.
func (r *AttachmentRepository) refresh() {
	r.total.update()
}

// RemoveUnreachable deletes attachments no surviving message links to.
func (r *AttachmentRepository) RemoveUnreachable(ctx context.Context) (int64, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	result, err := conn.ExecContext(ctx,
		"DELETE FROM attachments WHERE attachment_id NOT IN (SELECT DISTINCT attachment_id FROM message_attachments)")
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

func (r *AttachmentRepository) close() {
	r.total.Close()
}
