package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"chatvault/pkg/cdn"
	"chatvault/types"
)

// DownloadRepository stores one fetch record per normalized URL plus
// the fetched bytes for successful rows. Rows are shared: any number
// of attachments, avatars and emoji may point at the same record.
type DownloadRepository struct {
	pool   *Pool
	logger *log.Logger
	total  *liveCount
}

func newDownloadRepository(pool *Pool, logger *log.Logger) *DownloadRepository {
	r := &DownloadRepository{pool: pool, logger: logger}
	r.total = newLiveCount(logger, func(ctx context.Context) (int64, error) {
		return r.Count(ctx)
	})
	return r
}

// downloadCollector inserts pending rows from inside another
// repository's transaction, so newly stored attachments become
// downloadable atomically with the messages that carry them.
type downloadCollector struct {
	repo  *DownloadRepository
	added bool
}

func (r *DownloadRepository) collector() *downloadCollector {
	return &downloadCollector{repo: r}
}

// add records a pending row unless the URL is already known. Existing
// rows keep their status; a re-seen URL never restarts a download.
func (c *downloadCollector) add(ctx context.Context, tx *sql.Tx, download types.Download) error {
	result, err := tx.ExecContext(ctx,
		`INSERT INTO download_metadata (normalized_url, download_url, status, type, size)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (normalized_url) DO NOTHING`,
		download.NormalizedURL, download.DownloadURL, int(download.Status), download.Type, download.Size)
	if err != nil {
		return fmt.Errorf("collecting download %s: %w", download.NormalizedURL, err)
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		c.added = true
	}
	return nil
}

// flush is called after the owning transaction commits.
func (c *downloadCollector) flush() {
	if c.added {
		c.repo.total.update()
		c.added = false
	}
}

// AddDownload stores or replaces a complete record, blob included.
// Used by the download workers to write results and by merges.
func (r *DownloadRepository) AddDownload(ctx context.Context, download types.Download, blob []byte) error {
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

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO download_metadata (normalized_url, download_url, status, type, size)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (normalized_url) DO UPDATE SET
		   download_url = excluded.download_url,
		   status = excluded.status,
		   type = excluded.type,
		   size = excluded.size`,
		download.NormalizedURL, download.DownloadURL, int(download.Status), download.Type, download.Size); err != nil {
		return err
	}

	if download.Status == types.StatusSuccess && blob != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO download_blobs (normalized_url, blob) VALUES (?, ?)
			 ON CONFLICT (normalized_url) DO UPDATE SET blob = excluded.blob`,
			download.NormalizedURL, blob); err != nil {
			return err
		}
	} else {
		// A non-success overwrite must not leave stale bytes behind.
		if _, err := tx.ExecContext(ctx, "DELETE FROM download_blobs WHERE normalized_url = ?", download.NormalizedURL); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	r.total.update()
	return nil
}

// GetBlob returns the stored bytes for a URL, or found=false when the
// URL was never fetched successfully.
func (r *DownloadRepository) GetBlob(ctx context.Context, normalizedURL string) (blob []byte, found bool, err error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return nil, false, err
	}
	defer conn.Close()

	err = conn.QueryRowContext(ctx, "SELECT blob FROM download_blobs WHERE normalized_url = ?", normalizedURL).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return blob, true, nil
}

func (r *DownloadRepository) Count(ctx context.Context) (int64, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	var total int64
	err = conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM download_metadata").Scan(&total)
	return total, err
}

func (r *DownloadRepository) TotalCount() (<-chan int64, func()) {
	return r.total.Subscribe()
}

func (r *DownloadRepository) CountMatching(ctx context.Context, filter *types.DownloadFilter) (int64, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	query := "SELECT COUNT(*) FROM download_metadata" + downloadFilterConditions(filter, "", false).whereClause()

	var total int64
	err = conn.QueryRowContext(ctx, query).Scan(&total)
	return total, err
}

func (r *DownloadRepository) Get(ctx context.Context, filter *types.DownloadFilter) ([]types.Download, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	query := "SELECT normalized_url, download_url, status, type, size FROM download_metadata" +
		downloadFilterConditions(filter, "", false).whereClause()

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var downloads []types.Download
	for rows.Next() {
		var d types.Download
		var status int
		if err := rows.Scan(&d.NormalizedURL, &d.DownloadURL, &status, &d.Type, &d.Size); err != nil {
			return nil, err
		}
		d.Status = types.DownloadStatus(status)
		downloads = append(downloads, d)
	}
	return downloads, rows.Err()
}

// EnqueueFromAttachments creates pending rows for every attachment
// matching the filter that has no download record yet. Returns how
// many rows were created.
func (r *DownloadRepository) EnqueueFromAttachments(ctx context.Context, filter *types.AttachmentFilter) (int64, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	query := `INSERT INTO download_metadata (normalized_url, download_url, status, type, size)
		 SELECT normalized_url, download_url, ?, type, MAX(size) FROM attachments` +
		attachmentFilterConditions(filter, "", false).whereClause() +
		` GROUP BY normalized_url
		 ON CONFLICT (normalized_url) DO NOTHING`

	result, err := conn.ExecContext(ctx, query, int(types.StatusPending))
	if err != nil {
		return 0, err
	}

	added, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if added > 0 {
		r.total.update()
	}
	return added, nil
}

// EnqueueDerived creates pending rows for media the store only points
// at indirectly: embed images and videos, user avatars, and custom
// reaction emoji. Returns how many rows were created.
func (r *DownloadRepository) EnqueueDerived(ctx context.Context) (int64, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	var files []cdn.FileURL

	rows, err := conn.QueryContext(ctx, "SELECT json FROM message_embeds")
	if err != nil {
		return 0, err
	}
	for rows.Next() {
		var embedJSON string
		if err := rows.Scan(&embedJSON); err != nil {
			rows.Close()
			return 0, err
		}
		if f := cdn.ExtractFromEmbedJSON(r.logger, embedJSON); f != nil {
			files = append(files, *f)
		}
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}

	rows, err = conn.QueryContext(ctx, "SELECT id, avatar_url FROM users WHERE avatar_url IS NOT NULL")
	if err != nil {
		return 0, err
	}
	for rows.Next() {
		var id int64
		var hash string
		if err := rows.Scan(&id, &hash); err != nil {
			rows.Close()
			return 0, err
		}
		files = append(files, cdn.AvatarURL(types.Snowflake(id), hash))
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}

	rows, err = conn.QueryContext(ctx, "SELECT DISTINCT emoji_id, emoji_flags FROM message_reactions WHERE emoji_id IS NOT NULL")
	if err != nil {
		return 0, err
	}
	for rows.Next() {
		var id int64
		var flags int
		if err := rows.Scan(&id, &flags); err != nil {
			rows.Close()
			return 0, err
		}
		files = append(files, cdn.EmojiURL(types.Snowflake(id), types.EmojiFlags(flags)))
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}

	if len(files) == 0 {
		return 0, nil
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var added int64
	for _, f := range files {
		d := f.ToPendingDownload()
		result, err := tx.ExecContext(ctx,
			`INSERT INTO download_metadata (normalized_url, download_url, status, type, size)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (normalized_url) DO NOTHING`,
			d.NormalizedURL, d.DownloadURL, int(d.Status), d.Type, d.Size)
		if err != nil {
			return 0, err
		}
		if n, err := result.RowsAffected(); err == nil {
			added += n
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if added > 0 {
		r.total.update()
	}
	return added, nil
}

// PullPending claims up to limit pending rows for the download
// pipeline, marking them as downloading in the same transaction so
// concurrent pulls never hand out the same URL twice.
func (r *DownloadRepository) PullPending(ctx context.Context, limit int, filter *types.DownloadFilter) ([]types.DownloadItem, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	conditions := downloadFilterConditions(filter, "", false)
	conditions.add(fmt.Sprintf("status = %d", int(types.StatusPending)))

	rows, err := tx.QueryContext(ctx,
		"SELECT normalized_url, download_url, type, size FROM download_metadata"+conditions.whereClause()+" LIMIT ?", limit)
	if err != nil {
		return nil, err
	}

	var items []types.DownloadItem
	for rows.Next() {
		var item types.DownloadItem
		if err := rows.Scan(&item.NormalizedURL, &item.DownloadURL, &item.Type, &item.Size); err != nil {
			rows.Close()
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	if len(items) == 0 {
		return nil, tx.Commit()
	}

	placeholders := make([]string, len(items))
	args := make([]any, 0, len(items)+1)
	args = append(args, int(types.StatusDownloading))
	for i, item := range items {
		placeholders[i] = "?"
		args = append(args, item.NormalizedURL)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE download_metadata SET status = ? WHERE normalized_url IN ("+strings.Join(placeholders, ",")+")",
		args...); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	r.total.update()
	return items, nil
}

// MoveDownloadingBackToPending requeues rows stranded mid-download by
// a previous run. Called once when the store is opened.
func (r *DownloadRepository) MoveDownloadingBackToPending(ctx context.Context) (int64, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	result, err := conn.ExecContext(ctx,
		"UPDATE download_metadata SET status = ? WHERE status IN (?, ?)",
		int(types.StatusPending), int(types.StatusEnqueued), int(types.StatusDownloading))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// RetryFailed flips every error row back to pending.
func (r *DownloadRepository) RetryFailed(ctx context.Context) (int64, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	result, err := conn.ExecContext(ctx,
		"UPDATE download_metadata SET status = ? WHERE status = ? OR (status > ? AND status != ?)",
		int(types.StatusPending), int(types.StatusGenericError), 99, int(types.StatusSuccess))
	if err != nil {
		return 0, err
	}

	retried, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if retried > 0 {
		r.total.update()
	}
	return retried, nil
}

// Remove deletes download rows on one side of the filter. Blobs go
// with their metadata rows through the cascading foreign key.
func (r *DownloadRepository) Remove(ctx context.Context, filter *types.DownloadFilter, mode types.FilterRemovalMode) (int64, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	invert := mode == types.KeepMatching
	query := "DELETE FROM download_metadata" + downloadFilterConditions(filter, "", invert).whereClause()

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

// RemoveUnreachable deletes download rows nothing references anymore:
// no attachment carries the URL, no stored user resolves their avatar
// to it, and no reaction resolves its emoji to it.
func (r *DownloadRepository) RemoveUnreachable(ctx context.Context) (int64, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	reachable, err := reachableDownloadURLs(ctx, conn)
	if err != nil {
		return 0, err
	}

	rows, err := conn.QueryContext(ctx, "SELECT normalized_url FROM download_metadata")
	if err != nil {
		return 0, err
	}
	var doomed []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			rows.Close()
			return 0, err
		}
		if _, ok := reachable[u]; !ok {
			doomed = append(doomed, u)
		}
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}

	var removed int64
	for start := 0; start < len(doomed); start += migrationChunkSize {
		end := min(start+migrationChunkSize, len(doomed))
		chunk := doomed[start:end]

		placeholders := make([]string, len(chunk))
		args := make([]any, len(chunk))
		for i, u := range chunk {
			placeholders[i] = "?"
			args[i] = u
		}

		result, err := conn.ExecContext(ctx,
			"DELETE FROM download_metadata WHERE normalized_url IN ("+strings.Join(placeholders, ",")+")", args...)
		if err != nil {
			return removed, err
		}
		n, err := result.RowsAffected()
		if err != nil {
			return removed, err
		}
		removed += n
	}

	if removed > 0 {
		r.total.update()
	}
	return removed, nil
}

// reachableDownloadURLs reconstructs every normalized URL the rest of
// the store can still point at. Avatar and emoji URLs are derived, not
// stored, so they are rebuilt here the same way they were enqueued.
func reachableDownloadURLs(ctx context.Context, conn *sql.Conn) (map[string]struct{}, error) {
	reachable := make(map[string]struct{})

	rows, err := conn.QueryContext(ctx, "SELECT DISTINCT normalized_url FROM attachments")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			rows.Close()
			return nil, err
		}
		reachable[u] = struct{}{}
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	rows, err = conn.QueryContext(ctx, "SELECT id, avatar_url FROM users WHERE avatar_url IS NOT NULL")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var id int64
		var hash string
		if err := rows.Scan(&id, &hash); err != nil {
			rows.Close()
			return nil, err
		}
		reachable[cdn.AvatarURL(types.Snowflake(id), hash).NormalizedURL] = struct{}{}
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	rows, err = conn.QueryContext(ctx, "SELECT DISTINCT emoji_id, emoji_flags FROM message_reactions WHERE emoji_id IS NOT NULL")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var id int64
		var flags int
		if err := rows.Scan(&id, &flags); err != nil {
			rows.Close()
			return nil, err
		}
		reachable[cdn.EmojiURL(types.Snowflake(id), types.EmojiFlags(flags)).NormalizedURL] = struct{}{}
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	return reachable, nil
}

// DownloadStatistics is a point-in-time breakdown of the download
// backlog. Skipped covers attachments that were never enqueued.
type DownloadStatistics struct {
	PendingCount    int64
	PendingSize     uint64
	SuccessfulCount int64
	SuccessfulSize  uint64
	FailedCount     int64
	FailedSize      uint64
	SkippedCount    int64
	SkippedSize     uint64
}

func (r *DownloadRepository) Statistics(ctx context.Context) (DownloadStatistics, error) {
	var stats DownloadStatistics

	conn, err := r.pool.Take(ctx)
	if err != nil {
		return stats, err
	}
	defer conn.Close()

	err = conn.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status IN (0, 1, 2)),
			COALESCE(SUM(size) FILTER (WHERE status IN (0, 1, 2)), 0),
			COUNT(*) FILTER (WHERE status = 200),
			COALESCE(SUM(size) FILTER (WHERE status = 200), 0),
			COUNT(*) FILTER (WHERE status = 3 OR (status > 99 AND status != 200)),
			COALESCE(SUM(size) FILTER (WHERE status = 3 OR (status > 99 AND status != 200)), 0)
		FROM download_metadata`).Scan(
		&stats.PendingCount, &stats.PendingSize,
		&stats.SuccessfulCount, &stats.SuccessfulSize,
		&stats.FailedCount, &stats.FailedSize)
	if err != nil {
		return stats, err
	}

	err = conn.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(size), 0) FROM (
			SELECT normalized_url, MAX(size) AS size FROM attachments
			WHERE normalized_url NOT IN (SELECT normalized_url FROM download_metadata)
			GROUP BY normalized_url
		)`).Scan(&stats.SkippedCount, &stats.SkippedSize)
	return stats, err
}

func (r *DownloadRepository) close() {
	r.total.Close()
}
