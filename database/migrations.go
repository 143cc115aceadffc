package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"chatvault/pkg/cdn"
	"chatvault/types"
)

// migrationChunkSize bounds how many rows a table-rewriting migration
// touches per transaction, so upgrading a large store does not build
// one giant journal.
const migrationChunkSize = 1000

type migration func(ctx context.Context, conn *sql.Conn, callbacks SchemaCallbacks) error

// migrations maps fromVersion to the upgrade producing fromVersion+1.
// Each upgrade tolerates being re-run from its own starting version
// (create-if-not-exists, insert-or-ignore) because a crash between a
// step's data changes and its version bump resumes the same step.
var migrations = map[int]migration{
	1: migrateV1DownloadsAndURLs,
	2: migrateV2UserDisplayNamesAndIndexes,
}

// migrateV1DownloadsAndURLs restructures the version-1 store:
//
//   - the single downloads table (url, status, size, blob) becomes
//     download_metadata + download_blobs keyed by normalized URL,
//   - attachments gain a download_url column and their url column is
//     replaced by the normalized form,
//
// collapsing re-signed CDN links onto one row. Successful rows win
// when duplicates collapse. Copies run in chunks.
func migrateV1DownloadsAndURLs(ctx context.Context, conn *sql.Conn, callbacks SchemaCallbacks) error {
	callbacks.SubWork("Preparing download tables...", 0, 4)

	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS download_metadata (
			normalized_url TEXT NOT NULL PRIMARY KEY,
			download_url   TEXT NOT NULL,
			status         INTEGER NOT NULL,
			type           TEXT,
			size           INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS download_blobs (
			normalized_url TEXT NOT NULL PRIMARY KEY,
			blob           BLOB NOT NULL,
			FOREIGN KEY (normalized_url) REFERENCES download_metadata (normalized_url) ON UPDATE CASCADE ON DELETE CASCADE
		)`,
	} {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	// A crash after the drop below leaves no downloads table; the copy
	// already happened, so resume with the attachment rewrite.
	hasDownloads, err := tableExists(ctx, conn, "downloads")
	if err != nil {
		return err
	}
	if hasDownloads {
		if err := copyLegacyDownloads(ctx, conn, callbacks); err != nil {
			return err
		}
	}

	callbacks.SubWork("Rewriting attachments...", 2, 4)

	if err := rewriteAttachmentURLs(ctx, conn, callbacks); err != nil {
		return err
	}

	callbacks.SubWork("Done", 4, 4)
	return nil
}

func copyLegacyDownloads(ctx context.Context, conn *sql.Conn, callbacks SchemaCallbacks) error {
	type oldDownload struct {
		url    string
		status int
	}

	// Successful rows first, so when re-signed links collapse onto
	// one normalized URL the fetched copy survives.
	keep := make(map[string]oldDownload)
	order := make([]string, 0)

	rows, err := conn.QueryContext(ctx, "SELECT url, status FROM downloads ORDER BY CASE WHEN status = 200 THEN 0 ELSE 1 END")
	if err != nil {
		return err
	}
	for rows.Next() {
		var d oldDownload
		if err := rows.Scan(&d.url, &d.status); err != nil {
			rows.Close()
			return err
		}
		normalized := cdn.NormalizeURL(d.url)
		if _, exists := keep[normalized]; !exists {
			keep[normalized] = d
			order = append(order, normalized)
		}
	}
	if err := rows.Close(); err != nil {
		return err
	}

	callbacks.SubWork("Copying downloads...", 1, 4)

	if err := inChunks(ctx, conn, callbacks, "Copying downloads...", order, func(tx *sql.Tx, normalized string) error {
		d := keep[normalized]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO download_metadata (normalized_url, download_url, status, type, size)
			 SELECT ?, url, status, NULL, size FROM downloads WHERE url = ?
			 ON CONFLICT (normalized_url) DO NOTHING`,
			normalized, d.url); err != nil {
			return err
		}
		if d.status == int(types.StatusSuccess) {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO download_blobs (normalized_url, blob)
				 SELECT ?, blob FROM downloads WHERE url = ? AND blob IS NOT NULL
				 ON CONFLICT (normalized_url) DO NOTHING`,
				normalized, d.url); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "DROP TABLE downloads"); err != nil {
		return err
	}
	return nil
}

func rewriteAttachmentURLs(ctx context.Context, conn *sql.Conn, callbacks SchemaCallbacks) error {
	// The new column marks a completed rewrite; a crash between the
	// rename below and the version bump resumes here.
	rewritten, err := columnExists(ctx, conn, "attachments", "download_url")
	if err != nil {
		return err
	}
	if rewritten {
		return nil
	}

	if _, err := conn.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS attachments_new (
		attachment_id  INTEGER PRIMARY KEY NOT NULL,
		name           TEXT NOT NULL,
		type           TEXT,
		normalized_url TEXT NOT NULL,
		download_url   TEXT NOT NULL,
		size           INTEGER NOT NULL,
		width          INTEGER,
		height         INTEGER
	)`); err != nil {
		return err
	}

	// No old table means a previous run already copied and dropped it
	// but crashed before the rename.
	hasOld, err := tableExists(ctx, conn, "attachments")
	if err != nil {
		return err
	}
	if hasOld {
		// Straight copy first; url doubles as both columns, then the
		// normalized side is fixed up in chunks.
		if _, err := conn.ExecContext(ctx,
			`INSERT INTO attachments_new (attachment_id, name, type, normalized_url, download_url, size, width, height)
			 SELECT attachment_id, name, type, url, url, size, width, height FROM attachments WHERE true
			 ON CONFLICT (attachment_id) DO NOTHING`); err != nil {
			return err
		}

		type fixup struct {
			id         int64
			normalized string
		}

		var fixups []fixup

		rows, err := conn.QueryContext(ctx, "SELECT attachment_id, url FROM attachments")
		if err != nil {
			return err
		}
		for rows.Next() {
			var id int64
			var rawURL string
			if err := rows.Scan(&id, &rawURL); err != nil {
				rows.Close()
				return err
			}
			if normalized := cdn.NormalizeURL(rawURL); normalized != rawURL {
				fixups = append(fixups, fixup{id: id, normalized: normalized})
			}
		}
		if err := rows.Close(); err != nil {
			return err
		}

		if err := inChunks(ctx, conn, callbacks, "Normalizing attachment URLs...", fixups, func(tx *sql.Tx, f fixup) error {
			_, err := tx.ExecContext(ctx, "UPDATE attachments_new SET normalized_url = ? WHERE attachment_id = ?", f.normalized, f.id)
			return err
		}); err != nil {
			return err
		}

		if _, err := conn.ExecContext(ctx, "DROP TABLE attachments"); err != nil {
			return err
		}
	}

	if _, err := conn.ExecContext(ctx, "ALTER TABLE attachments_new RENAME TO attachments"); err != nil {
		return err
	}
	return nil
}

func tableExists(ctx context.Context, conn *sql.Conn, name string) (bool, error) {
	var count int
	err := conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&count)
	return count > 0, err
}

func columnExists(ctx context.Context, conn *sql.Conn, table, column string) (bool, error) {
	var count int
	err := conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, column).Scan(&count)
	return count > 0, err
}

// migrateV2UserDisplayNamesAndIndexes adds the user display name
// column and the hot-path indexes.
func migrateV2UserDisplayNamesAndIndexes(ctx context.Context, conn *sql.Conn, callbacks SchemaCallbacks) error {
	statements := []string{
		"ALTER TABLE users ADD COLUMN display_name TEXT",
		"CREATE INDEX IF NOT EXISTS embeds_message_ix ON message_embeds (message_id)",
		"CREATE INDEX IF NOT EXISTS reactions_message_ix ON message_reactions (message_id)",
		"CREATE INDEX IF NOT EXISTS message_attachments_message_ix ON message_attachments (message_id)",
		"CREATE INDEX IF NOT EXISTS messages_channel_ix ON messages (channel_id)",
	}

	for i, stmt := range statements {
		callbacks.SubWork("Applying schema changes...", i, len(statements))
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			if i == 0 && isDuplicateColumn(err) {
				// Resuming after a crash between the ALTER and the
				// version bump.
				continue
			}
			return err
		}
	}

	callbacks.SubWork("Done", len(statements), len(statements))
	return nil
}

func isDuplicateColumn(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column name")
}

// inChunks runs op for every item, committing every
// migrationChunkSize rows and reporting fine-grained progress.
func inChunks[T any](ctx context.Context, conn *sql.Conn, callbacks SchemaCallbacks, message string, items []T, op func(tx *sql.Tx, item T) error) error {
	total := len(items)

	for start := 0; start < total; start += migrationChunkSize {
		end := min(start+migrationChunkSize, total)
		callbacks.SubWork(message, start, total)

		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}

		for _, item := range items[start:end] {
			if err := op(tx, item); err != nil {
				tx.Rollback()
				return err
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration chunk: %w", err)
		}
	}

	if total > 0 {
		callbacks.SubWork(message, total, total)
	}
	return nil
}
