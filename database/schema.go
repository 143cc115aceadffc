package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/charmbracelet/log"
)

// SchemaVersion is the newest schema this build understands. Files at
// an older version are upgraded in order; files at a newer version
// are rejected.
const SchemaVersion = 3

// SchemaCallbacks lets the caller gate and observe schema upgrades.
// CanUpgrade runs before any modification; upgrades are irreversible,
// so interactive callers warn the user here. MainWork reports one
// unit per migration step, SubWork reports progress inside steps that
// rewrite large tables.
type SchemaCallbacks interface {
	CanUpgrade(fromVersion, toVersion int) (bool, error)
	MainWork(message string, finished, total int)
	SubWork(message string, finished, total int)
}

// NopSchemaCallbacks approves upgrades and discards progress.
type NopSchemaCallbacks struct{}

func (NopSchemaCallbacks) CanUpgrade(int, int) (bool, error) { return true, nil }
func (NopSchemaCallbacks) MainWork(string, int, int)         {}
func (NopSchemaCallbacks) SubWork(string, int, int)          {}

var createTableStatements = []string{
	`CREATE TABLE users (
		id            INTEGER PRIMARY KEY NOT NULL,
		name          TEXT NOT NULL,
		display_name  TEXT,
		avatar_url    TEXT,
		discriminator TEXT
	)`,
	`CREATE TABLE servers (
		id   INTEGER PRIMARY KEY NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL
	)`,
	`CREATE TABLE channels (
		id        INTEGER PRIMARY KEY NOT NULL,
		server    INTEGER NOT NULL,
		name      TEXT NOT NULL,
		parent_id INTEGER,
		position  INTEGER,
		topic     TEXT,
		nsfw      INTEGER
	)`,
	`CREATE TABLE messages (
		message_id INTEGER PRIMARY KEY NOT NULL,
		sender_id  INTEGER NOT NULL,
		channel_id INTEGER NOT NULL,
		text       TEXT NOT NULL,
		timestamp  INTEGER NOT NULL
	)`,
	`CREATE TABLE message_edit_timestamps (
		message_id     INTEGER PRIMARY KEY NOT NULL,
		edit_timestamp INTEGER NOT NULL,
		FOREIGN KEY (message_id) REFERENCES messages (message_id) ON UPDATE CASCADE ON DELETE CASCADE
	)`,
	`CREATE TABLE message_replied_to (
		message_id    INTEGER PRIMARY KEY NOT NULL,
		replied_to_id INTEGER NOT NULL,
		FOREIGN KEY (message_id) REFERENCES messages (message_id) ON UPDATE CASCADE ON DELETE CASCADE
	)`,
	`CREATE TABLE attachments (
		attachment_id  INTEGER PRIMARY KEY NOT NULL,
		name           TEXT NOT NULL,
		type           TEXT,
		normalized_url TEXT NOT NULL,
		download_url   TEXT NOT NULL,
		size           INTEGER NOT NULL,
		width          INTEGER,
		height         INTEGER
	)`,
	`CREATE TABLE message_attachments (
		message_id    INTEGER NOT NULL,
		attachment_id INTEGER NOT NULL,
		FOREIGN KEY (message_id) REFERENCES messages (message_id) ON UPDATE CASCADE ON DELETE CASCADE
	)`,
	`CREATE TABLE message_embeds (
		message_id INTEGER NOT NULL,
		json       TEXT NOT NULL,
		FOREIGN KEY (message_id) REFERENCES messages (message_id) ON UPDATE CASCADE ON DELETE CASCADE
	)`,
	`CREATE TABLE message_reactions (
		message_id  INTEGER NOT NULL,
		emoji_id    INTEGER,
		emoji_name  TEXT,
		emoji_flags INTEGER NOT NULL,
		count       INTEGER NOT NULL,
		FOREIGN KEY (message_id) REFERENCES messages (message_id) ON UPDATE CASCADE ON DELETE CASCADE
	)`,
	`CREATE TABLE download_metadata (
		normalized_url TEXT NOT NULL PRIMARY KEY,
		download_url   TEXT NOT NULL,
		status         INTEGER NOT NULL,
		type           TEXT,
		size           INTEGER
	)`,
	`CREATE TABLE download_blobs (
		normalized_url TEXT NOT NULL PRIMARY KEY,
		blob           BLOB NOT NULL,
		FOREIGN KEY (normalized_url) REFERENCES download_metadata (normalized_url) ON UPDATE CASCADE ON DELETE CASCADE
	)`,
	`CREATE INDEX embeds_message_ix ON message_embeds (message_id)`,
	`CREATE INDEX reactions_message_ix ON message_reactions (message_id)`,
	`CREATE INDEX message_attachments_message_ix ON message_attachments (message_id)`,
	`CREATE INDEX messages_channel_ix ON messages (channel_id)`,
}

// setupSchema brings the file to SchemaVersion. Fresh files get the
// full schema in one shot; older files go through the migration chain
// after the caller confirms. Returns without modification on any
// version-gate failure.
func setupSchema(ctx context.Context, conn *sql.Conn, callbacks SchemaCallbacks, logger *log.Logger) error {
	if _, err := conn.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS metadata (key TEXT PRIMARY KEY, value TEXT)"); err != nil {
		return fmt.Errorf("creating metadata table: %w", err)
	}

	var marker string
	err := conn.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = 'version'").Scan(&marker)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		logger.Debug("initializing fresh schema", "version", SchemaVersion)
		return initializeSchema(ctx, conn)

	case err != nil:
		return fmt.Errorf("reading schema version: %w", err)
	}

	version, parseErr := strconv.Atoi(marker)
	if parseErr != nil || version < 1 {
		return &InvalidVersionError{Marker: marker}
	}

	if version > SchemaVersion {
		return &TooNewError{Version: version}
	}

	if version == SchemaVersion {
		return nil
	}

	proceed, err := callbacks.CanUpgrade(version, SchemaVersion)
	if err != nil {
		return fmt.Errorf("upgrade confirmation: %w", err)
	}
	if !proceed {
		return ErrUpgradeDeclined
	}

	return upgradeSchema(ctx, conn, version, callbacks, logger)
}

func initializeSchema(ctx context.Context, conn *sql.Conn) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range createTableStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("initializing schema: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, "INSERT INTO metadata (key, value) VALUES ('version', ?)", strconv.Itoa(SchemaVersion)); err != nil {
		return fmt.Errorf("writing version marker: %w", err)
	}

	return tx.Commit()
}

func upgradeSchema(ctx context.Context, conn *sql.Conn, fromVersion int, callbacks SchemaCallbacks, logger *log.Logger) error {
	totalSteps := SchemaVersion - fromVersion

	for version := fromVersion; version < SchemaVersion; version++ {
		step := version - fromVersion
		callbacks.MainWork(fmt.Sprintf("Upgrading schema to version %d...", version+1), step, totalSteps)
		logger.Info("upgrading schema", "from", version, "to", version+1)

		migrate, ok := migrations[version]
		if !ok {
			return fmt.Errorf("no migration from schema version %d", version)
		}

		if err := migrate(ctx, conn, callbacks); err != nil {
			return fmt.Errorf("migrating schema from version %d: %w", version, err)
		}

		// The version bump is each step's final action so a crash
		// mid-step resumes from the same step on next open.
		if _, err := conn.ExecContext(ctx, "UPDATE metadata SET value = ? WHERE key = 'version'", strconv.Itoa(version+1)); err != nil {
			return fmt.Errorf("bumping schema version to %d: %w", version+1, err)
		}
	}

	callbacks.MainWork("Done", totalSteps, totalSteps)
	return nil
}
