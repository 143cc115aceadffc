package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"chatvault/types"
)

// SettingsRepository persists per-store settings in the metadata
// table, next to the schema version marker. Keys are typed; an
// unparsable stored value falls back to the key's default rather than
// failing the read.
type SettingsRepository struct {
	pool *Pool
}

func newSettingsRepository(pool *Pool) *SettingsRepository {
	return &SettingsRepository{pool: pool}
}

// SettingsKey binds a metadata key name to its value type and default.
type SettingsKey[T any] struct {
	Name    string
	Default T

	parse  func(string) (T, error)
	format func(T) string
}

var (
	// KeyDownloadsAutoStart remembers whether the download pipeline
	// should resume when the store is opened.
	KeyDownloadsAutoStart = SettingsKey[bool]{
		Name:   "downloads_auto_start",
		parse:  strconv.ParseBool,
		format: strconv.FormatBool,
	}

	// KeyDownloadsLimitSize toggles the attachment size cap.
	KeyDownloadsLimitSize = SettingsKey[bool]{
		Name:   "downloads_limit_size",
		parse:  strconv.ParseBool,
		format: strconv.FormatBool,
	}

	// KeyDownloadsMaxSize is the attachment size cap in bytes.
	KeyDownloadsMaxSize = SettingsKey[uint64]{
		Name:    "downloads_max_size",
		Default: 500 * 1024 * 1024,
		parse: func(s string) (uint64, error) {
			return strconv.ParseUint(s, 10, 64)
		},
		format: func(v uint64) string {
			return strconv.FormatUint(v, 10)
		},
	}
)

// GetSetting reads a typed setting, returning the key's default when
// the setting was never written or does not parse.
func GetSetting[T any](ctx context.Context, r *SettingsRepository, key SettingsKey[T]) (T, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return key.Default, err
	}
	defer conn.Close()

	var raw string
	err = conn.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", "setting:"+key.Name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return key.Default, nil
	}
	if err != nil {
		return key.Default, fmt.Errorf("reading setting %s: %w", key.Name, err)
	}

	value, parseErr := key.parse(raw)
	if parseErr != nil {
		return key.Default, nil
	}
	return value, nil
}

func SetSetting[T any](ctx context.Context, r *SettingsRepository, key SettingsKey[T], value T) error {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx,
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		"setting:"+key.Name, key.format(value))
	if err != nil {
		return fmt.Errorf("writing setting %s: %w", key.Name, err)
	}
	return nil
}

// DownloadFilter bundles the persisted download preferences into the
// filter the pipeline runs with. Returns nil when no cap is enabled.
func (r *SettingsRepository) DownloadFilter(ctx context.Context) (*types.DownloadFilter, error) {
	limit, err := GetSetting(ctx, r, KeyDownloadsLimitSize)
	if err != nil {
		return nil, err
	}
	if !limit {
		return nil, nil
	}

	maxSize, err := GetSetting(ctx, r, KeyDownloadsMaxSize)
	if err != nil {
		return nil, err
	}
	return &types.DownloadFilter{MaxBytes: &maxSize}, nil
}
