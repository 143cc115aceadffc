package database_test

import (
	"context"
	"testing"

	"chatvault/database"
)

func TestSettingsDefaults(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	autoStart, err := database.GetSetting(ctx, store.Settings, database.KeyDownloadsAutoStart)
	if err != nil {
		t.Fatalf("reading unset setting: %v", err)
	}
	if autoStart {
		t.Error("auto start default = true; want false")
	}

	maxSize, err := database.GetSetting(ctx, store.Settings, database.KeyDownloadsMaxSize)
	if err != nil {
		t.Fatalf("reading unset setting: %v", err)
	}
	if maxSize != database.KeyDownloadsMaxSize.Default {
		t.Errorf("max size default = %d; want %d", maxSize, database.KeyDownloadsMaxSize.Default)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	if err := database.SetSetting(ctx, store.Settings, database.KeyDownloadsAutoStart, true); err != nil {
		t.Fatalf("writing setting: %v", err)
	}
	if err := database.SetSetting(ctx, store.Settings, database.KeyDownloadsMaxSize, 1234); err != nil {
		t.Fatalf("writing setting: %v", err)
	}

	autoStart, err := database.GetSetting(ctx, store.Settings, database.KeyDownloadsAutoStart)
	if err != nil {
		t.Fatalf("reading setting: %v", err)
	}
	if !autoStart {
		t.Error("auto start did not round-trip")
	}

	maxSize, err := database.GetSetting(ctx, store.Settings, database.KeyDownloadsMaxSize)
	if err != nil {
		t.Fatalf("reading setting: %v", err)
	}
	if maxSize != 1234 {
		t.Errorf("max size = %d; want 1234", maxSize)
	}
}

func TestSettingsDownloadFilter(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	filter, err := store.Settings.DownloadFilter(ctx)
	if err != nil {
		t.Fatalf("building filter: %v", err)
	}
	if filter != nil {
		t.Errorf("filter without size cap = %+v; want nil", filter)
	}

	if err := database.SetSetting(ctx, store.Settings, database.KeyDownloadsLimitSize, true); err != nil {
		t.Fatalf("writing setting: %v", err)
	}
	if err := database.SetSetting(ctx, store.Settings, database.KeyDownloadsMaxSize, 999); err != nil {
		t.Fatalf("writing setting: %v", err)
	}

	filter, err = store.Settings.DownloadFilter(ctx)
	if err != nil {
		t.Fatalf("building filter: %v", err)
	}
	if filter == nil || filter.MaxBytes == nil || *filter.MaxBytes != 999 {
		t.Errorf("filter with size cap = %+v; want MaxBytes 999", filter)
	}
}
