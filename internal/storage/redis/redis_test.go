package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/skilltrack/internal/config"
	"github.com/goodtune/skilltrack/internal/storage"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	// miniredis.Addr() returns "host:port", so Port stays 0
	cfg := config.RedisConfig{
		Host:         mr.Addr(),
		Port:         0,
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 5,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
	}

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}

	return store, mr
}

func TestRecordStore_GetMissing(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	_, err := store.Records().Get(context.Background(), "2024-01-15")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestRecordStore_Add(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	records := store.Records()
	date := "2024-01-15"

	got, err := records.Add(ctx, date, storage.DailyRecord{VideoTime: 1.5, InteractionTime: 2.25, TotalTime: 4})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if got.VideoTime != 1.5 || got.InteractionTime != 2.25 || got.TotalTime != 4 {
		t.Errorf("Unexpected totals after first add: %+v", got)
	}

	got, err = records.Add(ctx, date, storage.DailyRecord{VideoTime: 0.5, InteractionTime: 0.75, TotalTime: 1})
	if err != nil {
		t.Fatalf("Second Add failed: %v", err)
	}
	want := storage.DailyRecord{VideoTime: 2, InteractionTime: 3, TotalTime: 5}
	if *got != want {
		t.Errorf("Expected %+v, got %+v", want, *got)
	}

	stored, err := records.Get(ctx, date)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if *stored != want {
		t.Errorf("Expected stored %+v, got %+v", want, *stored)
	}
}

func TestRecordStore_List(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	records := store.Records()

	_, _ = records.Add(ctx, "2024-01-01", storage.DailyRecord{TotalTime: 10})
	_, _ = records.Add(ctx, "2024-01-02", storage.DailyRecord{TotalTime: 20})
	_, _ = records.Add(ctx, "2024-01-03", storage.DailyRecord{TotalTime: 30})

	dataset, err := records.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(dataset) != 3 {
		t.Fatalf("Expected 3 days, got %d", len(dataset))
	}
	if dataset["2024-01-02"].TotalTime != 20 {
		t.Errorf("Expected 20 total seconds on 2024-01-02, got %v", dataset["2024-01-02"].TotalTime)
	}
}

func TestRecordStore_MergeMax(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	records := store.Records()

	_, _ = records.Add(ctx, "2024-01-01", storage.DailyRecord{VideoTime: 5, InteractionTime: 10, TotalTime: 20})

	err := records.MergeMax(ctx, storage.Dataset{
		"2024-01-01": {VideoTime: 8, InteractionTime: 3, TotalTime: 20},
		"2024-01-02": {VideoTime: 1, InteractionTime: 1, TotalTime: 1},
	})
	if err != nil {
		t.Fatalf("MergeMax failed: %v", err)
	}

	dataset, err := records.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	want := storage.Dataset{
		"2024-01-01": {VideoTime: 8, InteractionTime: 10, TotalTime: 20},
		"2024-01-02": {VideoTime: 1, InteractionTime: 1, TotalTime: 1},
	}
	for date, record := range want {
		if dataset[date] != record {
			t.Errorf("Day %s: expected %+v, got %+v", date, record, dataset[date])
		}
	}
}

func TestSettingStore(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	settings := store.Settings()

	if _, err := settings.Get(ctx, storage.SettingShowOverlay); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for unset key, got %v", err)
	}

	if err := settings.Set(ctx, storage.SettingShowOverlay, "false"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value, err := settings.Get(ctx, storage.SettingShowOverlay)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if value != "false" {
		t.Errorf("Expected false, got %q", value)
	}

	if err := settings.Delete(ctx, storage.SettingShowOverlay); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := settings.Get(ctx, storage.SettingShowOverlay); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound after delete, got %v", err)
	}
}
