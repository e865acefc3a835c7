package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Records() RecordStore
	Settings() SettingStore
}

// RecordStore manages the per-day activity aggregates.
type RecordStore interface {
	// Get returns the record for a date key or ErrNotFound.
	Get(ctx context.Context, date string) (*DailyRecord, error)

	// List returns every stored day.
	List(ctx context.Context) (Dataset, error)

	// Add atomically adds delta to the stored record (zero when absent) and
	// returns the new totals.
	Add(ctx context.Context, date string, delta DailyRecord) (*DailyRecord, error)

	// MergeMax atomically raises every field of every given day to at least
	// the given value. Counters never decrease.
	MergeMax(ctx context.Context, dataset Dataset) error
}

// SettingStore manages small configuration values such as the overlay flag
// and the cached credential.
type SettingStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Well-known setting keys.
const (
	SettingShowOverlay  = "showOverlay"
	SettingAuthToken    = "authToken"
	SettingRefreshToken = "refreshToken"
)
