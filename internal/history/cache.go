// Package history serves past days to the dashboard and calendar from a
// bounded in-memory cache in front of the record store.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/skilltrack/internal/metrics"
	"github.com/goodtune/skilltrack/internal/report"
	"github.com/goodtune/skilltrack/internal/storage"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// entry caches both present and absent days.
type entry struct {
	record storage.DailyRecord
	ok     bool
}

// Cache is a read-through cache of daily records.
type Cache struct {
	records storage.RecordStore
	days    *lru.Cache[string, entry]
	logger  zerolog.Logger
}

// New creates a cache holding up to size days.
func New(records storage.RecordStore, size int, logger zerolog.Logger) (*Cache, error) {
	days, err := lru.New[string, entry](size)
	if err != nil {
		return nil, fmt.Errorf("create history cache: %w", err)
	}
	return &Cache{
		records: records,
		days:    days,
		logger:  logger.With().Str("component", "history").Logger(),
	}, nil
}

// Day returns the record for date and whether one exists.
func (c *Cache) Day(ctx context.Context, date string) (storage.DailyRecord, bool, error) {
	if e, ok := c.days.Get(date); ok {
		metrics.HistoryCacheHits.Inc()
		return e.record, e.ok, nil
	}
	metrics.HistoryCacheMisses.Inc()

	record, err := c.records.Get(ctx, date)
	if errors.Is(err, storage.ErrNotFound) {
		c.days.Add(date, entry{})
		return storage.DailyRecord{}, false, nil
	}
	if err != nil {
		return storage.DailyRecord{}, false, fmt.Errorf("load %s: %w", date, err)
	}
	c.days.Add(date, entry{record: *record, ok: true})
	return *record, true, nil
}

// Month returns the stored days of the month containing t.
func (c *Cache) Month(ctx context.Context, t time.Time) (storage.Dataset, error) {
	dataset := make(storage.Dataset)
	for _, date := range report.MonthDates(t) {
		record, ok, err := c.Day(ctx, date)
		if err != nil {
			return nil, err
		}
		if ok {
			dataset[date] = record
		}
	}
	return dataset, nil
}

// All loads the full dataset from storage and refreshes the cache with it.
func (c *Cache) All(ctx context.Context) (storage.Dataset, error) {
	dataset, err := c.records.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	c.Replace(dataset)
	return dataset, nil
}

// Replace drops everything cached and loads dataset, newest days kept when
// it exceeds the cache size.
func (c *Cache) Replace(dataset storage.Dataset) {
	c.days.Purge()
	for _, date := range dataset.Dates() {
		c.days.Add(date, entry{record: dataset[date], ok: true})
	}
	c.logger.Debug().Int("days", len(dataset)).Int("cached", c.days.Len()).Msg("History cache replaced")
}

// Forget drops one day, e.g. because it is still accruing.
func (c *Cache) Forget(date string) {
	c.days.Remove(date)
}

// Len returns the number of cached days.
func (c *Cache) Len() int {
	return c.days.Len()
}
