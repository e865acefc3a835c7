package redis

import (
	"context"
	"fmt"

	"github.com/goodtune/skilltrack/internal/storage"
	"github.com/redis/go-redis/v9"
)

var (
	addRecord = redis.NewScript(addRecordScript)
	mergeMax  = redis.NewScript(mergeMaxScript)
)

type recordStore struct {
	client *redis.Client
}

// Get retrieves the record for a single day
func (s *recordStore) Get(ctx context.Context, date string) (*storage.DailyRecord, error) {
	data, err := s.client.HGetAll(ctx, dayKey(date)).Result()
	if err != nil {
		return nil, err
	}

	return parseDailyRecord(data)
}

// List returns every indexed day
func (s *recordStore) List(ctx context.Context) (storage.Dataset, error) {
	dates, err := s.client.SMembers(ctx, dayIndexKey).Result()
	if err != nil {
		return nil, err
	}

	dataset := make(storage.Dataset, len(dates))
	if len(dates) == 0 {
		return dataset, nil
	}

	// Use pipeline for efficient batch retrieval
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(dates))

	for i, date := range dates {
		cmds[i] = pipe.HGetAll(ctx, dayKey(date))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	for i, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		record, err := parseDailyRecord(data)
		if err != nil {
			return nil, fmt.Errorf("day %s: %w", dates[i], err)
		}
		dataset[dates[i]] = *record
	}

	return dataset, nil
}

// Add atomically increments (or creates) a day and returns its new totals
func (s *recordStore) Add(ctx context.Context, date string, delta storage.DailyRecord) (*storage.DailyRecord, error) {
	keys := []string{dayKey(date), dayIndexKey}
	args := []interface{}{
		date,
		formatSeconds(delta.VideoTime),
		formatSeconds(delta.InteractionTime),
		formatSeconds(delta.TotalTime),
	}

	reply, err := addRecord.Run(ctx, s.client, keys, args...).Slice()
	if err != nil {
		return nil, err
	}

	return parseTotals(reply)
}

// MergeMax raises stored fields to the given values in a single script call
func (s *recordStore) MergeMax(ctx context.Context, dataset storage.Dataset) error {
	if len(dataset) == 0 {
		return nil
	}

	args := make([]interface{}, 0, len(dataset)*4)
	for _, date := range dataset.Dates() {
		record := dataset[date]
		args = append(args,
			date,
			formatSeconds(record.VideoTime),
			formatSeconds(record.InteractionTime),
			formatSeconds(record.TotalTime),
		)
	}

	keys := []string{dayIndexKey, keyPrefix + "day:"}
	return mergeMax.Run(ctx, s.client, keys, args...).Err()
}
