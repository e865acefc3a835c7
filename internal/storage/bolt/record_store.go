package bolt

import (
	"context"
	"fmt"

	"github.com/goodtune/skilltrack/internal/storage"
	"go.etcd.io/bbolt"
)

type recordStore struct {
	db *bbolt.DB
}

func (s *recordStore) Get(ctx context.Context, date string) (*storage.DailyRecord, error) {
	return getBucketValue[storage.DailyRecord](ctx, s.db, bucketDays, date)
}

func (s *recordStore) List(ctx context.Context) (storage.Dataset, error) {
	dataset := make(storage.Dataset)
	return dataset, s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketDays))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var record storage.DailyRecord
			if err := unmarshal(v, &record); err != nil {
				return fmt.Errorf("day %s: %w", k, err)
			}
			dataset[string(k)] = record
			return nil
		})
	})
}

func (s *recordStore) Add(ctx context.Context, date string, delta storage.DailyRecord) (*storage.DailyRecord, error) {
	var totals storage.DailyRecord
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketDays))
		if b == nil {
			return fmt.Errorf("days bucket missing")
		}
		var err error
		totals, err = updateBucketValue(b, date, func(current *storage.DailyRecord) storage.DailyRecord {
			if current == nil {
				return delta
			}
			return current.Add(delta)
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return &totals, nil
}

func (s *recordStore) MergeMax(ctx context.Context, dataset storage.Dataset) error {
	if len(dataset) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketDays))
		if b == nil {
			return fmt.Errorf("days bucket missing")
		}
		for _, date := range dataset.Dates() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			incoming := dataset[date]
			_, err := updateBucketValue(b, date, func(current *storage.DailyRecord) storage.DailyRecord {
				if current == nil {
					return incoming
				}
				return current.Max(incoming)
			})
			if err != nil {
				return fmt.Errorf("merge day %s: %w", date, err)
			}
		}
		return nil
	})
}
