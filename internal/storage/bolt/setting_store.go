package bolt

import (
	"context"
	"fmt"

	"github.com/goodtune/skilltrack/internal/storage"
	"go.etcd.io/bbolt"
)

type settingStore struct {
	db *bbolt.DB
}

func (s *settingStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketSettings))
		if b == nil {
			return storage.ErrNotFound
		}
		raw := b.Get([]byte(key))
		if raw == nil {
			return storage.ErrNotFound
		}
		value = string(raw)
		return nil
	})
	return value, err
}

func (s *settingStore) Set(ctx context.Context, key, value string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketSettings))
		if b == nil {
			return fmt.Errorf("settings bucket missing")
		}
		return b.Put([]byte(key), []byte(value))
	})
}

// Delete removes a setting. Missing keys are not an error.
func (s *settingStore) Delete(ctx context.Context, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketSettings))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}
