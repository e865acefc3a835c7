package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/skilltrack/internal/config"
	"github.com/goodtune/skilltrack/internal/storage"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix   = "skilltrack:"
	dayIndexKey = keyPrefix + "days"
	settingsKey = keyPrefix + "settings"
)

// Store implements the storage.Store interface using Redis
type Store struct {
	client        *redis.Client
	recordStore   *recordStore
	settingsStore *settingStore
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	// Parse timeouts
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Determine address
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	// Ping to verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{
		client:        client,
		recordStore:   &recordStore{client: client},
		settingsStore: &settingStore{client: client},
	}, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Records returns the RecordStore implementation
func (s *Store) Records() storage.RecordStore {
	return s.recordStore
}

// Settings returns the SettingStore implementation
func (s *Store) Settings() storage.SettingStore {
	return s.settingsStore
}

func dayKey(date string) string {
	return keyPrefix + "day:" + date
}
