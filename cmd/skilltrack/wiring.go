package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goodtune/skilltrack/internal/auth"
	"github.com/goodtune/skilltrack/internal/config"
	"github.com/goodtune/skilltrack/internal/drive"
	"github.com/goodtune/skilltrack/internal/reconcile"
	"github.com/goodtune/skilltrack/internal/storage"
	"github.com/goodtune/skilltrack/internal/storage/bolt"
	"github.com/goodtune/skilltrack/internal/storage/redis"
	"github.com/goodtune/skilltrack/internal/storage/sqlite"
	"github.com/goodtune/skilltrack/internal/usage"
	"github.com/rs/zerolog"
)

// openStorage opens the configured backend.
func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "", "redis":
		return redis.Open(cfg.Redis)
	case "bolt":
		return bolt.Open(cfg.Path)
	case "sqlite":
		return sqlite.Open(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// newReconciler wires the credential provider and the Drive client.
func newReconciler(cfg *config.Config, store storage.Store, logger zerolog.Logger) *reconcile.Reconciler {
	consent := &auth.LoopbackConsent{
		RedirectURL: cfg.Auth.RedirectURL,
		OpenBrowser: cfg.Auth.OpenBrowser,
		Logger:      logger,
	}
	provider := auth.NewProvider(cfg.Auth, store.Settings(), consent, logger)

	client := drive.NewClient(cfg.Drive.Endpoint, nil, logger)
	open := func(ctx context.Context, token string) (reconcile.Remote, error) {
		session, err := client.Open(ctx, token)
		if err != nil {
			return nil, err
		}
		return session, nil
	}

	return reconcile.New(store.Records(), provider, open, reconcile.Config{
		FileName:     cfg.Sync.FileName,
		Timeout:      parseDuration(cfg.Sync.Timeout, 60*time.Second),
		FailureReset: parseDuration(cfg.Sync.FailureReset, 3*time.Second),
	}, logger)
}

func trackerConfig(cfg config.TrackingConfig) usage.Config {
	return usage.Config{
		TickInterval:   parseDuration(cfg.TickInterval, time.Second),
		FlushInterval:  parseDuration(cfg.FlushInterval, 5*time.Second),
		FlushTimeout:   parseDuration(cfg.FlushTimeout, 5*time.Second),
		IdleTimeout:    parseDuration(cfg.IdleTimeout, 30*time.Second),
		MaxGap:         parseDuration(cfg.MaxGap, usage.DefaultMaxGap),
		FlushThreshold: cfg.FlushThreshold,
		Location:       cfg.Location(),
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
