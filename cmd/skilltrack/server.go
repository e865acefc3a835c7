package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/goodtune/skilltrack/internal/api"
	"github.com/goodtune/skilltrack/internal/bridge"
	"github.com/goodtune/skilltrack/internal/config"
	"github.com/goodtune/skilltrack/internal/history"
	"github.com/goodtune/skilltrack/internal/metrics"
	"github.com/goodtune/skilltrack/internal/overlay"
	"github.com/goodtune/skilltrack/internal/reconcile"
	"github.com/goodtune/skilltrack/internal/storage"
	"github.com/goodtune/skilltrack/internal/systemd"
	"github.com/goodtune/skilltrack/internal/usage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the skilltrack daemon",
	Long:  `Start the tracker, the local API and websocket bridge, periodic cloud sync, and the metrics endpoint.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting skilltrack")

	lock, err := acquireLock(cfg.StateDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn().Err(err).Msg("Failed to release instance lock")
		}
	}()

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Msg("Storage initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracker
	tracker := usage.NewTracker(store.Records(), trackerConfig(cfg.Tracking), usage.RealClock{}, logger)

	historyCache, err := history.New(store.Records(), cfg.History.CacheDays, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize history cache: %w", err)
	}

	// Bridge and overlay reference each other through the toggle signal
	var overlayCtl *overlay.Controller
	hub := bridge.NewHub(bridge.Signals{
		VideoState:  tracker.SetVideoPlaying,
		Interaction: tracker.RecordInteraction,
		ToggleOverlay: func(ctx context.Context, show bool) error {
			return overlayCtl.SetVisible(ctx, show)
		},
	}, bridge.Options{AllowedOrigins: cfg.Server.AllowedOrigins}, logger)
	overlayCtl = overlay.NewController(store.Settings(), tracker, hub, logger)

	tracker.Subscribe(func(snap usage.Snapshot) {
		historyCache.Forget(snap.Date)
		hub.Broadcast(bridge.SnapshotMessage(snap))
	})
	tracker.OnWrite(historyCache.Forget)

	if err := tracker.Start(ctx); err != nil {
		return fmt.Errorf("failed to start tracker: %w", err)
	}

	// Cloud sync
	var (
		reconciler *reconcile.Reconciler
		scheduler  *reconcile.Scheduler
		syncer     api.Syncer
	)
	if cfg.Sync.Enabled {
		reconciler = newReconciler(cfg, store, logger)
		reconciler.OnMerged(func(ctx context.Context, merged storage.Dataset) {
			historyCache.Replace(merged)
			if err := tracker.Refresh(ctx); err != nil {
				logger.Warn().Err(err).Msg("Failed to refresh tracker after sync")
			}
		})
		syncer = reconciler

		scheduler = reconcile.NewScheduler(reconciler, parseDuration(cfg.Sync.Interval, 15*time.Minute), logger)
		scheduler.Start()
	} else {
		logger.Info().Msg("Cloud sync disabled")
	}

	// API server
	apiServer := api.NewServer(api.Config{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Location:       cfg.Tracking.Location(),
	}, api.Dependencies{
		Tracker: tracker,
		Overlay: overlayCtl,
		History: historyCache,
		Sync:    syncer,
		Socket:  hub,
	}, logger)

	apiListener, err := sdListeners.APIListener(fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.APIPort))
	if err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}
	apiServer.Serve(apiListener)

	// Metrics server, port 0 disables it
	var metricsServer *metrics.Server
	if cfg.Server.MetricsPort > 0 || sdListeners.Metrics != nil {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
		metricsServer = metrics.NewServer(metricsAddr, logger)
		if sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start Metrics Server: %w", err)
		}
	}

	logger.Info().
		Str("api", apiListener.Addr().String()).
		Bool("sync", cfg.Sync.Enabled).
		Msg("skilltrack startup complete")

	if err := systemd.NotifyStatus("Tracking on " + apiListener.Addr().String()); err != nil {
		logger.Debug().Err(err).Msg("Failed to send systemd status")
	}
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	// Wait for signals (shutdown or sync)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			logger.Info().Msg("SIGHUP received, flushing and syncing")
			if err := tracker.Flush(ctx); err != nil {
				logger.Error().Err(err).Msg("Flush failed")
			}
			if reconciler != nil {
				go func() {
					if _, err := reconciler.Reconcile(ctx, false); err != nil {
						logger.Error().Err(err).Msg("Sync failed")
					}
				}()
			}
			continue
		}

		logger.Info().Msg("Shutdown signal received, gracefully stopping...")
		break
	}

	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if scheduler != nil {
		scheduler.Stop()
	}

	hub.Close()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error stopping API server")
	}

	if err := tracker.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Final flush failed")
	}

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping Metrics Server")
		}
	}

	logger.Info().Msg("skilltrack stopped")
	return nil
}

// acquireLock takes the single-instance lock in dir.
func acquireLock(dir string) (*flock.Flock, error) {
	if err := storage.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	lock := flock.New(filepath.Join(dir, "skilltrack.lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, errors.New("another skilltrack daemon instance is already running")
	}
	return lock, nil
}

// loadForCommand loads configuration and storage for the one-shot commands.
func loadForCommand() (*config.Config, storage.Store, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, zerolog.Nop(), fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := setupLogger(cfg.Logging)

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, nil, logger, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return cfg, store, logger, nil
}
