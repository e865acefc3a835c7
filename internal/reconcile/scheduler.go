package reconcile

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler runs background reconciliations on a fixed interval
type Scheduler struct {
	reconciler *Reconciler
	interval   time.Duration
	logger     zerolog.Logger
	stopChan   chan struct{}
	done       chan struct{}
}

// NewScheduler creates a new sync scheduler
func NewScheduler(reconciler *Reconciler, interval time.Duration, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		reconciler: reconciler,
		interval:   interval,
		logger:     logger.With().Str("component", "sync-scheduler").Logger(),
		stopChan:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins the sync scheduler
func (s *Scheduler) Start() {
	go s.run()
	s.logger.Info().
		Dur("interval", s.interval).
		Msg("Sync scheduler started")
}

// Stop stops the scheduler and cancels a running reconciliation
func (s *Scheduler) Stop() {
	close(s.stopChan)
	<-s.done
	s.logger.Info().Msg("Sync scheduler stopped")
}

// run is the main scheduler loop
func (s *Scheduler) run() {
	defer close(s.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	// first run happens right away when a credential is already stored
	if s.reconciler.tokens.HasCredential(ctx) {
		s.runOnce(ctx)
	}

	for {
		next := time.Now().Add(s.interval)
		s.reconciler.setNextSync(next)

		s.logger.Debug().
			Time("next_sync", next).
			Msg("Scheduled next sync")

		select {
		case <-time.After(s.interval):
			s.runOnce(ctx)
		case <-s.stopChan:
			return
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if _, err := s.reconciler.Reconcile(ctx, false); err != nil {
		s.logger.Debug().Err(err).Msg("Background sync failed")
	}
}
