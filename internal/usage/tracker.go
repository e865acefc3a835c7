package usage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goodtune/skilltrack/internal/activity"
	"github.com/goodtune/skilltrack/internal/metrics"
	"github.com/goodtune/skilltrack/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrNotRunning is returned when a tracker is used before Start.
	ErrNotRunning = errors.New("usage: tracker not running")
	// ErrStopped is returned when a tracker is used after Stop.
	ErrStopped = errors.New("usage: tracker stopped")
)

// Config holds tracker configuration. Zero intervals disable the matching
// timer so ticks and flushes can be driven by hand.
type Config struct {
	TickInterval   time.Duration
	FlushInterval  time.Duration
	FlushTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxGap         time.Duration
	FlushThreshold float64
	Location       *time.Location
}

// Tracker accrues page time for the current day and periodically adds it to
// the durable record.
//
// All accrual state is owned by a single goroutine. Public methods send a
// command to it and wait for the command to run.
type Tracker struct {
	records storage.RecordStore
	clock   Clock
	config  Config
	logger  zerolog.Logger

	cmds    chan func()
	stop    chan struct{}
	done    chan struct{}
	running atomic.Bool
	stopped sync.Once
	stopErr error

	subMu       sync.RWMutex
	subscribers []func(Snapshot)
	writeHooks  []func(date string)

	// owned by run
	state      *State
	classifier *activity.Classifier
}

// NewTracker creates a new usage tracker
func NewTracker(records storage.RecordStore, config Config, clock Clock, logger zerolog.Logger) *Tracker {
	if config.IdleTimeout == 0 {
		config.IdleTimeout = activity.DefaultIdleTimeout
	}
	if config.MaxGap == 0 {
		config.MaxGap = DefaultMaxGap
	}
	if config.FlushThreshold == 0 {
		config.FlushThreshold = DefaultFlushThreshold
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if clock == nil {
		clock = RealClock{}
	}

	return &Tracker{
		records: records,
		clock:   clock,
		config:  config,
		logger:  logger.With().Str("component", "usage-tracker").Logger(),
		cmds:    make(chan func()),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start loads today's stored totals and starts the tracking goroutine.
func (t *Tracker) Start(ctx context.Context) error {
	if !t.running.CompareAndSwap(false, true) {
		return fmt.Errorf("tracker already started")
	}

	now := t.clock.Now()
	day := t.dayKey(now)
	base, err := t.loadBase(ctx, day)
	if err != nil {
		t.running.Store(false)
		return fmt.Errorf("load record for %s: %w", day, err)
	}

	t.state = NewState(uuid.NewString(), day, now, base)
	t.state.MaxGap = t.config.MaxGap
	t.classifier = activity.NewClassifier(t.config.IdleTimeout, now)

	go t.run()

	t.logger.Info().
		Str("session_id", t.state.ID).
		Str("date", day).
		Float64("total_seconds", base.TotalTime).
		Msg("Usage tracker started")
	return nil
}

// Stop performs a final tick and flush and stops the tracking goroutine.
func (t *Tracker) Stop(ctx context.Context) error {
	if !t.running.Load() {
		return nil
	}
	t.stopped.Do(func() { close(t.stop) })

	select {
	case <-t.done:
		t.logger.Info().Msg("Usage tracker stopped")
		return t.stopErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers fn to receive a snapshot after every accepted tick.
// fn runs on the tracker goroutine and must not block.
func (t *Tracker) Subscribe(fn func(Snapshot)) {
	t.subMu.Lock()
	t.subscribers = append(t.subscribers, fn)
	t.subMu.Unlock()
}

// OnWrite registers fn to run after pending time for date has been written
// to storage, including the final write for a day that just rolled over.
func (t *Tracker) OnWrite(fn func(date string)) {
	t.subMu.Lock()
	t.writeHooks = append(t.writeHooks, fn)
	t.subMu.Unlock()
}

// Tick accrues the time since the previous tick.
func (t *Tracker) Tick() error {
	return t.do(t.tick)
}

// Flush writes pending time to storage if it reaches the flush threshold.
func (t *Tracker) Flush(ctx context.Context) error {
	var err error
	if doErr := t.do(func() {
		ctx, cancel := t.flushContext(ctx)
		defer cancel()
		err = t.flush(ctx)
	}); doErr != nil {
		return doErr
	}
	return err
}

// RecordInteraction registers a user input event.
func (t *Tracker) RecordInteraction(kind activity.Kind) error {
	metrics.SignalsTotal.WithLabelValues("interaction").Inc()
	return t.do(func() {
		t.classifier.RecordInteraction(t.clock.Now())
		t.logger.Trace().Str("kind", string(kind)).Msg("Interaction recorded")
	})
}

// SetVideoPlaying registers a playback state change.
func (t *Tracker) SetVideoPlaying(playing bool) error {
	metrics.SignalsTotal.WithLabelValues("video").Inc()
	return t.do(func() {
		if playing != t.classifier.VideoPlaying() {
			t.logger.Debug().Bool("playing", playing).Msg("Video state changed")
		}
		t.classifier.SetVideoPlaying(playing, t.clock.Now())
	})
}

// Snapshot returns the live counters.
func (t *Tracker) Snapshot() (Snapshot, error) {
	var snap Snapshot
	err := t.do(func() {
		snap = t.snapshot(t.clock.Now())
	})
	return snap, err
}

// Refresh reloads the stored totals for the current day, e.g. after a
// reconciliation raised them.
func (t *Tracker) Refresh(ctx context.Context) error {
	var err error
	if doErr := t.do(func() {
		var base storage.DailyRecord
		base, err = t.loadBase(ctx, t.state.Day)
		if err == nil {
			t.state.Base = base
		}
	}); doErr != nil {
		return doErr
	}
	return err
}

// do runs fn on the tracker goroutine and waits for it.
func (t *Tracker) do(fn func()) error {
	if !t.running.Load() {
		return ErrNotRunning
	}

	finished := make(chan struct{})
	select {
	case t.cmds <- func() {
		defer close(finished)
		fn()
	}:
	case <-t.done:
		return ErrStopped
	}
	<-finished
	return nil
}

func (t *Tracker) run() {
	defer close(t.done)

	var tickC, flushC <-chan time.Time
	if t.config.TickInterval > 0 {
		ticker := time.NewTicker(t.config.TickInterval)
		defer ticker.Stop()
		tickC = ticker.C
	}
	if t.config.FlushInterval > 0 {
		ticker := time.NewTicker(t.config.FlushInterval)
		defer ticker.Stop()
		flushC = ticker.C
	}

	for {
		select {
		case <-tickC:
			t.tick()
		case <-flushC:
			ctx, cancel := t.flushContext(context.Background())
			if err := t.flush(ctx); err != nil {
				t.logger.Warn().Err(err).Str("date", t.state.Day).Msg("Periodic flush failed, keeping pending time")
			}
			cancel()
		case cmd := <-t.cmds:
			cmd()
		case <-t.stop:
			t.tick()
			ctx, cancel := t.flushContext(context.Background())
			t.stopErr = t.flush(ctx)
			cancel()
			if t.stopErr != nil {
				t.logger.Error().Err(t.stopErr).Msg("Final flush failed")
			}
			return
		}
	}
}

func (t *Tracker) tick() {
	now := t.clock.Now()
	active := t.classifier.IsActive(now)
	videoPlaying := t.classifier.VideoPlaying()

	seconds, result := t.state.Tick(now, active, videoPlaying)
	switch result {
	case TickAccepted:
		metrics.TrackedSeconds.WithLabelValues("total").Add(seconds)
		if active {
			metrics.TrackedSeconds.WithLabelValues("interaction").Add(seconds)
		}
		if videoPlaying {
			metrics.TrackedSeconds.WithLabelValues("video").Add(seconds)
		}
	case TickGap:
		metrics.TicksDiscarded.WithLabelValues(result.String()).Inc()
		t.logger.Debug().Float64("gap_seconds", seconds).Msg("Discarded tick after long gap")
	default:
		metrics.TicksDiscarded.WithLabelValues(result.String()).Inc()
	}

	if day := t.dayKey(now); day != t.state.Day {
		t.rollover(day)
	}

	if result == TickAccepted {
		t.publish(t.snapshot(now))
	}
}

// rollover closes out the previous day. If pending time cannot be written
// the session stays on the old day and the next tick retries.
func (t *Tracker) rollover(day string) {
	ctx, cancel := t.flushContext(context.Background())
	defer cancel()

	previous := t.state.Day
	if t.state.Pending.TotalTime > 0 {
		if err := t.write(ctx); err != nil {
			t.logger.Warn().Err(err).Str("date", previous).Msg("Rollover flush failed, retrying on next tick")
			return
		}
	}

	base, err := t.loadBase(ctx, day)
	if err != nil {
		t.logger.Warn().Err(err).Str("date", day).Msg("Failed to load record for new day")
		base = storage.DailyRecord{}
	}
	t.state.Rollover(day, base)

	t.logger.Info().Str("previous", previous).Str("date", day).Msg("Day rolled over")
}

func (t *Tracker) flush(ctx context.Context) error {
	if !t.state.NeedsFlush(t.config.FlushThreshold) {
		return nil
	}
	return t.write(ctx)
}

// write adds the pending buckets to the stored record for the state's day.
func (t *Tracker) write(ctx context.Context) error {
	start := time.Now()
	totals, err := t.records.Add(ctx, t.state.Day, t.state.Pending)
	metrics.FlushDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FlushesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("flush %s: %w", t.state.Day, err)
	}
	metrics.FlushesTotal.WithLabelValues("ok").Inc()

	t.logger.Debug().
		Str("date", t.state.Day).
		Float64("pending_total", t.state.Pending.TotalTime).
		Float64("stored_total", totals.TotalTime).
		Msg("Flushed pending time")

	day := t.state.Day
	t.state.Commit(*totals)

	t.subMu.RLock()
	for _, fn := range t.writeHooks {
		fn(day)
	}
	t.subMu.RUnlock()
	return nil
}

func (t *Tracker) snapshot(now time.Time) Snapshot {
	display := t.state.Display()
	return Snapshot{
		SessionID:       t.state.ID,
		Date:            t.state.Day,
		VideoTime:       int64(display.VideoTime),
		InteractionTime: int64(display.InteractionTime),
		TotalTime:       int64(display.TotalTime),
		Active:          t.classifier.IsActive(now),
		VideoPlaying:    t.classifier.VideoPlaying(),
		LastTickAt:      t.state.LastTickAt,
	}
}

func (t *Tracker) publish(snap Snapshot) {
	t.subMu.RLock()
	defer t.subMu.RUnlock()
	for _, fn := range t.subscribers {
		fn(snap)
	}
}

func (t *Tracker) loadBase(ctx context.Context, day string) (storage.DailyRecord, error) {
	record, err := t.records.Get(ctx, day)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.DailyRecord{}, nil
	}
	if err != nil {
		return storage.DailyRecord{}, err
	}
	return *record, nil
}

func (t *Tracker) flushContext(parent context.Context) (context.Context, context.CancelFunc) {
	if t.config.FlushTimeout > 0 {
		return context.WithTimeout(parent, t.config.FlushTimeout)
	}
	return context.WithCancel(parent)
}

func (t *Tracker) dayKey(now time.Time) string {
	return now.In(t.config.Location).Format(storage.DateLayout)
}
