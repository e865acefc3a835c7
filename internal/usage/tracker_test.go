package usage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/skilltrack/internal/activity"
	"github.com/goodtune/skilltrack/internal/storage"
	"github.com/rs/zerolog"
)

// memoryRecords is an in-memory RecordStore with injectable failures.
type memoryRecords struct {
	mu      sync.Mutex
	days    storage.Dataset
	failAdd error
	adds    int
}

func newMemoryRecords() *memoryRecords {
	return &memoryRecords{days: make(storage.Dataset)}
}

func (m *memoryRecords) Get(_ context.Context, date string) (*storage.DailyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.days[date]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &record, nil
}

func (m *memoryRecords) List(_ context.Context) (storage.Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.days.Clone(), nil
}

func (m *memoryRecords) Add(_ context.Context, date string, delta storage.DailyRecord) (*storage.DailyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAdd != nil {
		return nil, m.failAdd
	}
	m.adds++
	record := m.days[date].Add(delta)
	m.days[date] = record
	return &record, nil
}

func (m *memoryRecords) MergeMax(_ context.Context, dataset storage.Dataset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for date, record := range dataset {
		m.days[date] = m.days[date].Max(record)
	}
	return nil
}

func (m *memoryRecords) setFailure(err error) {
	m.mu.Lock()
	m.failAdd = err
	m.mu.Unlock()
}

func (m *memoryRecords) day(date string) storage.DailyRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.days[date]
}

func startTracker(t *testing.T, records storage.RecordStore, clock *ManualClock) *Tracker {
	t.Helper()

	tracker := NewTracker(records, Config{FlushTimeout: time.Second}, clock, zerolog.Nop())
	if err := tracker.Start(context.Background()); err != nil {
		t.Fatalf("start tracker: %v", err)
	}
	t.Cleanup(func() { _ = tracker.Stop(context.Background()) })
	return tracker
}

func tickFor(t *testing.T, tracker *Tracker, clock *ManualClock, n int, step time.Duration, interact bool) {
	t.Helper()
	for i := 0; i < n; i++ {
		clock.Advance(step)
		if interact {
			if err := tracker.RecordInteraction(activity.PointerMove); err != nil {
				t.Fatalf("record interaction: %v", err)
			}
		}
		if err := tracker.Tick(); err != nil {
			t.Fatalf("tick: %v", err)
		}
	}
}

var morning = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func TestTrackerActiveTicksThenFlush(t *testing.T) {
	records := newMemoryRecords()
	clock := NewManualClock(morning)
	tracker := startTracker(t, records, clock)

	tickFor(t, tracker, clock, 10, time.Second, true)

	if err := tracker.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}

	want := storage.DailyRecord{VideoTime: 0, InteractionTime: 10, TotalTime: 10}
	if got := records.day("2024-01-01"); got != want {
		t.Fatalf("expected stored %+v, got %+v", want, got)
	}

	snap, err := tracker.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.TotalTime != 10 || snap.InteractionTime != 10 || snap.VideoTime != 0 {
		t.Fatalf("unexpected snapshot after flush: %+v", snap)
	}
}

func TestTrackerDiscardsLongGap(t *testing.T) {
	records := newMemoryRecords()
	clock := NewManualClock(morning)
	tracker := startTracker(t, records, clock)

	tickFor(t, tracker, clock, 3, time.Second, true)
	tickFor(t, tracker, clock, 1, 400*time.Second, true)

	snap, err := tracker.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.TotalTime != 3 {
		t.Fatalf("expected the 400s gap to be dropped, total=%d", snap.TotalTime)
	}

	// accrual resumes from the post-gap tick
	tickFor(t, tracker, clock, 1, time.Second, true)
	snap, _ = tracker.Snapshot()
	if snap.TotalTime != 4 {
		t.Fatalf("expected accrual to resume, total=%d", snap.TotalTime)
	}
}

func TestTrackerIdleStopsInteraction(t *testing.T) {
	records := newMemoryRecords()
	clock := NewManualClock(morning)
	tracker := startTracker(t, records, clock)

	// The tracker counts as interacted at start; ticks at 1..29s are active.
	tickFor(t, tracker, clock, 40, time.Second, false)

	snap, err := tracker.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.TotalTime != 40 {
		t.Errorf("expected total 40, got %d", snap.TotalTime)
	}
	if snap.InteractionTime != 29 {
		t.Errorf("expected interaction 29, got %d", snap.InteractionTime)
	}
	if snap.Active {
		t.Error("expected idle after 40s without interaction")
	}
}

func TestTrackerVideoTime(t *testing.T) {
	records := newMemoryRecords()
	clock := NewManualClock(morning)
	tracker := startTracker(t, records, clock)

	if err := tracker.SetVideoPlaying(true); err != nil {
		t.Fatalf("set video playing: %v", err)
	}
	tickFor(t, tracker, clock, 60, time.Second, false)
	if err := tracker.SetVideoPlaying(false); err != nil {
		t.Fatalf("set video stopped: %v", err)
	}
	tickFor(t, tracker, clock, 5, time.Second, false)

	snap, _ := tracker.Snapshot()
	if snap.VideoTime != 60 {
		t.Errorf("expected video 60, got %d", snap.VideoTime)
	}
	// stopping playback is not an interaction and the last one was at start
	if snap.InteractionTime != 60 {
		t.Errorf("expected interaction 60, got %d", snap.InteractionTime)
	}
	if snap.TotalTime != 65 {
		t.Errorf("expected total 65, got %d", snap.TotalTime)
	}
}

func TestTrackerFlushBelowThreshold(t *testing.T) {
	records := newMemoryRecords()
	clock := NewManualClock(morning)
	tracker := startTracker(t, records, clock)

	tickFor(t, tracker, clock, 1, 50*time.Millisecond, true)
	if err := tracker.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if _, err := records.Get(context.Background(), "2024-01-01"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected no write below threshold, got %v", err)
	}
}

func TestTrackerFailedFlushKeepsPending(t *testing.T) {
	records := newMemoryRecords()
	clock := NewManualClock(morning)
	tracker := startTracker(t, records, clock)

	tickFor(t, tracker, clock, 5, time.Second, true)

	records.setFailure(errors.New("disk full"))
	if err := tracker.Flush(context.Background()); err == nil {
		t.Fatal("expected flush error")
	}

	snap, _ := tracker.Snapshot()
	if snap.TotalTime != 5 {
		t.Fatalf("expected pending time kept after failure, total=%d", snap.TotalTime)
	}

	records.setFailure(nil)
	if err := tracker.Flush(context.Background()); err != nil {
		t.Fatalf("retry flush: %v", err)
	}
	if got := records.day("2024-01-01"); got.TotalTime != 5 {
		t.Fatalf("expected 5 seconds stored after retry, got %+v", got)
	}
}

func TestTrackerStartLoadsBase(t *testing.T) {
	records := newMemoryRecords()
	records.days["2024-01-01"] = storage.DailyRecord{VideoTime: 10, InteractionTime: 20, TotalTime: 30}

	clock := NewManualClock(morning)
	tracker := startTracker(t, records, clock)

	tickFor(t, tracker, clock, 2, time.Second, true)

	snap, _ := tracker.Snapshot()
	if snap.TotalTime != 32 || snap.InteractionTime != 22 || snap.VideoTime != 10 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	if err := tracker.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := records.day("2024-01-01"); got.TotalTime != 32 {
		t.Fatalf("expected additive write, got %+v", got)
	}
}

func TestTrackerFlushPicksUpConcurrentWriter(t *testing.T) {
	records := newMemoryRecords()
	clock := NewManualClock(morning)
	tracker := startTracker(t, records, clock)

	tickFor(t, tracker, clock, 3, time.Second, true)

	// another tracker added time to the same day
	if _, err := records.Add(context.Background(), "2024-01-01", storage.DailyRecord{TotalTime: 100}); err != nil {
		t.Fatalf("concurrent add: %v", err)
	}

	if err := tracker.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	snap, _ := tracker.Snapshot()
	if snap.TotalTime != 103 {
		t.Fatalf("expected display to include the other writer, got %d", snap.TotalTime)
	}
}

func TestTrackerDayRollover(t *testing.T) {
	records := newMemoryRecords()
	clock := NewManualClock(time.Date(2024, 1, 1, 23, 59, 57, 0, time.UTC))
	tracker := startTracker(t, records, clock)

	var (
		mu      sync.Mutex
		written []string
	)
	tracker.OnWrite(func(date string) {
		mu.Lock()
		written = append(written, date)
		mu.Unlock()
	})

	// 23:59:58, 23:59:59, then midnight
	tickFor(t, tracker, clock, 3, time.Second, true)

	if got := records.day("2024-01-01"); got.TotalTime != 3 {
		t.Fatalf("expected pending flushed to the old day, got %+v", got)
	}
	mu.Lock()
	if len(written) != 1 || written[0] != "2024-01-01" {
		t.Fatalf("expected write notification for the old day, got %v", written)
	}
	mu.Unlock()

	snap, _ := tracker.Snapshot()
	if snap.Date != "2024-01-02" {
		t.Fatalf("expected snapshot for 2024-01-02, got %s", snap.Date)
	}
	if snap.TotalTime != 0 {
		t.Fatalf("expected fresh counters after rollover, got %d", snap.TotalTime)
	}

	tickFor(t, tracker, clock, 2, time.Second, true)
	if err := tracker.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := records.day("2024-01-02"); got.TotalTime != 2 {
		t.Fatalf("expected 2 seconds on the new day, got %+v", got)
	}
}

func TestTrackerStopFlushes(t *testing.T) {
	records := newMemoryRecords()
	clock := NewManualClock(morning)

	tracker := NewTracker(records, Config{}, clock, zerolog.Nop())
	if err := tracker.Start(context.Background()); err != nil {
		t.Fatalf("start tracker: %v", err)
	}

	tickFor(t, tracker, clock, 4, time.Second, true)
	clock.Advance(time.Second)

	if err := tracker.Stop(context.Background()); err != nil {
		t.Fatalf("stop tracker: %v", err)
	}

	// the final tick accrues the last second before flushing
	if got := records.day("2024-01-01"); got.TotalTime != 5 {
		t.Fatalf("expected 5 seconds flushed on stop, got %+v", got)
	}

	if err := tracker.Tick(); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped after stop, got %v", err)
	}
}

func TestTrackerNotRunning(t *testing.T) {
	tracker := NewTracker(newMemoryRecords(), Config{}, NewManualClock(morning), zerolog.Nop())
	if _, err := tracker.Snapshot(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestTrackerSubscribersReceiveAcceptedTicks(t *testing.T) {
	records := newMemoryRecords()
	clock := NewManualClock(morning)
	tracker := startTracker(t, records, clock)

	var mu sync.Mutex
	var snaps []Snapshot
	tracker.Subscribe(func(s Snapshot) {
		mu.Lock()
		snaps = append(snaps, s)
		mu.Unlock()
	})

	tickFor(t, tracker, clock, 3, time.Second, true)
	// non-positive delta is not published
	if err := tracker.Tick(); err != nil {
		t.Fatalf("tick: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(snaps) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(snaps))
	}
	if snaps[2].TotalTime != 3 {
		t.Fatalf("expected last snapshot total 3, got %d", snaps[2].TotalTime)
	}
}

func TestTrackerRefresh(t *testing.T) {
	records := newMemoryRecords()
	clock := NewManualClock(morning)
	tracker := startTracker(t, records, clock)

	if err := records.MergeMax(context.Background(), storage.Dataset{
		"2024-01-01": {InteractionTime: 50, TotalTime: 60},
	}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if err := tracker.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	snap, _ := tracker.Snapshot()
	if snap.TotalTime != 60 || snap.InteractionTime != 50 {
		t.Fatalf("expected refreshed base, got %+v", snap)
	}
}

func TestTrackerTimers(t *testing.T) {
	records := newMemoryRecords()
	tracker := NewTracker(records, Config{
		TickInterval:  5 * time.Millisecond,
		FlushInterval: 20 * time.Millisecond,
	}, RealClock{}, zerolog.Nop())

	received := make(chan Snapshot, 1)
	tracker.Subscribe(func(s Snapshot) {
		select {
		case received <- s:
		default:
		}
	})

	if err := tracker.Start(context.Background()); err != nil {
		t.Fatalf("start tracker: %v", err)
	}
	defer func() { _ = tracker.Stop(context.Background()) }()

	select {
	case snap := <-received:
		if !snap.Active {
			t.Error("expected tracker to start active")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot published by the tick timer")
	}
}
