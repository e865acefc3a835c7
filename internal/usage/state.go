package usage

import (
	"time"

	"github.com/goodtune/skilltrack/internal/storage"
)

// DefaultMaxGap bounds a single tick delta. Longer deltas (device sleep,
// throttled timers) are dropped entirely.
const DefaultMaxGap = 300 * time.Second

// DefaultFlushThreshold is the pending total, in seconds, below which a
// flush does nothing.
const DefaultFlushThreshold = 0.1

// State is the accrual context for one tracking session.
type State struct {
	ID         string
	Day        string
	LastTickAt time.Time

	// Pending holds seconds accrued since the last successful flush.
	Pending storage.DailyRecord
	// Base holds the stored totals for Day as of the last flush or load.
	Base storage.DailyRecord

	MaxGap time.Duration
}

// NewState starts a session for day at now.
func NewState(id, day string, now time.Time, base storage.DailyRecord) *State {
	return &State{
		ID:         id,
		Day:        day,
		LastTickAt: now,
		Base:       base,
		MaxGap:     DefaultMaxGap,
	}
}

// Tick accrues the time since the previous tick. lastTickAt always moves to
// now, even when the delta is discarded.
func (s *State) Tick(now time.Time, active, videoPlaying bool) (float64, TickResult) {
	delta := now.Sub(s.LastTickAt)
	s.LastTickAt = now

	if delta <= 0 {
		return 0, TickNonPositive
	}
	if delta > s.MaxGap {
		return delta.Seconds(), TickGap
	}

	seconds := delta.Seconds()
	s.Pending.TotalTime += seconds
	if active {
		s.Pending.InteractionTime += seconds
	}
	if videoPlaying {
		s.Pending.VideoTime += seconds
	}
	return seconds, TickAccepted
}

// NeedsFlush reports whether enough time is pending to be worth a write.
func (s *State) NeedsFlush(threshold float64) bool {
	return s.Pending.TotalTime >= threshold
}

// Commit records a successful flush: base becomes the stored totals and the
// pending buckets are cleared.
func (s *State) Commit(totals storage.DailyRecord) {
	s.Base = totals
	s.Pending = storage.DailyRecord{}
}

// Display returns base plus pending.
func (s *State) Display() storage.DailyRecord {
	return s.Base.Add(s.Pending)
}

// Rollover moves the session to a new day with a fresh base.
func (s *State) Rollover(day string, base storage.DailyRecord) {
	s.Day = day
	s.Base = base
	s.Pending = storage.DailyRecord{}
}
