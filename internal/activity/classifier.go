// Package activity decides whether the user is engaged with the page.
package activity

import (
	"fmt"
	"time"
)

// DefaultIdleTimeout is how long after the last interaction the user still
// counts as active.
const DefaultIdleTimeout = 30 * time.Second

// Kind is a user input event reported by the page.
type Kind string

// Input kinds accepted as interaction signals.
const (
	PointerMove Kind = "pointermove"
	PointerDown Kind = "pointerdown"
	KeyDown     Kind = "keydown"
	Scroll      Kind = "scroll"
	TouchStart  Kind = "touchstart"
	Click       Kind = "click"
	MouseMove   Kind = "mousemove"
	MouseDown   Kind = "mousedown"
)

var kinds = map[Kind]struct{}{
	PointerMove: {},
	PointerDown: {},
	KeyDown:     {},
	Scroll:      {},
	TouchStart:  {},
	Click:       {},
	MouseMove:   {},
	MouseDown:   {},
}

// ParseKind validates an input event name.
func ParseKind(name string) (Kind, error) {
	k := Kind(name)
	if _, ok := kinds[k]; !ok {
		return "", fmt.Errorf("unknown interaction kind %q", name)
	}
	return k, nil
}

// Classifier tracks the last interaction and the video flag.
//
// A Classifier is not safe for concurrent use; the tracker owns it.
type Classifier struct {
	idleTimeout       time.Duration
	lastInteractionAt time.Time
	videoPlaying      bool
}

// NewClassifier returns a classifier whose last interaction is now, so a
// freshly opened page starts active.
func NewClassifier(idleTimeout time.Duration, now time.Time) *Classifier {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Classifier{
		idleTimeout:       idleTimeout,
		lastInteractionAt: now,
	}
}

// RecordInteraction marks the user as interacting at now. No debounce.
func (c *Classifier) RecordInteraction(now time.Time) {
	c.lastInteractionAt = now
}

// SetVideoPlaying stores the playback flag. Starting playback also counts as
// an interaction.
func (c *Classifier) SetVideoPlaying(playing bool, now time.Time) {
	c.videoPlaying = playing
	if playing {
		c.lastInteractionAt = now
	}
}

// IsActive reports whether time at now counts as interaction time.
func (c *Classifier) IsActive(now time.Time) bool {
	return c.videoPlaying || now.Sub(c.lastInteractionAt) < c.idleTimeout
}

// VideoPlaying returns the last reported playback flag.
func (c *Classifier) VideoPlaying() bool {
	return c.videoPlaying
}

// LastInteraction returns the time of the most recent interaction.
func (c *Classifier) LastInteraction() time.Time {
	return c.lastInteractionAt
}

// IsPlaying is the playback predicate evaluated by the video observer on each
// media event: not paused, not ended and readyState past HAVE_CURRENT_DATA.
func IsPlaying(paused, ended bool, readyState int) bool {
	return !paused && !ended && readyState > 2
}
