package reconcile

import (
	"sync"
	"time"
)

// State is the phase of the most recent reconciliation.
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StateSynced  State = "synced"
	StateFailed  State = "failed"
)

// Status is what the sync indicator shows.
type Status struct {
	LoggedIn  bool      `json:"loggedIn"`
	State     State     `json:"state"`
	LastSync  time.Time `json:"lastSync,omitempty"`
	NextSync  time.Time `json:"nextSync,omitempty"`
	LastError string    `json:"lastError,omitempty"`
}

type statusTracker struct {
	mu     sync.Mutex
	status Status
	reset  *time.Timer
	// loggedOut holds the logged-out presentation after a failed
	// interactive attempt until the next attempt starts.
	loggedOut bool
}

func (t *statusTracker) get() (Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status, t.loggedOut
}

// update records the outcome of an attempt and cancels any pending reset.
func (t *statusTracker) update(fn func(*Status)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reset != nil {
		t.reset.Stop()
		t.reset = nil
	}
	t.loggedOut = false
	fn(&t.status)
}

// annotate changes fields that are not part of an attempt's outcome.
func (t *statusTracker) annotate(fn func(*Status)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.status)
}

// failThenReset records a failure and, after d, falls back to the
// logged-out idle state.
func (t *statusTracker) failThenReset(err error, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reset != nil {
		t.reset.Stop()
	}
	t.loggedOut = false
	t.status.State = StateFailed
	t.status.LastError = err.Error()
	t.reset = time.AfterFunc(d, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.status.State == StateFailed {
			t.status.State = StateIdle
			t.status.LoggedIn = false
			t.loggedOut = true
		}
		t.reset = nil
	})
}
