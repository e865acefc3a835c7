package usage

import "time"

// TickResult describes what a tick did with its delta.
type TickResult int

const (
	// TickAccepted means the delta was accrued.
	TickAccepted TickResult = iota
	// TickNonPositive means the clock did not advance.
	TickNonPositive
	// TickGap means the delta exceeded the maximum gap, e.g. after sleep.
	TickGap
)

func (r TickResult) String() string {
	switch r {
	case TickAccepted:
		return "accepted"
	case TickNonPositive:
		return "non_positive"
	case TickGap:
		return "gap"
	default:
		return "unknown"
	}
}

// Snapshot is the read model of the live counters.
type Snapshot struct {
	SessionID       string    `json:"sessionId"`
	Date            string    `json:"date"`
	VideoTime       int64     `json:"videoTime"`
	InteractionTime int64     `json:"interactionTime"`
	TotalTime       int64     `json:"totalTime"`
	Active          bool      `json:"active"`
	VideoPlaying    bool      `json:"videoPlaying"`
	LastTickAt      time.Time `json:"lastTickAt"`
}
