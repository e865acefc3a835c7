package api

import (
	"github.com/goodtune/skilltrack/internal/report"
	"github.com/goodtune/skilltrack/internal/usage"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// TodayResponse is the live counters plus their clock renderings.
type TodayResponse struct {
	usage.Snapshot
	Video       string `json:"video"`
	Interaction string `json:"interaction"`
	Total       string `json:"total"`
}

func newTodayResponse(snap usage.Snapshot) TodayResponse {
	return TodayResponse{
		Snapshot:    snap,
		Video:       report.FormatClock(float64(snap.VideoTime)),
		Interaction: report.FormatClock(float64(snap.InteractionTime)),
		Total:       report.FormatClock(float64(snap.TotalTime)),
	}
}

// InteractionRequest reports one input event.
type InteractionRequest struct {
	Event string `json:"event"`
}

// VideoRequest reports the player state. Either IsPlaying or the raw
// element state must be set.
type VideoRequest struct {
	IsPlaying  *bool `json:"isPlaying,omitempty"`
	Paused     *bool `json:"paused,omitempty"`
	Ended      bool  `json:"ended,omitempty"`
	ReadyState int   `json:"readyState,omitempty"`
}

// OverlayState is the overlay visibility.
type OverlayState struct {
	Show bool `json:"show"`
}
