// Package bridge carries signals between the daemon and the page scripts
// over websockets. Delivery is fire-and-forget in both directions.
package bridge

import (
	"github.com/goodtune/skilltrack/internal/usage"
)

// Message types.
const (
	TypeVideoState    = "VIDEO_STATE_UPDATE"
	TypeGSTVideo      = "GST_VIDEO_UPDATE"
	TypeInteraction   = "USER_INTERACTION"
	TypeToggleOverlay = "TOGGLE_OVERLAY"
	TypeSnapshot      = "SNAPSHOT"
)

// Message is the tagged envelope exchanged with page scripts.
type Message struct {
	Type      string          `json:"type"`
	IsPlaying *bool           `json:"isPlaying,omitempty"`
	Event     string          `json:"event,omitempty"`
	Show      *bool           `json:"show,omitempty"`
	Snapshot  *usage.Snapshot `json:"snapshot,omitempty"`
}

// SnapshotMessage wraps live counters for broadcast.
func SnapshotMessage(s usage.Snapshot) Message {
	return Message{Type: TypeSnapshot, Snapshot: &s}
}

// OverlayMessage announces a visibility change.
func OverlayMessage(show bool) Message {
	return Message{Type: TypeToggleOverlay, Show: &show}
}
