package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goodtune/skilltrack/internal/activity"
	"github.com/goodtune/skilltrack/internal/usage"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type recorder struct {
	video       chan bool
	interaction chan activity.Kind
	overlay     chan bool
}

func newRecorder() *recorder {
	return &recorder{
		video:       make(chan bool, 4),
		interaction: make(chan activity.Kind, 4),
		overlay:     make(chan bool, 4),
	}
}

func (r *recorder) signals() Signals {
	return Signals{
		VideoState: func(playing bool) error {
			r.video <- playing
			return nil
		},
		Interaction: func(kind activity.Kind) error {
			r.interaction <- kind
			return nil
		},
		ToggleOverlay: func(_ context.Context, show bool) error {
			r.overlay <- show
			return nil
		},
	}
}

func startHub(t *testing.T, signals Signals, opts Options) (*Hub, string) {
	t.Helper()
	hub := NewHub(signals, opts, zerolog.Nop())
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for signal")
	}
	var zero T
	return zero
}

func TestHubDispatchesInboundMessages(t *testing.T) {
	rec := newRecorder()
	_, url := startHub(t, rec.signals(), Options{})
	conn := dial(t, url, nil)

	messages := []string{
		`{"type":"USER_INTERACTION","event":"keydown"}`,
		`{"type":"USER_INTERACTION","event":"focus"}`,
		`{"type":"GST_VIDEO_UPDATE","isPlaying":true}`,
		`{"type":"VIDEO_STATE_UPDATE","isPlaying":false}`,
		`not json`,
		`{"type":"TOGGLE_OVERLAY","show":false}`,
	}
	for _, m := range messages {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	if kind := waitFor(t, rec.interaction); kind != activity.KeyDown {
		t.Errorf("expected keydown, got %s", kind)
	}
	if playing := waitFor(t, rec.video); !playing {
		t.Error("expected playing=true first")
	}
	if playing := waitFor(t, rec.video); playing {
		t.Error("expected playing=false second")
	}
	if show := waitFor(t, rec.overlay); show {
		t.Error("expected show=false")
	}
	select {
	case kind := <-rec.interaction:
		t.Errorf("unknown interaction kind must be dropped, got %s", kind)
	default:
	}
}

func TestHubBroadcast(t *testing.T) {
	hub, url := startHub(t, Signals{}, Options{})
	conn := dial(t, url, nil)

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.Clients() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.Clients())
	}

	hub.Broadcast(SnapshotMessage(usage.Snapshot{Date: "2024-01-01", TotalTime: 42}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != TypeSnapshot || msg.Snapshot == nil || msg.Snapshot.TotalTime != 42 {
		t.Fatalf("unexpected message: %s", data)
	}
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	_, url := startHub(t, Signals{}, Options{AllowedOrigins: []string{"https://www.skills.google"}})

	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}

	header.Set("Origin", "https://www.skills.google")
	dial(t, url, header)
}
