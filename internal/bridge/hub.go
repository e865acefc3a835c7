package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/goodtune/skilltrack/internal/activity"
	"github.com/goodtune/skilltrack/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Signals receives inbound page signals. Nil funcs ignore the signal.
type Signals struct {
	VideoState    func(playing bool) error
	Interaction   func(kind activity.Kind) error
	ToggleOverlay func(ctx context.Context, show bool) error
}

// Options configures connection handling.
type Options struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	SendBuffer     int
	AllowedOrigins []string
}

func (o Options) withDefaults() Options {
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 16
	}
	return o
}

const maxMessageSize = 4096

// Hub accepts websocket clients and fans messages out to them.
type Hub struct {
	upgrader websocket.Upgrader
	signals  Signals
	opts     Options
	logger   zerolog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// NewHub creates a hub.
func NewHub(signals Signals, opts Options, logger zerolog.Logger) *Hub {
	opts = opts.withDefaults()
	h := &Hub{
		signals: signals,
		opts:    opts,
		logger:  logger.With().Str("component", "bridge").Logger(),
		clients: make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	h.logger.Warn().Str("origin", origin).Msg("Rejected websocket origin")
	return false
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		h.logger.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, h.opts.SendBuffer),
		done: make(chan struct{}),
	}
	if !h.register(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"), time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	defer h.unregister(c)

	go h.writeLoop(c)
	h.readLoop(r.Context(), c)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	metrics.BridgeClients.Set(float64(len(h.clients)))
	h.logger.Debug().Str("remote", c.conn.RemoteAddr().String()).Msg("Websocket client connected")
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	metrics.BridgeClients.Set(float64(len(h.clients)))
	h.mu.Unlock()

	c.close()
	_ = c.conn.Close()
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug().Err(err).Msg("Websocket read failed")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug().Err(err).Msg("Ignoring malformed message")
			continue
		}
		if err := h.dispatch(ctx, msg); err != nil {
			h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to handle message")
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, msg Message) error {
	switch msg.Type {
	case TypeVideoState, TypeGSTVideo:
		if h.signals.VideoState == nil || msg.IsPlaying == nil {
			return nil
		}
		return h.signals.VideoState(*msg.IsPlaying)
	case TypeInteraction:
		if h.signals.Interaction == nil {
			return nil
		}
		kind, err := activity.ParseKind(msg.Event)
		if err != nil {
			return err
		}
		return h.signals.Interaction(kind)
	case TypeToggleOverlay:
		if h.signals.ToggleOverlay == nil || msg.Show == nil {
			return nil
		}
		return h.signals.ToggleOverlay(ctx, *msg.Show)
	default:
		h.logger.Debug().Str("type", msg.Type).Msg("Ignoring unknown message type")
		return nil
	}
}

func (h *Hub) writeLoop(c *client) {
	pingPeriod := h.opts.ReadTimeout * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.opts.WriteTimeout)); err != nil {
				_ = c.conn.Close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"), time.Now().Add(time.Second))
			return
		}
	}
}

// Broadcast queues msg for every client. Clients whose buffer is full miss
// the message.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to encode message")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			metrics.BridgeDropped.Inc()
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects all clients and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		c.close()
	}
}
