// Package api serves the local HTTP interface used by the browser scripts
// and the popup.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/goodtune/skilltrack/internal/activity"
	"github.com/goodtune/skilltrack/internal/reconcile"
	"github.com/goodtune/skilltrack/internal/storage"
	"github.com/goodtune/skilltrack/internal/usage"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Tracker is the live accrual state.
type Tracker interface {
	Snapshot() (usage.Snapshot, error)
	RecordInteraction(kind activity.Kind) error
	SetVideoPlaying(playing bool) error
}

// Overlay controls overlay visibility.
type Overlay interface {
	Visible(ctx context.Context) (bool, error)
	SetVisible(ctx context.Context, show bool) error
}

// History reads stored days.
type History interface {
	Month(ctx context.Context, t time.Time) (storage.Dataset, error)
	All(ctx context.Context) (storage.Dataset, error)
}

// Syncer runs reconciliations.
type Syncer interface {
	Reconcile(ctx context.Context, interactive bool) (*reconcile.Result, error)
	Status(ctx context.Context) reconcile.Status
}

// Config holds the API server configuration.
type Config struct {
	AllowedOrigins []string
	Location       *time.Location
}

// Dependencies are the components the handlers talk to. Sync and Socket may
// be nil.
type Dependencies struct {
	Tracker Tracker
	Overlay Overlay
	History History
	Sync    Syncer
	Socket  http.Handler
}

// Server represents the API HTTP server.
type Server struct {
	config Config
	deps   Dependencies
	router *mux.Router
	server *http.Server
	logger zerolog.Logger
	now    func() time.Time
}

// NewServer creates a new API server.
func NewServer(cfg Config, deps Dependencies, logger zerolog.Logger) *Server {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	s := &Server{
		config: cfg,
		deps:   deps,
		router: mux.NewRouter(),
		logger: logger.With().Str("component", "api").Logger(),
		now:    time.Now,
	}
	s.setupRoutes()

	// No WriteTimeout: websocket connections and interactive sign-in outlive it.
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(CORSMiddleware(s.config.AllowedOrigins))

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.router.HandleFunc("/api/today", s.handleToday).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/api/events/interaction", s.handleInteraction).Methods("POST", "OPTIONS")
	s.router.HandleFunc("/api/events/video", s.handleVideo).Methods("POST", "OPTIONS")

	s.router.HandleFunc("/api/overlay", s.handleGetOverlay).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/api/overlay", s.handleSetOverlay).Methods("PUT")

	s.router.HandleFunc("/api/history", s.handleHistory).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/api/history/export.csv", s.handleExport).Methods("GET", "OPTIONS")

	s.router.HandleFunc("/api/sync", s.handleSync).Methods("POST", "OPTIONS")
	s.router.HandleFunc("/api/sync/status", s.handleSyncStatus).Methods("GET", "OPTIONS")

	if s.deps.Socket != nil {
		s.router.Handle("/ws", s.deps.Socket).Methods("GET")
	}
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve starts serving on ln in the background.
func (s *Server) Serve(ln net.Listener) {
	s.logger.Info().
		Str("addr", ln.Addr().String()).
		Msg("Starting API server")

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()
}

// Stop gracefully stops the API server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping API server")

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	return nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}
