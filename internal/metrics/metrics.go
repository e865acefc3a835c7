package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Accrual metrics
	TrackedSeconds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skilltrack_tracked_seconds_total",
			Help: "Seconds accrued by the tracker",
		},
		[]string{"bucket"},
	)

	TicksDiscarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skilltrack_ticks_discarded_total",
			Help: "Ticks whose delta was not accrued",
		},
		[]string{"reason"},
	)

	FlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skilltrack_flushes_total",
			Help: "Pending buckets written to storage",
		},
		[]string{"result"},
	)

	FlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "skilltrack_flush_duration_seconds",
			Help:    "Flush duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// Interaction signals
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skilltrack_signals_total",
			Help: "Interaction and video signals received",
		},
		[]string{"type"},
	)

	// Reconciliation metrics
	SyncsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skilltrack_syncs_total",
			Help: "Cloud reconciliation attempts",
		},
		[]string{"trigger", "result"},
	)

	SyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "skilltrack_sync_duration_seconds",
			Help:    "Cloud reconciliation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skilltrack_api_requests_total",
			Help: "Total API requests processed",
		},
		[]string{"method", "route", "status"},
	)

	// Bridge metrics
	BridgeClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "skilltrack_bridge_clients",
			Help: "Number of connected websocket clients",
		},
	)

	BridgeDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skilltrack_bridge_dropped_messages_total",
			Help: "Outbound messages dropped for slow clients",
		},
	)

	// History cache metrics
	HistoryCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skilltrack_history_cache_hits_total",
			Help: "History cache hits",
		},
	)

	HistoryCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skilltrack_history_cache_misses_total",
			Help: "History cache misses",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		TrackedSeconds,
		TicksDiscarded,
		FlushesTotal,
		FlushDuration,
		SignalsTotal,
		SyncsTotal,
		SyncDuration,
		RequestsTotal,
		BridgeClients,
		BridgeDropped,
		HistoryCacheHits,
		HistoryCacheMisses,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			// Use systemd socket-activated listener
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			// Create and bind listener ourselves
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
