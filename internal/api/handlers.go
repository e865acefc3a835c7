package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/goodtune/skilltrack/internal/activity"
	"github.com/goodtune/skilltrack/internal/reconcile"
	"github.com/goodtune/skilltrack/internal/report"
)

const maxBodyBytes = 4096

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.deps.Tracker.Snapshot(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
	})
}

// handleToday returns the live counters.
func (s *Server) handleToday(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Tracker.Snapshot()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Snapshot unavailable")
		writeError(w, http.StatusServiceUnavailable, "Tracker is not running")
		return
	}
	writeJSON(w, http.StatusOK, newTodayResponse(snap))
}

// handleInteraction records one input event.
func (s *Server) handleInteraction(w http.ResponseWriter, r *http.Request) {
	var req InteractionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	kind, err := activity.ParseKind(req.Event)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.deps.Tracker.RecordInteraction(kind); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Tracker is not running")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleVideo records the player state.
func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	var req VideoRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var playing bool
	switch {
	case req.IsPlaying != nil:
		playing = *req.IsPlaying
	case req.Paused != nil:
		playing = activity.IsPlaying(*req.Paused, req.Ended, req.ReadyState)
	default:
		writeError(w, http.StatusBadRequest, "isPlaying or paused is required")
		return
	}

	if err := s.deps.Tracker.SetVideoPlaying(playing); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Tracker is not running")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetOverlay(w http.ResponseWriter, r *http.Request) {
	show, err := s.deps.Overlay.Visible(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read overlay visibility")
		writeError(w, http.StatusInternalServerError, "Failed to read overlay visibility")
		return
	}
	writeJSON(w, http.StatusOK, OverlayState{Show: show})
}

func (s *Server) handleSetOverlay(w http.ResponseWriter, r *http.Request) {
	var req OverlayState
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.deps.Overlay.SetVisible(r.Context(), req.Show); err != nil {
		s.logger.Error().Err(err).Msg("Failed to store overlay visibility")
		writeError(w, http.StatusInternalServerError, "Failed to store overlay visibility")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// handleHistory returns the calendar summary of one month, the current one
// by default.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	month := s.now().In(s.config.Location)
	if value := r.URL.Query().Get("month"); value != "" {
		parsed, err := report.ParseMonth(value)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		month = parsed
	}

	dataset, err := s.deps.History.Month(r.Context(), month)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load history")
		writeError(w, http.StatusInternalServerError, "Failed to load history")
		return
	}
	writeJSON(w, http.StatusOK, report.Summarize(month, dataset))
}

// handleExport streams every stored day as CSV.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	dataset, err := s.deps.History.All(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load history")
		writeError(w, http.StatusInternalServerError, "Failed to load history")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+report.ExportFileName(s.now())+`"`)
	if err := report.WriteCSV(w, dataset); err != nil {
		s.logger.Error().Err(err).Msg("Failed to write export")
	}
}

// handleSync runs a reconciliation. Requests are interactive unless
// ?interactive=false is given.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sync == nil {
		writeError(w, http.StatusNotFound, "Sync is disabled")
		return
	}

	interactive := r.URL.Query().Get("interactive") != "false"
	result, err := s.deps.Sync.Reconcile(r.Context(), interactive)
	if err != nil {
		if errors.Is(err, reconcile.ErrLoginRequired) {
			writeError(w, http.StatusUnauthorized, "Sign-in required")
			return
		}
		s.logger.Warn().Err(err).Bool("interactive", interactive).Msg("Sync failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sync == nil {
		writeJSON(w, http.StatusOK, reconcile.Status{State: reconcile.StateIdle})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Sync.Status(r.Context()))
}
