// SPDX-License-Identifier: MIT

package control

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	xlog "github.com/onair-live/onair/internal/log"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type queueEntry struct {
	StreamKey   string `json:"stream_key"`
	DisplayName string `json:"display_name"`
}

// handleQueue lists the rotation, lead first.
func (s *Server) handleQueue(w http.ResponseWriter, _ *http.Request) {
	keys := s.q.SnapshotKeys()
	names := s.q.SnapshotNames()
	entries := make([]queueEntry, len(keys))
	for i, k := range keys {
		entries[i] = queueEntry{StreamKey: k, DisplayName: names[i]}
	}
	writeJSON(w, http.StatusOK, map[string]any{"queue": entries})
}

// handleLead reports who is live and the state machine's scalars.
func (s *Server) handleLead(w http.ResponseWriter, _ *http.Request) {
	st := s.mgr.State()
	writeJSON(w, http.StatusOK, map[string]any{
		"lead_key":          st.LeadKey,
		"last_kicked":       st.LastKicked,
		"blocking":          st.Blocking,
		"priority_key":      st.PriorityKey,
		"remaining_seconds": int(s.mgr.SwapRemaining().Seconds()),
	})
}

func (s *Server) handleToggleBlocking(w http.ResponseWriter, r *http.Request) {
	v := s.mgr.ToggleBlocking()
	logger := xlog.WithComponentFromContext(r.Context(), "control")
	logger.Info().Bool("blocking", v).Msg("blocking toggled")
	writeJSON(w, http.StatusOK, map[string]any{"blocking": v})
}

type swapIntervalRequest struct {
	// Seconds accepts a number of seconds or a Go duration string ("45m").
	Seconds   any  `json:"seconds"`
	ResetTime bool `json:"reset_time"`
}

func (s *Server) handleSwapInterval(w http.ResponseWriter, r *http.Request) {
	var req swapIntervalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	var interval time.Duration
	var err error
	switch v := req.Seconds.(type) {
	case float64:
		interval = time.Duration(v * float64(time.Second))
	case string:
		interval, err = parseInterval(v)
	default:
		err = errors.New("missing interval")
	}
	if err != nil {
		http.Error(w, "invalid interval", http.StatusBadRequest)
		return
	}
	if err := s.mgr.ModifySwapInterval(interval, req.ResetTime); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	logger := xlog.WithComponentFromContext(r.Context(), "control")
	logger.Info().Dur("interval", interval).Bool("reset", req.ResetTime).
		Msg("swap interval modified")
	writeJSON(w, http.StatusOK, map[string]any{
		"interval_seconds":  int(interval.Seconds()),
		"remaining_seconds": int(s.mgr.SwapRemaining().Seconds()),
	})
}

func parseInterval(v string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

// handleHealthSnapshots returns recent health snapshots for a source.
func (s *Server) handleHealthSnapshots(w http.ResponseWriter, r *http.Request) {
	if s.monitors == nil {
		http.NotFound(w, r)
		return
	}
	source := chi.URLParam(r, "source")
	snaps := s.monitors.Snapshots(source)
	if snaps == nil {
		http.NotFound(w, r)
		return
	}
	limit := 60
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if len(snaps) > limit {
		snaps = snaps[len(snaps)-limit:]
	}
	writeJSON(w, http.StatusOK, map[string]any{"source": source, "snapshots": snaps})
}

func (s *Server) handleForceReconnect(w http.ResponseWriter, r *http.Request) {
	if s.compositor == nil {
		http.Error(w, "no compositor configured", http.StatusNotImplemented)
		return
	}
	if err := s.compositor.ForceReconnect(r.Context()); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
