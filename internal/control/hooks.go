// SPDX-License-Identifier: MIT

package control

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog"

	xlog "github.com/onair-live/onair/internal/log"
	"github.com/onair-live/onair/internal/metrics"
	"github.com/onair-live/onair/internal/users"
)

// hookRequest is the ingest server's per-publisher-event callback body.
type hookRequest struct {
	Action string `json:"action"`
	Stream string `json:"stream"`
	App    string `json:"app"`
	Addr   string `json:"addr"`
	// Param is the publisher's query string ("?token=..."), passed through
	// onto the forward URL.
	Param string `json:"param"`
}

// hookResponse is the decision payload. An empty url list means
// allow-but-do-not-forward.
type hookResponse struct {
	Code int      `json:"code"`
	Data hookData `json:"data"`
}

type hookData struct {
	URLs []string `json:"urls"`
}

const (
	codeOK     = 0
	codeReject = 1
)

func writeHook(w http.ResponseWriter, status, code int, urls []string) {
	if urls == nil {
		urls = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(hookResponse{Code: code, Data: hookData{URLs: urls}})
}

// forwardURLs builds the downstream target list for an accepted lead.
func (s *Server) forwardURLs(param string) []string {
	urls := []string{s.cfg.MotherstreamURL + param}
	if s.cfg.AlsoRecord && s.cfg.RecordURL != "" {
		urls = append(urls, s.cfg.RecordURL+param)
	}
	return urls
}

func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	logger := xlog.WithComponentFromContext(r.Context(), "control")

	// The ingest server treats any non-2xx hook reply as "reject the
	// publish". A panic in the decision procedure must therefore answer
	// allow-but-do-not-forward, never bubble up to a 500.
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error().
				Interface("panic", rec).
				Str("stack", string(debug.Stack())).
				Msg("hook decision panicked, answering do-not-forward")
			writeHook(w, http.StatusOK, codeOK, nil)
		}
	}()

	var req hookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn().Err(err).Msg("malformed hook body")
		http.Error(w, "malformed hook body", http.StatusBadRequest)
		return
	}
	logger = logger.With().
		Str(xlog.FieldAction, req.Action).
		Str(xlog.FieldStreamKey, req.Stream).
		Str("app", req.App).
		Logger()

	switch req.Action {
	case "on_publish":
		s.handlePublish(w, r, &req, logger)
	case "on_unpublish":
		s.handleUnpublish(w, &req, logger)
	case "on_forward":
		s.handleForward(w, &req, logger)
	case "on_record_begin", "on_record_end":
		// Recorder lifecycle notifications; acknowledged, no orchestration.
		logger.Info().Msg("recorder event")
		writeHook(w, http.StatusOK, codeOK, nil)
	default:
		logger.Warn().Msg("unknown hook action")
		http.Error(w, "unknown action", http.StatusBadRequest)
	}
}

// handlePublish runs the admission decision. All state reads and writes
// happen under the authority lock; the lock is released before the
// response is written.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request, req *hookRequest, logger zerolog.Logger) {
	if req.App != App {
		logger.Info().Msg("publish to unmanaged app, not forwarding")
		writeHook(w, http.StatusOK, codeOK, nil)
		return
	}
	if !users.ValidKey(req.Stream) {
		logger.Warn().Msg("invalid stream key")
		metrics.IncForwardDecision("on_publish", "reject")
		writeHook(w, http.StatusUnauthorized, codeReject, nil)
		return
	}
	u, err := s.users.ByStreamKey(r.Context(), req.Stream)
	if err != nil {
		logger.Warn().Err(err).Msg("unknown publisher rejected")
		metrics.IncForwardDecision("on_publish", "reject")
		writeHook(w, http.StatusUnauthorized, codeReject, nil)
		return
	}

	s.q.Lock()
	st := s.mgr.StateLocked()
	var decision string
	switch {
	case st.LeadKey == "":
		if st.Blocking && st.LastKicked == req.Stream {
			s.q.Unlock()
			logger.Info().Msg("blocked publisher rejected")
			metrics.IncForwardDecision("on_publish", "blocked")
			writeHook(w, http.StatusUnauthorized, codeReject, nil)
			return
		}
		s.mgr.ClearLastKickedLocked()
		s.q.AddIfAbsentLocked(u)
		if s.q.LeadKeyLocked() == req.Stream {
			s.mgr.StartStreamLocked(u)
			decision = "forward"
		} else {
			decision = "queued"
		}
	case st.LeadKey == req.Stream:
		// Reconnect of the current lead; queue contents do not change.
		decision = "forward"
	default:
		s.q.AddIfAbsentLocked(u)
		decision = "queued"
	}
	s.q.Unlock()

	metrics.IncForwardDecision("on_publish", decision)
	if decision == "forward" {
		logger.Info().Msg("publisher is lead, forwarding")
		writeHook(w, http.StatusOK, codeOK, s.forwardURLs(req.Param))
		return
	}
	logger.Info().Msg("publisher queued")
	writeHook(w, http.StatusOK, codeOK, nil)
}

// handleUnpublish distinguishes three cases: the expected kick-and-reconnect
// of a priority publisher, the lead ending their stream, and a queued
// publisher leaving. The third arm also covers an old lead whose unpublish
// arrives after the switch already dequeued them: their key is neither lead
// nor priority, and removing it from the queue is a no-op.
func (s *Server) handleUnpublish(w http.ResponseWriter, req *hookRequest, logger zerolog.Logger) {
	if req.App != App {
		writeHook(w, http.StatusOK, codeOK, nil)
		return
	}

	s.q.Lock()
	switch {
	case s.mgr.PriorityKeyLocked() == req.Stream:
		s.mgr.ClearPriorityLocked()
		s.q.Unlock()
		logger.Info().Msg("priority publisher dropped as expected")
	case s.q.LeadKeyLocked() == req.Stream:
		s.q.Unlock()
		logger.Info().Msg("lead unpublished, switching")
		// Outside the lock: switch acquires the switch mutex first. The
		// lead guard makes the race with a concurrent switch harmless.
		s.mgr.SwitchIfLead(req.Stream, "unpublish")
	default:
		s.q.RemoveByKeyLocked(req.Stream)
		s.q.Unlock()
		logger.Info().Msg("queued publisher removed")
	}
	writeHook(w, http.StatusOK, codeOK, nil)
}

// handleForward re-validates forwarding: only the lead at the moment of
// the call is forwarded.
func (s *Server) handleForward(w http.ResponseWriter, req *hookRequest, logger zerolog.Logger) {
	if req.App == App && s.q.LeadKey() == req.Stream {
		metrics.IncForwardDecision("on_forward", "forward")
		writeHook(w, http.StatusOK, codeOK, s.forwardURLs(req.Param))
		return
	}
	metrics.IncForwardDecision("on_forward", "deny")
	logger.Info().Msg("forward denied, not lead")
	writeHook(w, http.StatusOK, codeOK, nil)
}
