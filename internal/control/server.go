// SPDX-License-Identifier: MIT

// Package control is the synchronous ingress of the orchestrator: the
// ingest server's hook RPC deciding forwarding, plus a small operator API.
// Hook handlers consult queue and stream-manager state under the shared
// authority lock and return quickly; side effects go through the job
// worker. A switch decided under the lock is executed only after the lock
// is released, keeping the switch-mutex-first lock order.
package control

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/onair-live/onair/internal/health"
	xlog "github.com/onair-live/onair/internal/log"
	"github.com/onair-live/onair/internal/monitor"
	"github.com/onair-live/onair/internal/queue"
	"github.com/onair-live/onair/internal/stream"
	"github.com/onair-live/onair/internal/users"
)

// App is the only RTMP application the orchestrator manages. Publishes to
// other apps are allowed but never forwarded.
const App = "live"

// Compositor is the slice of the compositor client the operator API uses.
type Compositor interface {
	ForceReconnect(ctx context.Context) error
}

// Monitors is the slice of the monitor registry the operator API reads.
type Monitors interface {
	Active() []string
	Snapshots(source string) []monitor.Snapshot
}

// Config carries the forwarding targets.
type Config struct {
	// MotherstreamURL is the single downstream output.
	MotherstreamURL string
	// RecordURL, when AlsoRecord is set, is appended as a second forward
	// target so the ingest server tees the stream into the recorder.
	RecordURL  string
	AlsoRecord bool
}

// Server serves the hook RPC and the operator API.
type Server struct {
	cfg        Config
	users      users.Provider
	q          *queue.Queue
	mgr        *stream.Manager
	compositor Compositor
	monitors   Monitors
	healthMgr  *health.Manager
	logger     zerolog.Logger
}

// NewServer wires the control surface. compositor, monitors and healthMgr
// may be nil; the corresponding endpoints then return 404 or 501.
func NewServer(cfg Config, provider users.Provider, q *queue.Queue, mgr *stream.Manager,
	compositor Compositor, monitors Monitors, healthMgr *health.Manager) *Server {
	return &Server{
		cfg:        cfg,
		users:      provider,
		q:          q,
		mgr:        mgr,
		compositor: compositor,
		monitors:   monitors,
		healthMgr:  healthMgr,
		logger:     xlog.WithComponent("control"),
	}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(requestID)

	// Hook RPC: no rate limit, the ingest server is the only caller and a
	// publish storm must not be dropped.
	r.Post("/hook", s.handleHook)

	if s.healthMgr != nil {
		r.Get("/healthz", s.healthMgr.ServeHealth)
		r.Get("/readyz", s.healthMgr.ServeReady)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(httprate.LimitByIP(60, time.Minute))
		r.Get("/queue", s.handleQueue)
		r.Get("/lead", s.handleLead)
		r.Post("/blocking/toggle", s.handleToggleBlocking)
		r.Post("/swap-interval", s.handleSwapInterval)
		r.Get("/health/{source}", s.handleHealthSnapshots)
		r.Post("/compositor/reconnect", s.handleForceReconnect)
	})
	return r
}

// requestID tags every request with a correlation id, honoring an inbound
// X-Request-ID from the ingest server.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(xlog.ContextWithRequestID(r.Context(), id)))
	})
}
