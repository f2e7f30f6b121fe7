// SPDX-License-Identifier: MIT

// Package daemon owns the process lifecycle: the hook/operator HTTP server,
// the metrics server, and an ordered teardown of everything behind them.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	xlog "github.com/onair-live/onair/internal/log"
)

// ShutdownHook performs one cleanup step during graceful shutdown. Hooks
// run in reverse registration order (LIFO).
type ShutdownHook func(ctx context.Context) error

// ErrManagerNotStarted is returned by Shutdown before Start.
var ErrManagerNotStarted = errors.New("daemon: manager not started")

// ServerConfig tunes the HTTP servers.
type ServerConfig struct {
	ListenAddr      string
	MetricsAddr     string // empty disables the metrics server
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

func (c *ServerConfig) withDefaults() ServerConfig {
	out := *c
	if out.ReadTimeout == 0 {
		out.ReadTimeout = 10 * time.Second
	}
	if out.WriteTimeout == 0 {
		out.WriteTimeout = 30 * time.Second
	}
	if out.IdleTimeout == 0 {
		out.IdleTimeout = 60 * time.Second
	}
	if out.ShutdownTimeout == 0 {
		out.ShutdownTimeout = 15 * time.Second
	}
	return out
}

// Manager starts the servers and tears everything down in order.
type Manager struct {
	cfg            ServerConfig
	apiHandler     http.Handler
	metricsHandler http.Handler

	apiServer     *http.Server
	metricsServer *http.Server

	mu            sync.Mutex
	started       bool
	stopping      bool
	shutdownHooks []namedHook

	logger zerolog.Logger
}

type namedHook struct {
	name string
	hook ShutdownHook
}

func NewManager(cfg ServerConfig, apiHandler, metricsHandler http.Handler) *Manager {
	return &Manager{
		cfg:            cfg.withDefaults(),
		apiHandler:     apiHandler,
		metricsHandler: metricsHandler,
		logger:         xlog.WithComponent("daemon"),
	}
}

// RegisterShutdownHook adds a cleanup step; LIFO on shutdown.
func (m *Manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownHooks = append(m.shutdownHooks, namedHook{name, hook})
}

// Start brings up the servers and blocks until ctx is cancelled or a
// server fails, then shuts everything down.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.New("daemon: manager already started")
	}
	m.started = true
	m.mu.Unlock()

	errChan := make(chan error, 2)

	if m.cfg.MetricsAddr != "" && m.metricsHandler != nil {
		m.metricsServer = &http.Server{
			Addr:              m.cfg.MetricsAddr,
			Handler:           m.metricsHandler,
			ReadHeaderTimeout: m.cfg.ReadTimeout / 2,
		}
		go m.serve("metrics", m.metricsServer, errChan)
	}

	m.apiServer = &http.Server{
		Addr:              m.cfg.ListenAddr,
		Handler:           m.apiHandler,
		ReadTimeout:       m.cfg.ReadTimeout,
		ReadHeaderTimeout: m.cfg.ReadTimeout / 2,
		WriteTimeout:      m.cfg.WriteTimeout,
		IdleTimeout:       m.cfg.IdleTimeout,
	}
	go m.serve("api", m.apiServer, errChan)

	select {
	case err := <-errChan:
		m.logger.Error().Err(err).Msg("server error, initiating shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.ShutdownTimeout)
		defer cancel()
		if shutdownErr := m.Shutdown(shutdownCtx); shutdownErr != nil {
			return errors.Join(err, shutdownErr)
		}
		return err
	case <-ctx.Done():
		m.logger.Info().Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.ShutdownTimeout)
		defer cancel()
		return m.Shutdown(shutdownCtx)
	}
}

func (m *Manager) serve(name string, srv *http.Server, errChan chan<- error) {
	m.logger.Info().Str("addr", srv.Addr).Msgf("%s server listening", name)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errChan <- fmt.Errorf("%s server: %w", name, err)
	}
}

// Shutdown stops the servers, then runs the hooks LIFO. Safe to call once;
// later calls are no-ops.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil
	}
	if !m.started {
		m.mu.Unlock()
		return ErrManagerNotStarted
	}
	m.stopping = true
	hooks := append([]namedHook(nil), m.shutdownHooks...)
	m.mu.Unlock()

	m.logger.Info().Msg("shutting down")

	var errs []error
	for _, srv := range []*http.Server{m.apiServer, m.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("server %s shutdown: %w", srv.Addr, err))
		}
	}

	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		start := time.Now()
		if err := h.hook(ctx); err != nil {
			m.logger.Error().Err(err).Str("hook", h.name).Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", h.name, err))
			continue
		}
		m.logger.Debug().Str("hook", h.name).Dur("duration", time.Since(start)).Msg("shutdown hook completed")
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	m.logger.Info().Msg("stopped cleanly")
	return nil
}
