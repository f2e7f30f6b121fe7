// SPDX-License-Identifier: MIT

// Package health provides liveness and readiness probes. The compositor
// link is a degraded-not-dead check: the orchestrator keeps accepting
// hook calls while the compositor reconnects.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	xlog "github.com/onair-live/onair/internal/log"
)

// Status is the overall health or readiness status.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of one component check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// ReadinessResponse is the readiness payload.
type ReadinessResponse struct {
	Ready     bool                   `json:"ready"`
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker is one named component check.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Manager aggregates component checkers into probe responses.
type Manager struct {
	version  string
	checkers []Checker
}

func NewManager(version string) *Manager {
	return &Manager{version: version}
}

// RegisterChecker adds a component check. Not safe after serving starts.
func (m *Manager) RegisterChecker(c Checker) {
	m.checkers = append(m.checkers, c)
}

func (m *Manager) runChecks(ctx context.Context) (map[string]CheckResult, Status, bool) {
	if len(m.checkers) == 0 {
		return nil, StatusHealthy, true
	}
	checks := make(map[string]CheckResult, len(m.checkers))
	status := StatusHealthy
	ready := true
	for _, c := range m.checkers {
		result := c.Check(ctx)
		checks[c.Name()] = result
		switch result.Status {
		case StatusUnhealthy:
			status = StatusUnhealthy
			ready = false
		case StatusDegraded:
			if status == StatusHealthy {
				status = StatusDegraded
			}
		}
	}
	return checks, status, ready
}

// Health is the liveness probe: the process is alive, component state only
// shows up in the verbose payload.
func (m *Manager) Health(ctx context.Context, verbose bool) HealthResponse {
	resp := HealthResponse{
		Status:    StatusHealthy,
		Version:   m.version,
		Timestamp: time.Now(),
	}
	if verbose {
		checks, status, _ := m.runChecks(ctx)
		resp.Checks = checks
		resp.Status = status
	}
	return resp
}

// Ready is the readiness probe; an unhealthy component makes it fail.
func (m *Manager) Ready(ctx context.Context) ReadinessResponse {
	checks, status, ready := m.runChecks(ctx)
	return ReadinessResponse{
		Ready:     ready,
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
	}
}

// ServeHealth handles the liveness endpoint. Always 200.
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	logger := xlog.WithComponentFromContext(r.Context(), "health")
	resp := m.Health(r.Context(), r.URL.Query().Get("verbose") == "true")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Msg("encode health response")
	}
}

// ServeReady handles the readiness endpoint. 503 when not ready.
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	logger := xlog.WithComponentFromContext(r.Context(), "readiness")
	resp := m.Ready(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if resp.Ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Msg("encode readiness response")
	}
}

// CompositorChecker reports the compositor link. A broken link is degraded,
// not unhealthy: hooks keep working and the client reconnects on its own.
type CompositorChecker struct {
	healthy func() bool
}

func NewCompositorChecker(healthy func() bool) *CompositorChecker {
	return &CompositorChecker{healthy: healthy}
}

func (c *CompositorChecker) Name() string { return "compositor" }

func (c *CompositorChecker) Check(context.Context) CheckResult {
	if c.healthy() {
		return CheckResult{Status: StatusHealthy}
	}
	return CheckResult{Status: StatusDegraded, Message: "compositor connection down, reconnecting"}
}

// DataDirChecker verifies the data directory is writable; the queue
// snapshot and the CSVs land there.
type DataDirChecker struct {
	dir string
}

func NewDataDirChecker(dir string) *DataDirChecker {
	return &DataDirChecker{dir: dir}
}

func (c *DataDirChecker) Name() string { return "data_dir" }

func (c *DataDirChecker) Check(context.Context) CheckResult {
	probe := filepath.Join(c.dir, ".health-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	_ = os.Remove(probe)
	return CheckResult{Status: StatusHealthy}
}
