// SPDX-License-Identifier: MIT

package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	xlog "github.com/onair-live/onair/internal/log"
)

// Config tunes the monitor registry.
type Config struct {
	// Scene is the compositor scene the monitored sources live in.
	Scene string
	// PollInterval is the sampling period, clamped to [100ms, 10s].
	// Default 1s.
	PollInterval time.Duration
	// DataDir receives the hourly CSV and report files.
	DataDir string
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.PollInterval == 0 {
		out.PollInterval = time.Second
	}
	if out.PollInterval < 100*time.Millisecond {
		out.PollInterval = 100 * time.Millisecond
	}
	if out.PollInterval > 10*time.Second {
		out.PollInterval = 10 * time.Second
	}
	return out
}

// Registry owns one monitor per active source and the shared hourly sink.
type Registry struct {
	cfg    Config
	reader Reader
	sink   *hourlyWriter
	logger zerolog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	monitors map[string]*Monitor
}

// NewRegistry creates the registry. The reader is typically the compositor
// client; its read RPCs are safe to share with the worker.
func NewRegistry(cfg Config, reader Reader) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		cfg:      cfg.withDefaults(),
		reader:   reader,
		sink:     newHourlyWriter(cfg.DataDir),
		logger:   xlog.WithComponent("monitor"),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		monitors: map[string]*Monitor{},
	}
}

// Activate transitions a source to ACTIVE and starts its sampler. Activating
// an already active source restarts it with the new upstream URL.
func (r *Registry) Activate(source, rtmpURL string) {
	m := newMonitor(source, rtmpURL, r.cfg.Scene, r.cfg.PollInterval, r.reader, r.sink, r.now)

	// Swap under the lock: once it drops, the replaced monitor is
	// unreachable and only this call stops it, so a concurrent Deactivate
	// of the same source cannot stop it a second time.
	r.mu.Lock()
	old := r.monitors[source]
	r.monitors[source] = m
	go m.run(r.ctx)
	r.mu.Unlock()

	if old != nil {
		r.stopMonitor(old)
	}
	r.logger.Info().
		Str("source", source).
		Str(xlog.FieldURL, rtmpURL).
		Msg("health monitoring activated")
}

// Deactivate stops the sampler for a source. Unknown sources are a no-op.
func (r *Registry) Deactivate(source string) {
	r.mu.Lock()
	m, ok := r.monitors[source]
	if ok {
		delete(r.monitors, source)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	r.stopMonitor(m)
	r.logger.Info().Str("source", source).Msg("health monitoring deactivated")
}

func (r *Registry) stopMonitor(m *Monitor) {
	close(m.stop)
	<-m.done
}

// LatestHealth returns the most recent score and categorical status for a
// source, if it has been sampled.
func (r *Registry) LatestHealth(source string) (float64, string, bool) {
	r.mu.Lock()
	m, ok := r.monitors[source]
	r.mu.Unlock()
	if !ok {
		return 0, "", false
	}
	snap, ok := m.Latest()
	if !ok {
		return 0, "", false
	}
	return snap.HealthScore, snap.Status(), true
}

// Snapshots returns the retained ring for a source, oldest first.
func (r *Registry) Snapshots(source string) []Snapshot {
	r.mu.Lock()
	m, ok := r.monitors[source]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return m.Snapshots()
}

// Active lists the sources currently being sampled.
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.monitors))
	for s := range r.monitors {
		out = append(out, s)
	}
	return out
}

// Shutdown stops every sampler and closes the hourly sink.
func (r *Registry) Shutdown() {
	r.cancel()
	r.mu.Lock()
	monitors := make([]*Monitor, 0, len(r.monitors))
	for _, m := range r.monitors {
		monitors = append(monitors, m)
	}
	r.monitors = map[string]*Monitor{}
	r.mu.Unlock()

	for _, m := range monitors {
		<-m.done
	}
	r.sink.Close()
}
