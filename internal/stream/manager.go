// SPDX-License-Identifier: MIT

// Package stream holds the switch state machine that decides who is on air.
//
// All scalar state (lead view, last-kicked, blocking, priority key, swap
// timer) is guarded by the queue's authority lock, so read-then-write
// sequences spanning queue and manager state are atomic. Go's mutexes are
// not reentrant, so every operation comes in a public self-locking form and
// an exported *Locked form for callers already holding the lock.
package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/onair-live/onair/internal/config"
	xlog "github.com/onair-live/onair/internal/log"
	"github.com/onair-live/onair/internal/metrics"
	"github.com/onair-live/onair/internal/queue"
	"github.com/onair-live/onair/internal/users"
	"github.com/onair-live/onair/internal/worker"
)

// JobQueue is the producer side of the sequencing worker.
type JobQueue interface {
	Enqueue(t worker.Type, payload map[string]any)
}

// HealthMonitor activates and deactivates per-source health sampling.
type HealthMonitor interface {
	Activate(source, rtmpURL string)
	Deactivate(source string)
}

// Config carries the manager's tunables and compositor vocabulary.
type Config struct {
	// SwapInterval is the maximum time a lead stays live. Default 12000s.
	SwapInterval time.Duration
	// PriorityTimeout clears a priority key whose owner never reconnected.
	// Default 30s.
	PriorityTimeout time.Duration
	// TickInterval is the swap-expiry polling period. Default 3s.
	TickInterval time.Duration
	// Scene, StreamSource and LoadingSource name the compositor objects the
	// startup and teardown job sequences address.
	Scene         string
	StreamSource  string
	LoadingSource string
	// IngestRTMPBase is the upstream URL prefix, e.g. "rtmp://ingest:1935/live".
	IngestRTMPBase string
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.SwapInterval <= 0 {
		out.SwapInterval = config.DefaultSwapInterval
	}
	if out.PriorityTimeout <= 0 {
		out.PriorityTimeout = 30 * time.Second
	}
	if out.TickInterval <= 0 {
		out.TickInterval = 3 * time.Second
	}
	return out
}

// Manager is the state-machine authority over the on-air transition.
type Manager struct {
	cfg     Config
	q       *queue.Queue
	jobs    JobQueue
	monitor HealthMonitor
	logger  zerolog.Logger
	now     func() time.Time

	// switchMu serializes SwitchStream; concurrent attempts fall through.
	switchMu sync.Mutex

	// Guarded by the queue's authority lock.
	lastKicked    string
	blocking      bool
	priorityKey   string
	prioritySetAt time.Time
	timer         *Timer
	idleHidden    bool
}

// NewManager wires the state machine to the queue it shares a lock with.
// monitor may be nil.
func NewManager(cfg Config, q *queue.Queue, jobs JobQueue, monitor HealthMonitor) *Manager {
	return &Manager{
		cfg:     cfg.withDefaults(),
		q:       q,
		jobs:    jobs,
		monitor: monitor,
		logger:  xlog.WithComponent("stream"),
		now:     time.Now,
	}
}

// RTMPURL builds the upstream URL for a stream key.
func (m *Manager) RTMPURL(key string) string {
	return fmt.Sprintf("%s/%s", m.cfg.IngestRTMPBase, key)
}

// StartStream arms the swap timer for the new lead and enqueues the startup
// job sequence.
func (m *Manager) StartStream(u *users.User) {
	m.q.Lock()
	defer m.q.Unlock()
	m.StartStreamLocked(u)
}

// StartStreamLocked is StartStream for callers holding the authority lock.
func (m *Manager) StartStreamLocked(u *users.User) {
	m.timer = NewTimer(m.cfg.SwapInterval, m.now)
	m.idleHidden = false

	rtmpURL := m.RTMPURL(u.StreamKey)
	m.jobs.Enqueue(worker.TypeStartStream, map[string]any{
		worker.KeyStreamKey:   u.StreamKey,
		worker.KeyDisplayName: u.DisplayName,
		worker.KeyRTMPURL:     rtmpURL,
	})
	if m.monitor != nil {
		m.monitor.Activate(m.cfg.StreamSource, rtmpURL)
	}

	m.logger.Info().
		Str(xlog.FieldStreamKey, u.StreamKey).
		Int64(xlog.FieldUserID, u.ID).
		Dur("swap_interval", m.cfg.SwapInterval).
		Msg("stream started")
}

// SwitchStream ends the current lead and promotes the next queued streamer.
// The switch mutex is try-acquired: a concurrent attempt (timer tick racing
// an unpublish of the lead) returns immediately without re-executing the
// switch. Lock order is switch mutex first, authority lock second.
func (m *Manager) SwitchStream(trigger string) {
	m.switchFrom("", trigger)
}

// SwitchIfLead switches only when key is still the lead at execution time.
// Callers that decided to switch while holding the authority lock must
// release it first (lock order), and the lead can change in that window.
func (m *Manager) SwitchIfLead(key, trigger string) {
	m.switchFrom(key, trigger)
}

func (m *Manager) switchFrom(expect, trigger string) {
	if !m.switchMu.TryLock() {
		m.logger.Debug().Str("trigger", trigger).Msg("switch already in progress")
		return
	}
	defer m.switchMu.Unlock()

	m.q.Lock()
	defer m.q.Unlock()

	if expect != "" && m.q.LeadKeyLocked() != expect {
		return
	}
	old := m.q.DequeueHeadLocked()
	if old == nil {
		return
	}

	// Teardown of the outgoing streamer, in causal order.
	m.jobs.Enqueue(worker.TypeStopRecording, map[string]any{
		worker.KeyStreamKey: old.StreamKey,
	})
	m.jobs.Enqueue(worker.TypeSendNotification, map[string]any{
		worker.KeyMessage: fmt.Sprintf("%s is done. Who's next?", displayName(old)),
	})
	m.jobs.Enqueue(worker.TypeKickPublisher, map[string]any{
		worker.KeyStreamKey: old.StreamKey,
	})
	m.jobs.Enqueue(worker.TypeToggleSource, map[string]any{
		worker.KeyScene:   m.cfg.Scene,
		worker.KeySource:  m.cfg.StreamSource,
		worker.KeyOnlyOff: true,
	})
	m.jobs.Enqueue(worker.TypeFlashLoading, nil)

	m.timer = nil
	m.lastKicked = old.StreamKey
	if m.monitor != nil {
		m.monitor.Deactivate(m.cfg.StreamSource)
	}

	if nxt := m.q.PeekHeadLocked(); nxt != nil {
		m.StartStreamLocked(nxt)
		m.priorityKey = nxt.StreamKey
		m.prioritySetAt = m.now()
		// Kick the new lead too: the ingest server drops and the publisher
		// reconnects, which re-triggers the forward decision.
		m.jobs.Enqueue(worker.TypeKickPublisher, map[string]any{
			worker.KeyStreamKey: nxt.StreamKey,
		})
	} else {
		m.priorityKey = ""
		m.idleHidden = true
	}

	metrics.IncSwitch(trigger)
	m.logger.Info().
		Str("trigger", trigger).
		Str("old_key", old.StreamKey).
		Str(xlog.FieldLeadKey, m.q.LeadKeyLocked()).
		Msg("stream switched")
}

// ProcessTick fires the swap on timer expiry, clears stale priority keys and
// hides the stream source once per idle period.
func (m *Manager) ProcessTick() {
	m.q.Lock()
	elapsed := m.timer != nil && m.timer.HasElapsed()

	if m.priorityKey != "" && m.now().Sub(m.prioritySetAt) > m.cfg.PriorityTimeout {
		m.logger.Warn().
			Str("priority_key", m.priorityKey).
			Dur("timeout", m.cfg.PriorityTimeout).
			Msg("priority publisher never reconnected, clearing")
		m.priorityKey = ""
	}

	if m.q.LeadKeyLocked() == "" && m.timer == nil && !m.idleHidden {
		m.jobs.Enqueue(worker.TypeToggleSource, map[string]any{
			worker.KeyScene:   m.cfg.Scene,
			worker.KeySource:  m.cfg.StreamSource,
			worker.KeyOnlyOff: true,
		})
		m.idleHidden = true
	}
	m.q.Unlock()

	if elapsed {
		m.SwitchStream("timer")
	}
}

// Run drives ProcessTick until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.ProcessTick()
		}
	}
}

func displayName(u *users.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.StreamKey
}
