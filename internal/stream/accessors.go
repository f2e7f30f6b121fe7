// SPDX-License-Identifier: MIT

package stream

import "time"

// State is an atomic read of the decision-relevant scalars.
type State struct {
	LeadKey     string
	LastKicked  string
	Blocking    bool
	PriorityKey string
}

// StateLocked reads the decision scalars; caller holds the authority lock.
func (m *Manager) StateLocked() State {
	return State{
		LeadKey:     m.q.LeadKeyLocked(),
		LastKicked:  m.lastKicked,
		Blocking:    m.blocking,
		PriorityKey: m.priorityKey,
	}
}

// State reads the decision scalars atomically.
func (m *Manager) State() State {
	m.q.Lock()
	defer m.q.Unlock()
	return m.StateLocked()
}

// ClearLastKickedLocked forgets the last kicked key; caller holds the lock.
func (m *Manager) ClearLastKickedLocked() { m.lastKicked = "" }

// LastKicked returns the stream key most recently ended by the orchestrator.
func (m *Manager) LastKicked() string {
	m.q.Lock()
	defer m.q.Unlock()
	return m.lastKicked
}

// PriorityKeyLocked reads the priority key; caller holds the lock.
func (m *Manager) PriorityKeyLocked() string { return m.priorityKey }

// ClearPriorityLocked drops the priority exemption; caller holds the lock.
func (m *Manager) ClearPriorityLocked() { m.priorityKey = "" }

// PriorityKey returns the key exempted from re-queueing during a switch.
func (m *Manager) PriorityKey() string {
	m.q.Lock()
	defer m.q.Unlock()
	return m.priorityKey
}

// Blocking reports whether the last-kicked streamer is barred from rejoining
// an empty queue.
func (m *Manager) Blocking() bool {
	m.q.Lock()
	defer m.q.Unlock()
	return m.blocking
}

// SetBlocking sets the blocking flag.
func (m *Manager) SetBlocking(v bool) {
	m.q.Lock()
	defer m.q.Unlock()
	m.blocking = v
}

// ToggleBlocking flips the blocking flag and returns the new value.
func (m *Manager) ToggleBlocking() bool {
	m.q.Lock()
	defer m.q.Unlock()
	m.blocking = !m.blocking
	return m.blocking
}

// SwapRemaining returns the time left on the current lead's swap clock, or
// zero when nobody is live.
func (m *Manager) SwapRemaining() time.Duration {
	m.q.Lock()
	defer m.q.Unlock()
	if m.timer == nil {
		return 0
	}
	return m.timer.Remaining()
}

// ModifySwapInterval changes the swap interval for the current lead (if any)
// and for every later stream. resetTime restarts the running clock.
func (m *Manager) ModifySwapInterval(interval time.Duration, resetTime bool) error {
	m.q.Lock()
	defer m.q.Unlock()
	if m.timer != nil {
		if err := m.timer.Modify(interval, resetTime); err != nil {
			return err
		}
	} else if interval <= 0 {
		return errInvalidInterval(interval)
	}
	m.cfg.SwapInterval = interval
	return nil
}
