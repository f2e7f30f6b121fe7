// SPDX-License-Identifier: MIT

// Package queue implements the FIFO rotation queue of DJ records. The head
// of the queue is the lead, the user currently forwarded downstream.
//
// The queue's mutex doubles as the authority lock shared with the stream
// manager. Callers that need a multi-step atomic sequence take Lock/Unlock
// themselves and use the exported *Locked variants; the plain methods are
// self-locking conveniences.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	xlog "github.com/onair-live/onair/internal/log"
	"github.com/onair-live/onair/internal/metrics"
	"github.com/onair-live/onair/internal/users"
)

// Queue is a persistent FIFO of user records with unique stream keys.
type Queue struct {
	mu       sync.Mutex
	entries  []*users.User
	path     string
	provider users.Provider
	logger   zerolog.Logger
}

// New creates an empty queue persisting to path. The provider translates
// persisted ids back to full records on Load.
func New(path string, provider users.Provider) *Queue {
	return &Queue{
		path:     path,
		provider: provider,
		logger:   xlog.WithComponent("queue"),
	}
}

// Lock acquires the shared authority lock. The stream manager takes it
// around every read-then-write sequence that spans queue and manager state.
func (q *Queue) Lock() { q.mu.Lock() }

// Unlock releases the shared authority lock.
func (q *Queue) Unlock() { q.mu.Unlock() }

// Load replaces the in-memory sequence with the persisted snapshot.
// A missing snapshot file is not an error. Ids that no longer resolve
// through the provider are dropped with a log entry.
func (q *Queue) Load(ctx context.Context) error {
	data, err := os.ReadFile(q.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("queue: read snapshot: %w", err)
	}

	var ids []int64
	if err := json.Unmarshal(data, &ids); err != nil {
		return fmt.Errorf("queue: decode snapshot: %w", err)
	}

	entries := make([]*users.User, 0, len(ids))
	for _, id := range ids {
		u, err := q.provider.ByID(ctx, id)
		if err != nil {
			q.logger.Warn().
				Err(err).
				Int64(xlog.FieldUserID, id).
				Msg("dropping unresolvable user id from snapshot")
			continue
		}
		entries = append(entries, u)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = entries
	metrics.RecordQueueLength(len(q.entries))
	q.logger.Info().
		Int("count", len(entries)).
		Str(xlog.FieldPath, q.path).
		Msg("queue snapshot loaded")
	return nil
}

// AddIfAbsent appends user unless an entry with the same stream key exists.
// It reports whether the insert happened.
func (q *Queue) AddIfAbsent(u *users.User) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.AddIfAbsentLocked(u)
}

// AddIfAbsentLocked is AddIfAbsent for callers already holding the lock.
func (q *Queue) AddIfAbsentLocked(u *users.User) bool {
	for _, e := range q.entries {
		if e.StreamKey == u.StreamKey {
			return false
		}
	}
	q.entries = append(q.entries, u)
	q.persistLocked()
	return true
}

// RemoveByKey removes the entry with the given stream key, if present.
func (q *Queue) RemoveByKey(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.RemoveByKeyLocked(key)
}

// RemoveByKeyLocked is RemoveByKey for callers already holding the lock.
func (q *Queue) RemoveByKeyLocked(key string) {
	for i, e := range q.entries {
		if e.StreamKey == key {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			q.persistLocked()
			return
		}
	}
}

// DequeueHead pops and returns the head, or nil if the queue is empty.
func (q *Queue) DequeueHead() *users.User {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.DequeueHeadLocked()
}

// DequeueHeadLocked is DequeueHead for callers already holding the lock.
func (q *Queue) DequeueHeadLocked() *users.User {
	if len(q.entries) == 0 {
		return nil
	}
	head := q.entries[0]
	q.entries = q.entries[1:]
	q.persistLocked()
	return head
}

// PeekHead returns the head without removing it, or nil.
func (q *Queue) PeekHead() *users.User {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.PeekHeadLocked()
}

// PeekHeadLocked is PeekHead for callers already holding the lock.
func (q *Queue) PeekHeadLocked() *users.User {
	if len(q.entries) == 0 {
		return nil
	}
	return q.entries[0]
}

// LeadKey returns the head's stream key, or "" if the queue is empty.
func (q *Queue) LeadKey() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.LeadKeyLocked()
}

// LeadKeyLocked is LeadKey for callers already holding the lock.
func (q *Queue) LeadKeyLocked() string {
	if len(q.entries) == 0 {
		return ""
	}
	return q.entries[0].StreamKey
}

// LeadInfo returns the lead key, the lead record and the queue length as
// one atomic read.
func (q *Queue) LeadInfo() (string, *users.User, int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.LeadInfoLocked()
}

// LeadInfoLocked is LeadInfo for callers already holding the lock.
func (q *Queue) LeadInfoLocked() (string, *users.User, int) {
	if len(q.entries) == 0 {
		return "", nil, 0
	}
	return q.entries[0].StreamKey, q.entries[0], len(q.entries)
}

// SnapshotKeys returns the ordered stream keys.
func (q *Queue) SnapshotKeys() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	keys := make([]string, len(q.entries))
	for i, e := range q.entries {
		keys[i] = e.StreamKey
	}
	return keys
}

// SnapshotNames returns the ordered display names.
func (q *Queue) SnapshotNames() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	names := make([]string, len(q.entries))
	for i, e := range q.entries {
		names[i] = e.DisplayName
	}
	return names
}

// Len returns the current queue length.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// persistLocked writes the ordered id list with a replace-on-rename pattern.
// Write failures are logged and do not roll back the in-memory mutation.
func (q *Queue) persistLocked() {
	metrics.RecordQueueLength(len(q.entries))

	ids := make([]int64, len(q.entries))
	for i, e := range q.entries {
		ids[i] = e.ID
	}
	data, err := json.Marshal(ids)
	if err != nil {
		metrics.SnapshotPersistFailures.Inc()
		q.logger.Error().Err(err).Msg("encode queue snapshot")
		return
	}
	if err := renameio.WriteFile(q.path, data, 0o644); err != nil {
		metrics.SnapshotPersistFailures.Inc()
		q.logger.Error().
			Err(err).
			Str(xlog.FieldPath, q.path).
			Msg("persist queue snapshot")
	}
}
