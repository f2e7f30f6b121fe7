// SPDX-License-Identifier: MIT

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onair-live/onair/internal/users"
)

func testUser(id int64) *users.User {
	return &users.User{ID: id, StreamKey: fmt.Sprintf("dj_%d", id), DisplayName: fmt.Sprintf("DJ %d", id)}
}

func newTestQueue(t *testing.T, provider users.Provider) (*Queue, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "QUEUE.json")
	if provider == nil {
		provider = users.NewMemoryProvider()
	}
	return New(path, provider), path
}

func TestAddIfAbsentRejectsDuplicateKey(t *testing.T) {
	q, _ := newTestQueue(t, nil)

	assert.True(t, q.AddIfAbsent(testUser(1)))
	assert.False(t, q.AddIfAbsent(testUser(1)))
	assert.True(t, q.AddIfAbsent(testUser(2)))
	assert.Equal(t, []string{"dj_1", "dj_2"}, q.SnapshotKeys())
}

func TestRemoveByKeyIsIdempotent(t *testing.T) {
	q, _ := newTestQueue(t, nil)
	q.AddIfAbsent(testUser(1))
	q.AddIfAbsent(testUser(2))

	q.RemoveByKey("dj_1")
	q.RemoveByKey("dj_1") // no-op
	q.RemoveByKey("never_there")

	assert.Equal(t, []string{"dj_2"}, q.SnapshotKeys())
}

func TestDequeueAndPeek(t *testing.T) {
	q, _ := newTestQueue(t, nil)

	assert.Nil(t, q.DequeueHead())
	assert.Nil(t, q.PeekHead())
	assert.Empty(t, q.LeadKey())

	q.AddIfAbsent(testUser(1))
	q.AddIfAbsent(testUser(2))

	assert.Equal(t, "dj_1", q.PeekHead().StreamKey)
	key, lead, n := q.LeadInfo()
	assert.Equal(t, "dj_1", key)
	assert.Equal(t, int64(1), lead.ID)
	assert.Equal(t, 2, n)

	assert.Equal(t, int64(1), q.DequeueHead().ID)
	assert.Equal(t, "dj_2", q.LeadKey())
	assert.Equal(t, int64(2), q.DequeueHead().ID)
	assert.Nil(t, q.DequeueHead())
}

// Uniqueness must hold under concurrent publishes of the same key.
func TestConcurrentAddSameKey(t *testing.T) {
	q, _ := newTestQueue(t, nil)

	var wg sync.WaitGroup
	inserted := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inserted <- q.AddIfAbsent(testUser(42))
		}()
	}
	wg.Wait()
	close(inserted)

	wins := 0
	for ok := range inserted {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, q.Len())
}

func TestSnapshotRoundTrip(t *testing.T) {
	provider := users.NewMemoryProvider(*testUser(1), *testUser(2), *testUser(3))
	q, path := newTestQueue(t, provider)

	q.AddIfAbsent(testUser(1))
	q.AddIfAbsent(testUser(2))
	q.AddIfAbsent(testUser(3))
	q.RemoveByKey("dj_2")

	// The on-disk snapshot matches the in-memory sequence after every mutation.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var ids []int64
	require.NoError(t, json.Unmarshal(data, &ids))
	assert.Equal(t, []int64{1, 3}, ids)

	reloaded := New(path, provider)
	require.NoError(t, reloaded.Load(context.Background()))
	assert.Equal(t, q.SnapshotKeys(), reloaded.SnapshotKeys())
}

func TestLoadDropsUnresolvableIDs(t *testing.T) {
	provider := users.NewMemoryProvider(*testUser(1))
	q, path := newTestQueue(t, provider)
	require.NoError(t, os.WriteFile(path, []byte("[1, 999]"), 0o644))

	require.NoError(t, q.Load(context.Background()))
	assert.Equal(t, []string{"dj_1"}, q.SnapshotKeys())
}

func TestLoadMissingFileIsFine(t *testing.T) {
	q, _ := newTestQueue(t, nil)
	require.NoError(t, q.Load(context.Background()))
	assert.Zero(t, q.Len())
}

func TestLoadCorruptSnapshotFails(t *testing.T) {
	q, path := newTestQueue(t, nil)
	require.NoError(t, os.WriteFile(path, []byte("{not json array"), 0o644))
	assert.Error(t, q.Load(context.Background()))
}
