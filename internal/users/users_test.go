// SPDX-License-Identifier: MIT

package users

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"dj_alpha", true},
		{"DJ-42", true},
		{"abc123", true},
		{"", false},
		{"has space", false},
		{"semi;colon", false},
		{"../etc/passwd", false},
		{"key\n", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidKey(tt.key), "key=%q", tt.key)
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "users.db"), DefaultSQLiteConfig())
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()

	require.NoError(t, store.Upsert(ctx, User{ID: 7, StreamKey: "dj_seven", DisplayName: "Seven", Timezone: "Europe/Vienna"}))

	byKey, err := store.ByStreamKey(ctx, "dj_seven")
	require.NoError(t, err)
	assert.Equal(t, int64(7), byKey.ID)
	assert.Equal(t, "Seven", byKey.DisplayName)

	byID, err := store.ByID(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "dj_seven", byID.StreamKey)

	_, err = store.ByStreamKey(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	// Upsert replaces in place.
	require.NoError(t, store.Upsert(ctx, User{ID: 7, StreamKey: "dj_seven", DisplayName: "Renamed", Timezone: "UTC"}))
	again, err := store.ByID(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", again.DisplayName)
}

func TestMemoryProvider(t *testing.T) {
	p := NewMemoryProvider(User{ID: 1, StreamKey: "a"})
	p.Add(User{ID: 2, StreamKey: "b"})

	u, err := p.ByStreamKey(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, int64(2), u.ID)

	_, err = p.ByID(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
}
