// SPDX-License-Identifier: MIT

// Package users defines the DJ record and the provider that resolves
// stream keys and ids to full records. The orchestrator treats records
// as immutable; account management lives elsewhere.
package users

import (
	"context"
	"errors"
	"regexp"
)

// ErrNotFound is returned when no record matches the lookup.
var ErrNotFound = errors.New("users: not found")

// keyPattern is the only charset accepted for stream keys.
var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// User is an immutable DJ record as seen by the orchestrator.
type User struct {
	ID          int64  `json:"id"`
	StreamKey   string `json:"stream_key"`
	DisplayName string `json:"display_name"`
	Timezone    string `json:"timezone"`
}

// Provider resolves users by stream key or id.
type Provider interface {
	ByStreamKey(ctx context.Context, key string) (*User, error)
	ByID(ctx context.Context, id int64) (*User, error)
}

// ValidKey reports whether key matches the accepted stream-key charset.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}
