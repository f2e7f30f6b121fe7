// SPDX-License-Identifier: MIT

package users

import (
	"context"
	"sync"
)

// MemoryProvider is an in-memory Provider for tests and local development.
type MemoryProvider struct {
	mu    sync.RWMutex
	byKey map[string]*User
	byID  map[int64]*User
}

// NewMemoryProvider builds a provider holding the given records.
func NewMemoryProvider(records ...User) *MemoryProvider {
	p := &MemoryProvider{
		byKey: make(map[string]*User, len(records)),
		byID:  make(map[int64]*User, len(records)),
	}
	for i := range records {
		u := records[i]
		p.byKey[u.StreamKey] = &u
		p.byID[u.ID] = &u
	}
	return p
}

// Add registers a record after construction.
func (p *MemoryProvider) Add(u User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byKey[u.StreamKey] = &u
	p.byID[u.ID] = &u
}

// ByStreamKey implements Provider.
func (p *MemoryProvider) ByStreamKey(_ context.Context, key string) (*User, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if u, ok := p.byKey[key]; ok {
		c := *u
		return &c, nil
	}
	return nil, ErrNotFound
}

// ByID implements Provider.
func (p *MemoryProvider) ByID(_ context.Context, id int64) (*User, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if u, ok := p.byID[id]; ok {
		c := *u
		return &c, nil
	}
	return nil, ErrNotFound
}
