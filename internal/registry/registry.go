// Package registry tracks which connection currently speaks for a user.
// It is the single source of truth for "is this user reachable right now."
package registry

import (
	"context"
	"sync"
)

// Registry maps a username to the id of its live connection. Register
// unconditionally overwrites any existing entry (latest tab wins). Remove
// deletes an entry only when the stored connection id still matches the
// caller's, so a late disconnect of an old connection cannot evict the
// newer one.
type Registry interface {
	Register(ctx context.Context, username, connId string) error
	Lookup(ctx context.Context, username string) (string, bool, error)
	Remove(ctx context.Context, username, connId string) error
	Snapshot(ctx context.Context) (map[string]string, error)
	Close() error
}

// MemoryRegistry is the single-instance implementation. All access is
// behind a mutex since the HTTP layer and the relay loop both touch it.
type MemoryRegistry struct {
	mu      sync.RWMutex
	entries map[string]string
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		entries: make(map[string]string),
	}
}

func (r *MemoryRegistry) Register(_ context.Context, username, connId string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[username] = connId
	return nil
}

func (r *MemoryRegistry) Lookup(_ context.Context, username string) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connId, ok := r.entries[username]
	return connId, ok, nil
}

func (r *MemoryRegistry) Remove(_ context.Context, username, connId string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.entries[username]; ok && cur == connId {
		delete(r.entries, username)
	}
	return nil
}

func (r *MemoryRegistry) Snapshot(_ context.Context) (map[string]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make(map[string]string, len(r.entries))
	for username, connId := range r.entries {
		snapshot[username] = connId
	}
	return snapshot, nil
}

func (r *MemoryRegistry) Close() error {
	return nil
}
