package linkage

import (
	"context"
	"sync"
	"time"
)

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore implements Store in memory. It backs tests and development
// runs; production deployments use the SQLite store.
type MemoryStore struct {
	mu       sync.RWMutex
	byUser   map[int64]*Linkage
	byRoblox map[int64]int64 // robloxID -> requesterID
}

// NewMemoryStore creates a new in-memory linkage store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byUser:   make(map[int64]*Linkage, 100),
		byRoblox: make(map[int64]int64, 100),
	}
}

// GetByRequester retrieves the linkage for a Discord user.
func (m *MemoryStore) GetByRequester(_ context.Context, requesterID int64) (*Linkage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	link, ok := m.byUser[requesterID]
	if !ok {
		return nil, ErrNotFound
	}

	cp := *link

	return &cp, nil
}

// GetByRoblox retrieves the linkage for a Roblox user.
func (m *MemoryStore) GetByRoblox(_ context.Context, robloxID int64) (*Linkage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	requesterID, ok := m.byRoblox[robloxID]
	if !ok {
		return nil, ErrNotFound
	}

	link, ok := m.byUser[requesterID]
	if !ok {
		return nil, ErrNotFound
	}

	cp := *link

	return &cp, nil
}

// Upsert creates or replaces the linkage keyed on RequesterID.
func (m *MemoryStore) Upsert(_ context.Context, link *Linkage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if link.LinkedAt.IsZero() {
		link.LinkedAt = time.Now().UTC()
	}

	// Drop the stale reverse index entry when re-linking to a new account.
	if old, ok := m.byUser[link.RequesterID]; ok {
		delete(m.byRoblox, old.RobloxID)
	}

	cp := *link
	m.byUser[link.RequesterID] = &cp
	m.byRoblox[link.RobloxID] = link.RequesterID

	return nil
}

// Delete removes the linkage for a Discord user.
func (m *MemoryStore) Delete(_ context.Context, requesterID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	link, ok := m.byUser[requesterID]
	if !ok {
		return ErrNotFound
	}

	delete(m.byRoblox, link.RobloxID)
	delete(m.byUser, requesterID)

	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}
