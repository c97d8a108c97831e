package store

import (
	cmap "github.com/orcaman/concurrent-map/v2"
)

// MemoryStore is a process-local Store. It backs tests and ephemeral runs
// where nothing should outlive the agent.
type MemoryStore struct {
	items cmap.ConcurrentMap[string, string]
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: cmap.New[string](),
	}
}

// Get returns the value for key and whether it was present.
func (m *MemoryStore) Get(key string) (string, bool) {
	return m.items.Get(key)
}

// Set stores value under key.
func (m *MemoryStore) Set(key, value string) error {
	m.items.Set(key, value)
	return nil
}
