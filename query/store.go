package query

import (
	"sort"
	"sync"
)

// Store holds cached values by canonical key.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Lifecycle: entries never expire; they live until Delete.
// - Errors: Get returns (nil, false) on miss; Delete is idempotent.
type Store interface {
	Get(key string) (any, bool)
	Set(key string, value any)
	Delete(key string) bool
	Len() int
	Keys() []string
}

// MemoryStore is an unbounded in-memory Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]any
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]any)}
}

// Get returns the value stored under key.
func (s *MemoryStore) Get(key string) (any, bool) {
	s.mu.RLock()
	v, ok := s.entries[key]
	s.mu.RUnlock()
	return v, ok
}

// Set stores value under key, replacing any previous value.
func (s *MemoryStore) Set(key string, value any) {
	s.mu.Lock()
	s.entries[key] = value
	s.mu.Unlock()
}

// Delete removes key and reports whether it was present.
func (s *MemoryStore) Delete(key string) bool {
	s.mu.Lock()
	_, ok := s.entries[key]
	delete(s.entries, key)
	s.mu.Unlock()
	return ok
}

// Len returns the number of entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Keys returns the stored keys in sorted order.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

var _ Store = (*MemoryStore)(nil)
