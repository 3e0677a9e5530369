package cache

import (
	"strings"
	"sync"
	"time"
)

// MemoryStore is the concurrency-safe in-process tier.
type MemoryStore struct {
	mu sync.RWMutex

	// key: cache key, value: stored entry
	data map[string]Entry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]Entry)}
}

// Get returns the stored entry regardless of expiry; callers decide freshness.
func (s *MemoryStore) Get(key string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[key]
	return e, ok
}

// Set stores or replaces an entry.
func (s *MemoryStore) Set(key string, e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = e
}

// Delete removes one key.
func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
}

// DeletePrefix removes every key starting with prefix and reports how many went.
func (s *MemoryStore) DeletePrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			delete(s.data, k)
			n++
		}
	}
	return n
}

// Sweep drops entries that expired at or before now.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, e := range s.data {
		if e.Expired(now) {
			delete(s.data, k)
			n++
		}
	}
	return n
}

// Len reports the number of stored entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.data)
}
