package storage

import (
	"sort"
	"sync"
)

// KVStore defines the local key/value storage a DHT node serves STORE and
// FIND_VALUE requests from. Keys and values are plain strings.
type KVStore interface {
	// Put stores value under key, replacing any previous value.
	Put(key, value string) error

	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool)

	// Delete removes key. Deleting a missing key is a no-op.
	Delete(key string) error

	// Keys returns all stored keys in sorted order.
	Keys() []string

	// Len returns the number of stored keys.
	Len() int
}

// MemStore is an in-memory KVStore guarded by its own lock.
// Nothing expires and nothing is written to disk.
type MemStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string]string)}
}

// Put stores value under key. Any string is a valid key, including "".
func (s *MemStore) Put(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = value
	return nil
}

// Get returns the value stored under key.
func (s *MemStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[key]
	return v, ok
}

// Delete removes key if it exists.
func (s *MemStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

// Keys returns a sorted snapshot of the stored keys.
func (s *MemStore) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// Len returns the number of stored keys.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.data)
}
