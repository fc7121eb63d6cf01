// Package memory stores snapshots in-memory for tests and development.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Store keeps snapshots in a map and returns pseudo URIs.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New creates an in-memory capture store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

// Put records the snapshot and returns a memory:// URI.
func (s *Store) Put(_ context.Context, path string, _ string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = append([]byte(nil), data...)
	return fmt.Sprintf("memory://%s", path), nil
}

// Get returns a stored snapshot.
func (s *Store) Get(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[path]
	return data, ok
}

// Len reports how many snapshots are stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
