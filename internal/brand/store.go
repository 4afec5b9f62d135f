// Package brand holds the brand voice preamble injected once per new thread.
package brand

import (
	"sync"
)

// Store holds the current brand voice preamble. An empty preamble means no
// system message is injected at thread creation.
type Store struct {
	mu       sync.RWMutex
	preamble string
}

// NewStore creates a brand voice store.
func NewStore(preamble string) *Store {
	return &Store{preamble: preamble}
}

// Preamble returns the current preamble, or "" if unset.
func (s *Store) Preamble() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.preamble
}

// SetPreamble replaces the preamble. Threads created before the change keep
// the system message they were seeded with.
func (s *Store) SetPreamble(preamble string) {
	s.mu.Lock()
	s.preamble = preamble
	s.mu.Unlock()
}
