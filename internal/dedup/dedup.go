package dedup

import (
	"sync"
)

// Set keeps track of message IDs already returned during this process.
// Nothing is persisted; a new process starts with an empty set.
type Set struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewSet returns an empty seen-set.
func NewSet() *Set {
	return &Set{ids: make(map[string]struct{})}
}

// Seen reports whether id has been marked.
func (s *Set) Seen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// MarkSeen adds id to the set.
func (s *Set) MarkSeen(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id] = struct{}{}
}

// Count returns the number of tracked IDs.
func (s *Set) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// Reset forgets every tracked ID.
func (s *Set) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = make(map[string]struct{})
}
