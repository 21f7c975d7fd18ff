// ABOUTME: Insertion-ordered set of seen message ids, optionally bounded.
// ABOUTME: Used by conversation stores to drop duplicate deliveries from channel fan-in.

package dedupe

import (
	"container/list"
	"sync"
)

// Set tracks message ids that have already been applied. It is safe for
// concurrent use. A bounded set evicts its oldest id when full, so it only
// suits callers that can tolerate a forgotten id being applied again.
type Set struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List // ids in insertion order (oldest at front)
	maxSize int
}

// New creates an empty set holding at most maxSize ids. A non-positive
// maxSize means no bound.
func New(maxSize int) *Set {
	return &Set{
		seen:    make(map[string]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
	}
}

// Check returns true if id has been seen.
func (s *Set) Check(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.seen[id]
	return ok
}

// CheckAndMark atomically checks if id has been seen and marks it if not.
// Returns true if id was already seen (duplicate), false if it's new and now marked.
func (s *Set) CheckAndMark(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[id]; ok {
		return true
	}
	s.markLocked(id)
	return false
}

// Mark records id as seen.
func (s *Set) Mark(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[id]; ok {
		return
	}
	s.markLocked(id)
}

// Forget removes id so it can be applied again.
func (s *Set) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.seen[id]; ok {
		s.order.Remove(elem)
		delete(s.seen, id)
	}
}

// Len returns the number of ids currently tracked.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// Reset clears the set.
func (s *Set) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seen = make(map[string]*list.Element)
	s.order.Init()
}

// markLocked adds id, evicting the oldest entry at capacity. Must be called with mu held.
func (s *Set) markLocked(id string) {
	if s.maxSize > 0 && len(s.seen) >= s.maxSize {
		front := s.order.Front()
		if front != nil {
			oldest, _ := front.Value.(string)
			s.order.Remove(front)
			delete(s.seen, oldest)
		}
	}
	s.seen[id] = s.order.PushBack(id)
}
