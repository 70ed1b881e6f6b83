// Package artifacts is a process-wide content store for oversized tool
// outputs. Agents archive large results here and keep only a preview plus
// the artifact id in their history.
package artifacts

import (
	"sync"

	"github.com/google/uuid"
)

// DefaultSliceLength is the read window used when a caller does not bound
// the retrieval.
const DefaultSliceLength = 4000

// Store maps opaque ids to immutable content. Lifetimes are
// session-bounded; there is no eviction.
type Store struct {
	mu    sync.RWMutex
	blobs map[string]string
}

func NewStore() *Store {
	return &Store{blobs: make(map[string]string)}
}

// Put stores content and returns a fresh id.
func (s *Store) Put(content string) string {
	id := uuid.NewString()
	s.mu.Lock()
	s.blobs[id] = content
	s.mu.Unlock()
	return id
}

// Get returns the [start, start+length) slice of the artifact, clamped to
// the content bounds. Reads past the end return the empty string. The
// second return is false for an unknown id.
func (s *Store) Get(id string, start, length int) (string, bool) {
	s.mu.RLock()
	content, ok := s.blobs[id]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	if start < 0 {
		start = 0
	}
	if start >= len(content) || length <= 0 {
		return "", true
	}
	end := start + length
	if end > len(content) {
		end = len(content)
	}
	return content[start:end], true
}

// Size returns the artifact's total length, or false for an unknown id.
func (s *Store) Size(id string) (int, bool) {
	s.mu.RLock()
	content, ok := s.blobs[id]
	s.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return len(content), true
}

// Len reports the number of stored artifacts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
