package engine

import (
	"fmt"
	"sync"
)

// ValueStore holds the values produced by ephemeral resources for the
// duration of a single operation. Entries are written once and read
// many times; no key is ever overwritten. The store never reaches any
// persisted artifact and Close discards everything unconditionally,
// success or failure.
type ValueStore struct {
	mu     sync.Mutex
	values map[string]map[string]any
	closed bool
}

func NewValueStore() *ValueStore {
	return &ValueStore{
		values: make(map[string]map[string]any),
	}
}

// Put records the values of one ephemeral resource. Writing a key twice
// or writing after Close is an error.
func (s *ValueStore) Put(key string, values map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("ephemeral value store is closed")
	}
	if _, exists := s.values[key]; exists {
		return fmt.Errorf("ephemeral value %s already present", key)
	}
	s.values[key] = values
	return nil
}

// Get returns the values of an opened ephemeral resource.
func (s *ValueStore) Get(key string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false
	}
	v, ok := s.values[key]
	return v, ok
}

// Close tears the store down. Entries are cleared before the map is
// dropped so values do not linger in reachable memory. Safe to call
// more than once; always called via defer so teardown survives errors
// and cancellation.
func (s *ValueStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, values := range s.values {
		for k := range values {
			delete(values, k)
		}
		delete(s.values, key)
	}
	s.closed = true
}
