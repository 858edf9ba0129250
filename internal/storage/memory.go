package storage

import (
	"context"
	"sync"
)

// Memory is an in-process Store for tests and single-node deployments
// that can afford to lose the game list on restart.
type Memory struct {
	mu sync.RWMutex
	m  map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{m: make(map[string][]byte)}
}

// Get returns a copy of the value stored under key.
func (s *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.m[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

// Put stores a copy of value under key.
func (s *Memory) Put(_ context.Context, key string, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)

	s.mu.Lock()
	s.m[key] = cp
	s.mu.Unlock()
	return nil
}
