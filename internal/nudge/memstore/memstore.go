// Package memstore provides an in-memory implementation of nudge.Store.
package memstore

import (
	"bytes"
	"context"
	"sync"
)

// Store holds user attributes and site options in memory. Suitable for dev/testing.
type Store struct {
	mu      sync.RWMutex
	attrs   map[string]map[string][]byte // user ID -> key -> value
	options map[string][]byte
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		attrs:   make(map[string]map[string][]byte),
		options: make(map[string][]byte),
	}
}

// GetAttr returns a copy of one user attribute.
func (s *Store) GetAttr(_ context.Context, userID, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.attrs[userID][key]
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(v), true, nil
}

// SetAttrs stores copies of all values under one lock.
func (s *Store) SetAttrs(_ context.Context, userID string, values map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.attrs[userID]
	if !ok {
		m = make(map[string][]byte, len(values))
		s.attrs[userID] = m
	}
	for k, v := range values {
		m[k] = bytes.Clone(v)
	}
	return nil
}

// LoadOrStoreOption keeps the first value written for a key.
func (s *Store) LoadOrStoreOption(_ context.Context, key string, value []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.options[key]; ok {
		return bytes.Clone(v), nil
	}
	s.options[key] = bytes.Clone(value)
	return bytes.Clone(value), nil
}
