package memstore

import (
	"sync"

	"github.com/jrsteele09/go-finance-client/internal/errors"
	"github.com/jrsteele09/go-finance-client/session"
)

var _ session.Storage = (*Store)(nil)

// Store is an in-memory implementation of session.Storage. Contents are lost when
// the process exits.
type Store struct {
	mu     sync.RWMutex
	values map[string]string
}

// New creates an empty in-memory store
func New() *Store {
	return &Store{
		values: make(map[string]string),
	}
}

// Get returns the value stored at key
func (s *Store) Get(key string) (string, error) {
	if key == "" {
		return "", errors.ErrEmptyKey
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	if !ok {
		return "", session.ErrNotFound
	}
	return v, nil
}

// Set writes all entries under a single lock
func (s *Store) Set(entries map[string]string) error {
	for k := range entries {
		if k == "" {
			return errors.ErrEmptyKey
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range entries {
		s.values[k] = v
	}
	return nil
}

// Delete removes keys; missing keys are not an error
func (s *Store) Delete(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.values, k)
	}
	return nil
}

// Len returns the number of stored keys
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}
