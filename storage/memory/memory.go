// Package memory implements an in-process session store. Useful for tests
// and single-process deployments where sessions need not survive restarts.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/oasisprotocol/fairdraw/storage"
)

// Store is an in-memory storage.SessionStore.
type Store struct {
	mu      sync.RWMutex
	records map[string]*storage.Snapshot
	closed  bool
}

var _ storage.SessionStore = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{records: map[string]*storage.Snapshot{}}
}

// Load implements storage.SessionStore.
func (s *Store) Load(_ context.Context, id string) (*storage.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}
	r, ok := s.records[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return r.Clone(), nil
}

// Save implements storage.SessionStore.
func (s *Store) Save(_ context.Context, id string, snapshot *storage.Snapshot, expectedVersion uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}
	var current uint64
	if r, ok := s.records[id]; ok {
		current = r.Version
	}
	if err := storage.CheckVersion(id, expectedVersion, current); err != nil {
		return err
	}

	stored := snapshot.Clone()
	stored.Version = expectedVersion + 1
	s.records[id] = stored
	return nil
}

// ListActive implements storage.SessionStore.
func (s *Store) ListActive(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}
	ids := []string{}
	for id, r := range s.records {
		if r.Active {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// List implements storage.SessionStore.
func (s *Store) List(_ context.Context, after string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}
	ids := []string{}
	for id := range s.records {
		if id > after {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// Close implements storage.SessionStore.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
