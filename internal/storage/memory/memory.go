package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"pkt.systems/bundled/internal/storage"
	"pkt.systems/bundled/internal/uuidv7"
)

// ErrClosed is returned for operations attempted after Close.
var ErrClosed = errors.New("memory: store closed")

// Store implements storage.Store in-memory; intended for tests and local dev.
type Store struct {
	mu        sync.RWMutex
	resources map[string]map[string]*entry // type -> id -> entry
	closed    bool
}

type entry struct {
	res storage.Resource
}

// New returns a ready to use in-memory store.
func New() *Store {
	return &Store{resources: make(map[string]map[string]*entry)}
}

// Close marks the store closed; later operations fail with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// PutResource stores or replaces one resource.
func (s *Store) PutResource(_ context.Context, res storage.Resource) (storage.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.Resource{}, ErrClosed
	}
	stored := s.putLocked(res)
	return stored.Clone(), nil
}

// GetResource returns a copy of the resource stored for type/id.
func (s *Store) GetResource(_ context.Context, resourceType, id string) (storage.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.Resource{}, ErrClosed
	}
	byID, ok := s.resources[resourceType]
	if !ok {
		return storage.Resource{}, storage.ErrNotFound
	}
	ent, ok := byID[id]
	if !ok {
		return storage.Resource{}, storage.ErrNotFound
	}
	return ent.res.Clone(), nil
}

// DeleteResource removes type/id if present.
func (s *Store) DeleteResource(_ context.Context, resourceType, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	byID, ok := s.resources[resourceType]
	if !ok {
		return storage.ErrNotFound
	}
	if _, ok := byID[id]; !ok {
		return storage.ErrNotFound
	}
	delete(byID, id)
	if len(byID) == 0 {
		delete(s.resources, resourceType)
	}
	return nil
}

// ListResourceIDs enumerates ids stored under resourceType in ascending order.
func (s *Store) ListResourceIDs(_ context.Context, resourceType string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	byID := s.resources[resourceType]
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Merge applies the batched write under one lock acquisition, so the in-memory
// backend is atomic for both bundle kinds.
func (s *Store) Merge(_ context.Context, req storage.MergeRequest) (*storage.MergeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	result := &storage.MergeResult{}
	for _, res := range req.Resources {
		stored := s.putLocked(res)
		result.Written++
		result.BytesWritten += int64(len(stored.Body))
	}
	return result, nil
}

// Len reports the number of stored resources across all types.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, byID := range s.resources {
		n += len(byID)
	}
	return n
}

func (s *Store) putLocked(res storage.Resource) storage.Resource {
	stored := res.Clone()
	if stored.ETag == "" {
		stored.ETag = uuidv7.NewString()
	}
	if stored.UpdatedAtUnix == 0 {
		stored.UpdatedAtUnix = time.Now().UTC().Unix()
	}
	byID, ok := s.resources[stored.Type]
	if !ok {
		byID = make(map[string]*entry)
		s.resources[stored.Type] = byID
	}
	byID[stored.ID] = &entry{res: stored}
	return stored
}
