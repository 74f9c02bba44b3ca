package cache

import (
	"context"
	"sort"
	"sync"
)

// MemoryRegistry keeps stores in process memory.
type MemoryRegistry struct {
	mu     sync.RWMutex
	stores map[string]*memoryStore
}

type memoryStore struct {
	name    string
	mu      sync.RWMutex
	items   map[string]*Entry
	deleted bool
}

func NewMemory() *MemoryRegistry {
	return &MemoryRegistry{
		stores: make(map[string]*memoryStore),
	}
}

func (r *MemoryRegistry) Open(ctx context.Context, name string) (Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stores[name]
	if !ok {
		s = &memoryStore{name: name, items: make(map[string]*Entry)}
		r.stores[name] = s
	}
	return s, nil
}

func (r *MemoryRegistry) Has(ctx context.Context, name string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.stores[name]
	return ok, nil
}

func (r *MemoryRegistry) Delete(ctx context.Context, name string) (bool, error) {
	r.mu.Lock()
	s, ok := r.stores[name]
	delete(r.stores, name)
	r.mu.Unlock()
	if !ok {
		return false, nil
	}

	s.mu.Lock()
	s.deleted = true
	s.items = nil
	s.mu.Unlock()
	return true, nil
}

func (r *MemoryRegistry) Names(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.stores))
	for name := range r.stores {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (r *MemoryRegistry) Close() error { return nil }

func (s *memoryStore) Name() string { return s.name }

func (s *memoryStore) Get(ctx context.Context, key string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.items[key]
	if !ok {
		return nil, nil
	}
	return e.Clone(), nil
}

func (s *memoryStore) Put(ctx context.Context, key string, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleted {
		return ErrStoreDeleted
	}
	s.items[key] = entry.Clone()
	return nil
}
