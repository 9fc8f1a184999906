package attachment

import (
	"context"
	"sync"
)

// MemStore is a Store backed by a map, for development and tests.
type MemStore struct {
	mu      sync.RWMutex
	objects map[string]Object
}

func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[string]Object)}
}

func (m *MemStore) Put(storageID string, obj Object) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[storageID] = obj
}

func (m *MemStore) Stat(_ context.Context, storageID string) (*Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[storageID]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return &obj, nil
}
