package storage

import (
	"context"
	"sync"

	"listing-geocoder/models"
)

// MemoryCache is a process-local CoordinateCache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]models.Coordinate
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]models.Coordinate)}
}

func (m *MemoryCache) Get(_ context.Context, key string) (*models.Coordinate, bool, error) {
	m.mu.RLock()
	c, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return &c, true, nil
}

func (m *MemoryCache) Put(_ context.Context, key string, c models.Coordinate) error {
	m.mu.Lock()
	m.entries[key] = c
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	_, ok := m.entries[key]
	m.mu.RUnlock()
	return ok, nil
}

func (m *MemoryCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Len returns the number of cached coordinates.
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *MemoryCache) Close() error { return nil }
