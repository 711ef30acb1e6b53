package tokenstore

import (
	"context"
	"sync"
)

var _ Backend = (*MemoryBackend)(nil)

// MemoryBackend keeps tokens for the life of the process.
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		values: make(map[string]string),
	}
}

func (m *MemoryBackend) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.values[key]
	return value, ok, nil
}

func (m *MemoryBackend) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = value
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values, key) // Already doesn't exist, no error
	return nil
}
