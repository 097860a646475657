package state

import (
	"context"
	"sync"
)

// MemoryBackend keeps blobs in process memory. State is lost on restart.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]map[Key][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]map[Key][]byte)}
}

func (m *MemoryBackend) Load(_ context.Context, scope string, key Key) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.entries[scope][key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

func (m *MemoryBackend) Save(_ context.Context, scope string, key Key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.entries[scope]
	if !ok {
		bucket = make(map[Key][]byte)
		m.entries[scope] = bucket
	}
	bucket[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, scope string, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries[scope], key)
	if len(m.entries[scope]) == 0 {
		delete(m.entries, scope)
	}
	return nil
}
