package cache

import (
	"context"
	"sync"
)

// MemoryBackend keeps the record in process memory.
type MemoryBackend struct {
	mu   sync.RWMutex
	data []byte
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// Get returns a copy of the stored record.
func (b *MemoryBackend) Get(_ context.Context) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.data == nil {
		return nil, ErrNotFound
	}
	return append([]byte(nil), b.data...), nil
}

// Set replaces the stored record.
func (b *MemoryBackend) Set(_ context.Context, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append([]byte(nil), data...)
	return nil
}

// Delete clears the stored record.
func (b *MemoryBackend) Delete(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = nil
	return nil
}

// Exists reports whether a record is stored.
func (b *MemoryBackend) Exists(_ context.Context) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.data != nil, nil
}
