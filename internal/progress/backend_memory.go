package progress

import (
	"context"
	"slices"
	"sync"
)

// MemoryBackend is an in-memory implementation of Backend.
type MemoryBackend struct {
	docs map[string][]byte
	mu   sync.RWMutex
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		docs: make(map[string][]byte),
	}
}

func (b *MemoryBackend) Read(_ context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, ok := b.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(data), nil
}

func (b *MemoryBackend) Write(_ context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.docs[key] = slices.Clone(data)
	return nil
}

func (b *MemoryBackend) Update(_ context.Context, key string, fn func([]byte) ([]byte, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	next, err := fn(slices.Clone(b.docs[key]))
	if err != nil {
		return err
	}
	b.docs[key] = slices.Clone(next)
	return nil
}

func (b *MemoryBackend) HealthCheck(context.Context) error {
	return nil
}
