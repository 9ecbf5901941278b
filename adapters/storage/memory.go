// Package storage provides ContentStore adapters. Locators are URIs whose
// scheme names the backend ("mem://", "s3://").
package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/layer-3/murmur/core"
	"github.com/layer-3/murmur/ports"
)

const memoryScheme = "mem://"

// MemoryStore keeps content in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

var _ ports.ContentStore = (*MemoryStore)(nil)

// Put stores a copy of data under a fresh locator.
func (s *MemoryStore) Put(ctx context.Context, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	locator := memoryScheme + uuid.New().String()
	cp := make([]byte, len(data))
	copy(cp, data)

	s.mu.Lock()
	s.blobs[locator] = cp
	s.mu.Unlock()
	return locator, nil
}

// Get returns a copy of the content behind locator.
func (s *MemoryStore) Get(ctx context.Context, locator string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	data, ok := s.blobs[locator]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", locator, core.ErrRecordNotFound)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// Len returns the number of stored blobs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
