package store

import (
	"context"
	"strings"
	"sync"

	"github.com/layer-3/murmur/core"
	"github.com/layer-3/murmur/ports"
)

// MemoryStore is an in-memory KeyStore, primarily for tests and ephemeral
// sessions.
type MemoryStore struct {
	entries map[string][]byte
	mu      sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string][]byte),
	}
}

var _ ports.KeyStore = (*MemoryStore)(nil)

// Load returns the key material stored for address.
func (s *MemoryStore) Load(ctx context.Context, address string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, ok := s.entries[strings.ToLower(address)]
	if !ok {
		return nil, core.ErrKeyMaterialNotFound
	}
	return openEnvelope(address, raw)
}

// Save stores key material for address once.
func (s *MemoryStore) Save(ctx context.Context, address string, material []byte) error {
	raw, err := sealEnvelope(address, material)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(address)
	if _, exists := s.entries[key]; exists {
		return core.ErrKeyMaterialExists
	}
	s.entries[key] = raw
	return nil
}

// Clear drops every entry. This models an explicit local data clear.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string][]byte)
}
