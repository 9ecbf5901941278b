package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/layer-3/murmur/core"
	"github.com/layer-3/murmur/ports"
	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis implementation of KeyStore.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis key store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "murmur:keys:",
	}
}

var _ ports.KeyStore = (*RedisStore)(nil)

func (s *RedisStore) key(address string) string {
	return s.prefix + strings.ToLower(address)
}

// Load reads the key material for address.
func (s *RedisStore) Load(ctx context.Context, address string) ([]byte, error) {
	raw, err := s.client.Get(ctx, s.key(address)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, core.ErrKeyMaterialNotFound
		}
		return nil, fmt.Errorf("failed to load key material: %w", err)
	}
	return openEnvelope(address, raw)
}

// Save writes key material for address without expiry. SETNX keeps a
// concurrent second writer from replacing the first.
func (s *RedisStore) Save(ctx context.Context, address string, material []byte) error {
	raw, err := sealEnvelope(address, material)
	if err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, s.key(address), raw, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to save key material: %w", err)
	}
	if !ok {
		return core.ErrKeyMaterialExists
	}
	return nil
}
