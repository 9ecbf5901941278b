package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/layer-3/murmur/core"
	"github.com/layer-3/murmur/ports"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddress = "0x71562b71999873DB5b286dF957af199Ec94617F7"

// exerciseKeyStore runs the behaviour every KeyStore must share.
func exerciseKeyStore(t *testing.T, s ports.KeyStore) {
	ctx := context.Background()

	_, err := s.Load(ctx, testAddress)
	require.ErrorIs(t, err, core.ErrKeyMaterialNotFound)

	require.NoError(t, s.Save(ctx, testAddress, []byte("material-1")))

	got, err := s.Load(ctx, testAddress)
	require.NoError(t, err)
	assert.Equal(t, []byte("material-1"), got)

	// Address lookups are case-insensitive.
	got, err = s.Load(ctx, "0x71562b71999873db5b286df957af199ec94617f7")
	require.NoError(t, err)
	assert.Equal(t, []byte("material-1"), got)

	// Existing material is never replaced.
	err = s.Save(ctx, testAddress, []byte("material-2"))
	require.ErrorIs(t, err, core.ErrKeyMaterialExists)

	got, err = s.Load(ctx, testAddress)
	require.NoError(t, err)
	assert.Equal(t, []byte("material-1"), got)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	exerciseKeyStore(t, s)

	s.Clear()
	_, err := s.Load(context.Background(), testAddress)
	assert.ErrorIs(t, err, core.ErrKeyMaterialNotFound)
}

func TestFileStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")
	exerciseKeyStore(t, NewFileStore(dir, "correct horse"))

	_, err := NewFileStore(dir, "wrong").Load(context.Background(), testAddress)
	assert.ErrorIs(t, err, core.ErrInvalidKeyMaterial)
}

func TestFileStoreDetectsMisplacedEntry(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir, "pw")
	require.NoError(t, s.Save(context.Background(), testAddress, []byte("m")))

	other := "0x0000000000000000000000000000000000000001"
	require.NoError(t, os.Rename(s.path(testAddress), s.path(other)))

	_, err := s.Load(context.Background(), other)
	assert.ErrorIs(t, err, core.ErrInvalidKeyMaterial)
}

func TestEnvelopeRejectsForeignAddress(t *testing.T) {
	raw, err := sealEnvelope(testAddress, []byte("m"))
	require.NoError(t, err)

	_, err = openEnvelope("0x0000000000000000000000000000000000000001", raw)
	assert.ErrorIs(t, err, core.ErrInvalidKeyMaterial)

	_, err = openEnvelope(testAddress, []byte("{"))
	assert.ErrorIs(t, err, core.ErrInvalidKeyMaterial)
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("MURMUR_TEST_REDIS_URL")
	if url == "" {
		t.Skip("MURMUR_TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	defer client.Close()

	s := NewRedisStore(client)
	s.prefix = "murmur:test:" + t.Name() + ":"
	client.Del(context.Background(), s.key(testAddress))
	t.Cleanup(func() {
		client.Del(context.Background(), s.key(testAddress))
	})
	exerciseKeyStore(t, s)
}
