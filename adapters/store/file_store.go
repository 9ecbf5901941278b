package store

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/layer-3/murmur/core"
	"github.com/layer-3/murmur/ports"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

// scrypt parameters for new files.
const (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

var errWrongPassphrase = errors.New("wrong passphrase or corrupted key file")

// sealedFile is the on-disk JSON layout.
type sealedFile struct {
	V      int    `json:"v"`
	Salt   []byte `json:"salt"`
	N      int    `json:"scrypt_N"`
	R      int    `json:"scrypt_r"`
	P      int    `json:"scrypt_p"`
	Nonce  []byte `json:"nonce"`
	Cipher []byte `json:"cipher"`
}

// FileStore keeps one passphrase-encrypted file per address under dir.
type FileStore struct {
	dir        string
	passphrase string
	mu         sync.Mutex
}

// NewFileStore returns a FileStore rooted at dir. The directory is created
// on first save.
func NewFileStore(dir, passphrase string) *FileStore {
	return &FileStore{dir: dir, passphrase: passphrase}
}

var _ ports.KeyStore = (*FileStore)(nil)

func (s *FileStore) path(address string) string {
	return filepath.Join(s.dir, strings.ToLower(address)+".keys.json")
}

// Load decrypts the key material for address.
func (s *FileStore) Load(ctx context.Context, address string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path(address))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, core.ErrKeyMaterialNotFound
		}
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	var f sealedFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidKeyMaterial, err)
	}
	if f.V != envelopeVersion {
		return nil, fmt.Errorf("%w: unsupported file version %d", core.ErrInvalidKeyMaterial, f.V)
	}
	key, err := scrypt.Key([]byte(s.passphrase), f.Salt, f.N, f.R, f.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, f.Nonce, f.Cipher, []byte(strings.ToLower(address)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidKeyMaterial, errWrongPassphrase)
	}
	return openEnvelope(address, plain)
}

// Save encrypts and writes key material for address. It refuses to replace
// an existing file.
func (s *FileStore) Save(ctx context.Context, address string, material []byte) error {
	plain, err := sealEnvelope(address, material)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create key dir: %w", err)
	}

	f := sealedFile{V: envelopeVersion, N: scryptN, R: scryptR, P: scryptP}
	f.Salt = make([]byte, 16)
	f.Nonce = make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(f.Salt); err != nil {
		return err
	}
	if _, err := rand.Read(f.Nonce); err != nil {
		return err
	}
	key, err := scrypt.Key([]byte(s.passphrase), f.Salt, f.N, f.R, f.P, chacha20poly1305.KeySize)
	if err != nil {
		return err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return err
	}
	f.Cipher = aead.Seal(nil, f.Nonce, plain, []byte(strings.ToLower(address)))

	raw, err := json.Marshal(f)
	if err != nil {
		return err
	}

	out, err := os.OpenFile(s.path(address), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return core.ErrKeyMaterialExists
		}
		return fmt.Errorf("failed to create key file: %w", err)
	}
	if _, err := out.Write(raw); err != nil {
		out.Close()
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return out.Close()
}
