// Package keyservice is an in-process reference of the condition-gated
// encryption service. It encrypts content under per-item symmetric keys
// and releases a key only to a requester whose on-chain state satisfies
// the condition the key was bound to.
package keyservice

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/layer-3/murmur/core"
	"github.com/layer-3/murmur/ports"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// MasterKeySize is the size of the service master key.
const MasterKeySize = 32

var errCiphertextTooShort = errors.New("ciphertext too short")

// Service implements ports.EncryptionService.
type Service struct {
	master     []byte
	authorizer ports.Authorizer
	balances   ports.BalanceReader
	log        logrus.FieldLogger
}

// New creates a service with the given master key.
func New(master []byte, authorizer ports.Authorizer, balances ports.BalanceReader, log logrus.FieldLogger) (*Service, error) {
	if len(master) != MasterKeySize {
		return nil, fmt.Errorf("master key must be %d bytes", MasterKeySize)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	m := make([]byte, MasterKeySize)
	copy(m, master)
	return &Service{
		master:     m,
		authorizer: authorizer,
		balances:   balances,
		log:        log.WithField("component", "keyservice"),
	}, nil
}

// NewRandom creates a service with a fresh master key. Keys wrapped by it
// cannot be recovered after the process exits.
func NewRandom(authorizer ports.Authorizer, balances ports.BalanceReader, log logrus.FieldLogger) (*Service, error) {
	master := make([]byte, MasterKeySize)
	if _, err := rand.Read(master); err != nil {
		return nil, err
	}
	return New(master, authorizer, balances, log)
}

var _ ports.EncryptionService = (*Service)(nil)

// EncryptFile encrypts data under a fresh key and wraps that key for
// condition.
func (s *Service) EncryptFile(ctx context.Context, data []byte, condition core.AccessCondition, authSig string) ([]byte, []byte, error) {
	condition, err := condition.Normalize()
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.authorizer.Verify(authSig, ports.PurposeEncrypt); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", core.ErrAuthorizationRejected, err)
	}

	symKey := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(symKey); err != nil {
		return nil, nil, err
	}
	encrypted, err := seal(symKey, data, nil)
	if err != nil {
		return nil, nil, err
	}

	digest, wrapKey, err := s.wrapKey(condition)
	if err != nil {
		return nil, nil, err
	}
	encryptedKey, err := seal(wrapKey, symKey, digest[:])
	if err != nil {
		return nil, nil, err
	}
	return encrypted, encryptedKey, nil
}

// GetEncryptionKey verifies the requester and the condition, then unwraps
// the symmetric key.
func (s *Service) GetEncryptionKey(ctx context.Context, encryptedKey []byte, condition core.AccessCondition, authSig string) ([]byte, error) {
	condition, err := condition.Normalize()
	if err != nil {
		return nil, err
	}
	requester, err := s.authorizer.Verify(authSig, ports.PurposeDecrypt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrAuthorizationRejected, err)
	}

	log := s.log.WithFields(logrus.Fields{
		"requester": requester,
		"contract":  condition.ContractAddress,
		"chain":     condition.Chain,
	})

	balance, err := s.balances.BalanceOf(ctx, condition, requester)
	if err != nil {
		log.WithError(err).Warn("condition check failed")
		return nil, fmt.Errorf("%w: %w", core.ErrEncryption, err)
	}
	ok, err := condition.Evaluate(balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		log.WithField("balance", balance.String()).Info("condition not met")
		return nil, core.ErrConditionNotMet
	}

	digest, wrapKey, err := s.wrapKey(condition)
	if err != nil {
		return nil, err
	}
	symKey, err := open(wrapKey, encryptedKey, digest[:])
	if err != nil {
		// The key was bound to a different condition than the one presented.
		return nil, fmt.Errorf("%w: key does not match condition", core.ErrConditionNotMet)
	}
	log.Debug("key released")
	return symKey, nil
}

// DecryptFile decrypts content with an unwrapped symmetric key.
func (s *Service) DecryptFile(encrypted, symmetricKey []byte) ([]byte, error) {
	plain, err := open(symmetricKey, encrypted, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrEncryption, err)
	}
	return plain, nil
}

func (s *Service) wrapKey(condition core.AccessCondition) ([32]byte, []byte, error) {
	digest, err := condition.Digest()
	if err != nil {
		return digest, nil, err
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, s.master, digest[:], []byte("murmur key wrap v1")), key); err != nil {
		return digest, nil, err
	}
	return digest, key, nil
}

// seal returns nonce || ciphertext.
func seal(key, plain, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plain, ad), nil
}

func open(key, sealed, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, errCiphertextTooShort
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	return aead.Open(nil, nonce, ct, ad)
}
