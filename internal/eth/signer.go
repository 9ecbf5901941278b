// Package eth holds the wallet primitives shared by the session and the
// reference adapters: a local private-key signer and EIP-191 signature
// recovery.
package eth

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
)

// LocalSigner signs with an in-process secp256k1 key.
type LocalSigner struct {
	key *ecdsa.PrivateKey
}

// NewLocalSigner wraps key.
func NewLocalSigner(key *ecdsa.PrivateKey) *LocalSigner {
	return &LocalSigner{key: key}
}

// NewLocalSignerFromHex parses a hex private key, with or without 0x.
func NewLocalSignerFromHex(hexKey string) (*LocalSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return NewLocalSigner(key), nil
}

// GenerateLocalSigner creates a signer with a fresh random key.
func GenerateLocalSigner() (*LocalSigner, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return NewLocalSigner(key), nil
}

// Address returns the checksummed wallet address.
func (s *LocalSigner) Address(ctx context.Context) (string, error) {
	return crypto.PubkeyToAddress(s.key.PublicKey).Hex(), nil
}

// SignMessage produces a 65-byte personal_sign signature with V in {27, 28}.
func (s *LocalSigner) SignMessage(ctx context.Context, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(accounts.TextHash(payload), s.key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}
