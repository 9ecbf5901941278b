package core

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// KeyBundleVersion is the current encoding version of KeyBundle.
const KeyBundleVersion = 1

// NormalizeAddress validates a hex wallet address and returns its EIP-55
// checksummed form.
func NormalizeAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("%q: %w", address, ErrInvalidAddress)
	}
	return common.HexToAddress(address).Hex(), nil
}

// SameAddress reports whether a and b name the same wallet.
func SameAddress(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(trimHexPrefix(a), trimHexPrefix(b))
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// KeyBundle is the messaging identity derived for one wallet address.
// It is persisted as opaque bytes through Encode and read back with
// DecodeKeyBundle.
type KeyBundle struct {
	Version         int    `json:"v"`
	WalletAddress   string `json:"wallet"`
	IdentityKey     []byte `json:"identity_key"`     // secp256k1 private key
	IdentityPublic  []byte `json:"identity_public"`  // compressed public key
	WalletSignature []byte `json:"wallet_signature"` // signature over IdentityPayload
}

// Encode serialises the bundle into key material bytes.
func (b KeyBundle) Encode() ([]byte, error) {
	b.Version = KeyBundleVersion
	return json.Marshal(b)
}

// DecodeKeyBundle parses key material previously produced by Encode.
func DecodeKeyBundle(material []byte) (KeyBundle, error) {
	var b KeyBundle
	if err := json.Unmarshal(material, &b); err != nil {
		return KeyBundle{}, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}
	if b.Version != KeyBundleVersion {
		return KeyBundle{}, fmt.Errorf("%w: unsupported version %d", ErrInvalidKeyMaterial, b.Version)
	}
	if len(b.IdentityKey) == 0 || len(b.WalletSignature) == 0 || b.WalletAddress == "" {
		return KeyBundle{}, fmt.Errorf("%w: incomplete bundle", ErrInvalidKeyMaterial)
	}
	return b, nil
}

// IdentityPayload is the message the wallet signs to bind an identity
// public key to itself.
func IdentityPayload(identityPublic []byte) []byte {
	return []byte("murmur: create identity\n\nKey: " + common.Bytes2Hex(identityPublic) + "\n\nSign this message to enable secure messaging for this wallet.")
}
