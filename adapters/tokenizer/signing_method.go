package tokenizer

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/murmur/internal/eth"
	"github.com/layer-3/murmur/ports"
)

// AlgETH signs the JWT signing string with EIP-191 personal_sign.
const AlgETH = "ETH"

// SigningMethodETH delegates signing to a wallet and verifies by recovering
// the signer address.
//
// Sign expects a *WalletKey; Verify expects the common.Address that must
// have produced the signature.
type SigningMethodETH struct{}

// WalletKey is the signing key passed to SignedString.
type WalletKey struct {
	Ctx    context.Context
	Signer ports.Signer
}

var methodETH = &SigningMethodETH{}

func init() {
	jwt.RegisterSigningMethod(AlgETH, func() jwt.SigningMethod { return methodETH })
}

func (m *SigningMethodETH) Alg() string { return AlgETH }

func (m *SigningMethodETH) Sign(signingString string, key interface{}) ([]byte, error) {
	k, ok := key.(*WalletKey)
	if !ok || k.Signer == nil {
		return nil, jwt.ErrInvalidKeyType
	}
	ctx := k.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return k.Signer.SignMessage(ctx, []byte(signingString))
}

func (m *SigningMethodETH) Verify(signingString string, sig []byte, key interface{}) error {
	expected, ok := key.(common.Address)
	if !ok {
		return jwt.ErrInvalidKeyType
	}
	valid, err := eth.VerifySignatureAgainstAddress([]byte(signingString), sig, expected)
	if err != nil || !valid {
		return jwt.ErrSignatureInvalid
	}
	return nil
}
