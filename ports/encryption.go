package ports

import (
	"context"
	"math/big"

	"github.com/layer-3/murmur/core"
)

// EncryptionService encrypts content under a symmetric key whose release is
// gated by an access condition. The service, not the client, enforces the
// condition.
type EncryptionService interface {
	EncryptFile(ctx context.Context, data []byte, condition core.AccessCondition, authSig string) (encrypted, encryptedKey []byte, err error)
	GetEncryptionKey(ctx context.Context, encryptedKey []byte, condition core.AccessCondition, authSig string) ([]byte, error)
	DecryptFile(encrypted, symmetricKey []byte) ([]byte, error)
}

// BalanceReader evaluates the on-chain call named by a condition.
type BalanceReader interface {
	BalanceOf(ctx context.Context, condition core.AccessCondition, owner string) (*big.Int, error)
}
