package ports

import "context"

// Signer is a wallet capable of producing signatures on demand. It is
// supplied by the caller and never owned by the session.
type Signer interface {
	Address(ctx context.Context) (string, error)

	// SignMessage returns an EIP-191 personal_sign signature over payload.
	SignMessage(ctx context.Context, payload []byte) ([]byte, error)
}
