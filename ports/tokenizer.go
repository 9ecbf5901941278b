package ports

import "context"

// Purposes of authorization tokens.
const (
	PurposeEncrypt = "murmur:encrypt"
	PurposeDecrypt = "murmur:decrypt"
	PurposeAPI     = "murmur:api"
)

// Authorizer issues and verifies signature-backed authorization tokens.
type Authorizer interface {
	// Authorize asks signer to sign an authorization for purpose. The
	// signer may prompt the user and may refuse.
	Authorize(ctx context.Context, signer Signer, address, purpose string) (string, error)

	// Verify checks the token signature and purpose and returns the
	// address that signed it.
	Verify(token, purpose string) (string, error)
}
