package ports

import "context"

// KeyStore persists key material, one entry per wallet address.
type KeyStore interface {
	// Load returns the key material for address or core.ErrKeyMaterialNotFound.
	Load(ctx context.Context, address string) ([]byte, error)

	// Save stores key material for address. It is called at most once per
	// address; implementations refuse to overwrite with core.ErrKeyMaterialExists.
	Save(ctx context.Context, address string, material []byte) error
}

// ContentStore stores opaque blobs and returns locators for them.
type ContentStore interface {
	// Put stores data and returns a fresh locator. Storing the same bytes
	// twice yields two different locators.
	Put(ctx context.Context, data []byte, contentType string) (string, error)

	// Get returns the bytes behind locator or core.ErrRecordNotFound.
	Get(ctx context.Context, locator string) ([]byte, error)
}
