package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/murmur/core"
	"github.com/layer-3/murmur/ports"
)

// DeriveKeyBundle generates a fresh identity key for address and asks
// signer to bind it to the wallet. The signer may prompt the user.
func DeriveKeyBundle(ctx context.Context, signer ports.Signer, address string) (core.KeyBundle, error) {
	identity, err := crypto.GenerateKey()
	if err != nil {
		return core.KeyBundle{}, fmt.Errorf("failed to generate identity key: %w", err)
	}
	pub := crypto.CompressPubkey(&identity.PublicKey)

	sig, err := signer.SignMessage(ctx, core.IdentityPayload(pub))
	if err != nil {
		return core.KeyBundle{}, fmt.Errorf("%w: %w", core.ErrSignatureRejected, err)
	}

	return core.KeyBundle{
		Version:         core.KeyBundleVersion,
		WalletAddress:   address,
		IdentityKey:     crypto.FromECDSA(identity),
		IdentityPublic:  pub,
		WalletSignature: sig,
	}, nil
}

// LoadOrCreateKeys returns the persisted bundle for address, deriving and
// saving one first when none exists. A bundle is never regenerated once
// saved. If another process saved first, its bundle wins.
func LoadOrCreateKeys(ctx context.Context, store ports.KeyStore, signer ports.Signer, address string) (core.KeyBundle, bool, error) {
	keys, err := loadKeys(ctx, store, address)
	if err == nil {
		return keys, false, nil
	}
	if !errors.Is(err, core.ErrKeyMaterialNotFound) {
		return core.KeyBundle{}, false, err
	}

	keys, err = DeriveKeyBundle(ctx, signer, address)
	if err != nil {
		return core.KeyBundle{}, false, err
	}
	material, err := keys.Encode()
	if err != nil {
		return core.KeyBundle{}, false, err
	}
	if err := store.Save(ctx, address, material); err != nil {
		if errors.Is(err, core.ErrKeyMaterialExists) {
			keys, err = loadKeys(ctx, store, address)
			return keys, false, err
		}
		return core.KeyBundle{}, false, core.Classify(core.ErrPersistence, err)
	}
	return keys, true, nil
}

func loadKeys(ctx context.Context, store ports.KeyStore, address string) (core.KeyBundle, error) {
	material, err := store.Load(ctx, address)
	if err != nil {
		if errors.Is(err, core.ErrKeyMaterialNotFound) {
			return core.KeyBundle{}, err
		}
		return core.KeyBundle{}, core.Classify(core.ErrPersistence, err)
	}
	keys, err := core.DecodeKeyBundle(material)
	if err != nil {
		return core.KeyBundle{}, core.Classify(core.ErrPersistence, err)
	}
	if !core.SameAddress(keys.WalletAddress, address) {
		return core.KeyBundle{}, fmt.Errorf("%w: %w: bundle belongs to %s", core.ErrPersistence, core.ErrInvalidKeyMaterial, keys.WalletAddress)
	}
	return keys, nil
}
