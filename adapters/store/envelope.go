package store

import (
	"encoding/json"
	"fmt"

	"github.com/layer-3/murmur/core"
)

// envelopeVersion is the current layout of a persisted key material entry.
const envelopeVersion = 1

// envelope wraps key material with the address it belongs to so a
// misplaced entry is detected on load.
type envelope struct {
	V        int    `json:"v"`
	Address  string `json:"address"`
	Material []byte `json:"material"`
}

func sealEnvelope(address string, material []byte) ([]byte, error) {
	return json.Marshal(envelope{V: envelopeVersion, Address: address, Material: material})
}

func openEnvelope(address string, raw []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidKeyMaterial, err)
	}
	if env.V != envelopeVersion {
		return nil, fmt.Errorf("%w: unsupported envelope version %d", core.ErrInvalidKeyMaterial, env.V)
	}
	if !core.SameAddress(env.Address, address) {
		return nil, fmt.Errorf("%w: entry belongs to %s", core.ErrInvalidKeyMaterial, env.Address)
	}
	return env.Material, nil
}
