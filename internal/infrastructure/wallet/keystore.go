package wallet

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
)

// Keystore loads a coldkey from a JSON file of the form
// {"address": "5...", "seed": "<64 hex chars>"} and exposes it as an opaque
// signing capability. Nothing outside this package sees the key material.
type Keystore struct {
	address string
	key     ed25519.PrivateKey
}

func Load(path string) (*Keystore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keystore: %w", err)
	}

	var file struct {
		Address string `json:"address"`
		Seed    string `json:"seed"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse keystore: %w", err)
	}
	if file.Address == "" {
		return nil, fmt.Errorf("keystore %s has no address", path)
	}

	seed, err := hex.DecodeString(file.Seed)
	if err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}

	return &Keystore{
		address: file.Address,
		key:     ed25519.NewKeyFromSeed(seed),
	}, nil
}

func (k *Keystore) Address() string {
	return k.address
}

func (k *Keystore) Sign(payload []byte) ([]byte, error) {
	return ed25519.Sign(k.key, payload), nil
}
