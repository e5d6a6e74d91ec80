package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
)

// loadPinnedRoots reads the trust store file: a JSON object mapping
// key_id to a hex-encoded raw Ed25519 public key, per spec §4.2's "a
// short list of pinned root key-ids ships with the implementation." A
// missing file yields an empty root set rather than an error — a fresh
// install with no packs resolved yet has nothing to verify.
func loadPinnedRoots(path string) (map[string]ed25519.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]ed25519.PublicKey{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read trust store %s: %w", path, err)
	}

	var hexRoots map[string]string
	if err := json.Unmarshal(raw, &hexRoots); err != nil {
		return nil, fmt.Errorf("parse trust store %s: %w", path, err)
	}

	roots := make(map[string]ed25519.PublicKey, len(hexRoots))
	for keyID, hexKey := range hexRoots {
		pub, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, fmt.Errorf("trust store %s: key %s is not valid hex: %w", path, keyID, err)
		}
		if len(pub) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("trust store %s: key %s is %d bytes, want %d", path, keyID, len(pub), ed25519.PublicKeySize)
		}
		roots[keyID] = ed25519.PublicKey(pub)
	}
	return roots, nil
}
