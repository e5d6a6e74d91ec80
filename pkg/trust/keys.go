// Package trust implements Ed25519 signing/verification over DSSE
// envelopes and the no-TOFU trust model from spec §4.2: a small set of
// pinned root key-ids ships with the binary, and every other key is only
// trusted because the `/keys` manifest — itself a DSSE envelope signed by a
// pinned root — says so.
//
// Grounded on the teacher's pkg/crypto/signer.go (Ed25519Signer struct
// shape, KeyID computed as a hash prefix of the raw public key) and
// pkg/trust/signature_verifier.go (trust-store-driven verification),
// narrowed to Ed25519-only and rebuilt to sign/verify over
// canonicalize.PAE(payloadType, canonicalize.JCS(payload)) instead of the
// teacher's ad-hoc field-concatenation canonicalization.
package trust

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// KeyID is the first 16 bytes of SHA-256 over the raw 32-byte Ed25519
// public key, lowercase hex (spec §4.2).
func KeyID(pubKey ed25519.PublicKey) string {
	sum := sha256.Sum256(pubKey)
	return hex.EncodeToString(sum[:16])
}

// KeyRecord describes one pack-signing key as listed in the keys manifest.
type KeyRecord struct {
	KeyID     string     `json:"key_id"`
	PublicKey string     `json:"public_key"` // hex-encoded raw 32 bytes
	NotBefore time.Time  `json:"not_before"`
	NotAfter  time.Time  `json:"not_after"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// Status returned for a key lookup against a manifest at a given time.
type KeyStatus int

const (
	KeyValid KeyStatus = iota
	KeyUnknown
	KeyExpired
	KeyNotYetValid
	KeyRevoked
)

func (r KeyRecord) statusAt(now time.Time) KeyStatus {
	if r.RevokedAt != nil && !now.Before(*r.RevokedAt) {
		return KeyRevoked
	}
	if now.Before(r.NotBefore) {
		return KeyNotYetValid
	}
	if now.After(r.NotAfter) {
		return KeyExpired
	}
	return KeyValid
}

func (r KeyRecord) publicKey() (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(r.PublicKey)
	if err != nil {
		return nil, err
	}
	return ed25519.PublicKey(raw), nil
}
