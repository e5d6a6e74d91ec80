package trust

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/mindburn-labs/assay/pkg/canonicalize"
)

// Signer signs arbitrary payloads as DSSE envelopes with Ed25519.
// Grounded on the teacher's Ed25519Signer (same struct shape, same KeyID
// naming), rebuilt to sign over PAE(payloadType, JCS(payload)).
type Signer struct {
	priv  ed25519.PrivateKey
	pub   ed25519.PublicKey
	KeyID string
}

// NewSigner generates a fresh Ed25519 key pair.
func NewSigner() (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("trust: generate key: %w", err)
	}
	return &Signer{priv: priv, pub: pub, KeyID: KeyID(pub)}, nil
}

// NewSignerFromSeed constructs a Signer from a 32-byte Ed25519 seed.
func NewSignerFromSeed(seed []byte) (*Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("trust: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &Signer{priv: priv, pub: pub, KeyID: KeyID(pub)}, nil
}

// PublicKeyHex returns the raw public key as lowercase hex.
func (s *Signer) PublicKeyHex() string {
	return hex.EncodeToString(s.pub)
}

// SignEnvelope canonicalizes payload via JCS, computes the DSSE PAE over
// (payloadType, canonical bytes), signs it, and returns a complete
// Envelope with one signature.
func (s *Signer) SignEnvelope(payloadType string, payload interface{}) (*canonicalize.Envelope, error) {
	canonical, err := canonicalize.JCS(payload)
	if err != nil {
		return nil, fmt.Errorf("trust: canonicalize payload: %w", err)
	}
	pae := canonicalize.PAE(payloadType, canonical)
	sig := ed25519.Sign(s.priv, pae)

	return &canonicalize.Envelope{
		PayloadType: payloadType,
		Payload:     canonical,
		Signatures: []canonicalize.EnvelopeSignature{
			{KeyID: s.KeyID, Sig: sig},
		},
	}, nil
}

// VerifySignature checks a raw Ed25519 signature over
// PAE(payloadType, canonicalBytes) against pubKey.
func VerifySignature(pubKey ed25519.PublicKey, payloadType string, canonicalBytes []byte, sig []byte) bool {
	pae := canonicalize.PAE(payloadType, canonicalBytes)
	return ed25519.Verify(pubKey, pae, sig)
}
