package trust

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mindburn-labs/assay/pkg/assayerr"
	"github.com/mindburn-labs/assay/pkg/canonicalize"
)

// KeysManifestPayloadType is the fixed DSSE payload type for the `/keys`
// manifest envelope (spec §4.2).
const KeysManifestPayloadType = "application/vnd.assay.keys-manifest+json"

// PackPayloadType is the fixed DSSE payload type for signed policy packs.
const PackPayloadType = "application/vnd.assay.pack+json"

// KeysManifest lists the currently valid pack-signing keys.
type KeysManifest struct {
	SchemaVersion int         `json:"schema_version"`
	Keys          []KeyRecord `json:"keys"`
}

// Store is the no-TOFU trust store: a fixed list of pinned root key-ids
// plus, once loaded, the keys manifest they vouch for.
type Store struct {
	pinnedRoots map[string]ed25519.PublicKey
	manifest    *KeysManifest
	byKeyID     map[string]KeyRecord
}

// NewStore constructs a trust store with the given pinned root keys. roots
// maps key_id to raw public key; it is the implementation's hardcoded or
// configured root set, never derived from untrusted input.
func NewStore(roots map[string]ed25519.PublicKey) *Store {
	return &Store{pinnedRoots: roots, byKeyID: map[string]KeyRecord{}}
}

// LoadKeysManifest verifies a DSSE-enveloped keys manifest against the
// pinned roots and, on success, makes its keys available for pack
// verification. Fails closed: any ambiguity is rejected.
func (s *Store) LoadKeysManifest(envelopeJSON []byte) error {
	var env canonicalize.Envelope
	if err := json.Unmarshal(envelopeJSON, &env); err != nil {
		return assayerr.New(assayerr.MSignatureMalformed, "keys manifest envelope is not valid JSON")
	}
	if err := env.Validate(); err != nil {
		return assayerr.New(assayerr.MSignatureMalformed, err.Error())
	}
	if env.PayloadType != KeysManifestPayloadType {
		return assayerr.New(assayerr.MSignatureMalformed, "unexpected payload type for keys manifest")
	}

	verifiedByRoot := false
	for _, sig := range env.Signatures {
		root, ok := s.pinnedRoots[sig.KeyID]
		if !ok {
			continue
		}
		if VerifySignature(root, env.PayloadType, env.Payload, sig.Sig) {
			verifiedByRoot = true
			break
		}
	}
	if !verifiedByRoot {
		return assayerr.New(assayerr.MKeyUnknown, "keys manifest is not signed by any pinned root")
	}

	var manifest KeysManifest
	if err := json.Unmarshal(env.Payload, &manifest); err != nil {
		return assayerr.New(assayerr.MSignatureMalformed, "keys manifest payload is not valid JSON")
	}

	byID := make(map[string]KeyRecord, len(manifest.Keys))
	for _, k := range manifest.Keys {
		byID[k.KeyID] = k
	}

	s.manifest = &manifest
	s.byKeyID = byID
	return nil
}

// lookup resolves a key_id against the loaded manifest at time now.
func (s *Store) lookup(keyID string, now time.Time) (ed25519.PublicKey, *assayerr.Error) {
	record, ok := s.byKeyID[keyID]
	if !ok {
		return nil, assayerr.New(assayerr.MKeyUnknown, fmt.Sprintf("unknown signer key_id %s", keyID))
	}
	switch record.statusAt(now) {
	case KeyExpired:
		return nil, assayerr.New(assayerr.MKeyExpired, fmt.Sprintf("key %s expired", keyID))
	case KeyNotYetValid:
		return nil, assayerr.New(assayerr.MKeyExpired, fmt.Sprintf("key %s not yet valid", keyID))
	case KeyRevoked:
		return nil, assayerr.New(assayerr.MKeyRevoked, fmt.Sprintf("key %s revoked", keyID))
	}
	pub, err := record.publicKey()
	if err != nil {
		return nil, assayerr.New(assayerr.MKeyUnknown, fmt.Sprintf("malformed public key for %s", keyID))
	}
	return pub, nil
}

// PublicKeyFor resolves key_id against the loaded manifest at time now,
// for callers that verify a signature not carried in a DSSE envelope (e.g.
// evidence.VerifyBundle's inline manifest signatures).
func (s *Store) PublicKeyFor(keyID string, now time.Time) (ed25519.PublicKey, error) {
	return s.lookup(keyID, now)
}

// VerifyEnvelope verifies any DSSE envelope of the given payload type
// against the loaded manifest (not against pinned roots directly — the
// manifest is the delegated trust anchor for day-to-day signers such as
// pack publishers and mandate issuers). Returns the envelope's raw payload
// bytes and the key_id that verified it on success. Used by pkg/mandate's
// Authorizer, which needs generic DSSE verification rather than
// VerifyPack's canonical-bytes equality check; the registry client uses
// VerifyPack.
func (s *Store) VerifyEnvelope(payloadType string, envelopeJSON []byte, now time.Time) ([]byte, string, error) {
	var env canonicalize.Envelope
	if err := json.Unmarshal(envelopeJSON, &env); err != nil {
		return nil, "", assayerr.New(assayerr.MSignatureMalformed, "envelope is not valid JSON")
	}
	if err := env.Validate(); err != nil {
		return nil, "", assayerr.New(assayerr.MSignatureMalformed, err.Error())
	}
	if env.PayloadType != payloadType {
		return nil, "", assayerr.New(assayerr.MSignatureMalformed, "unexpected payload type")
	}
	if len(env.Signatures) == 0 {
		return nil, "", assayerr.New(assayerr.MSignatureMalformed, "no signatures present")
	}
	var lastKeyErr *assayerr.Error
	for _, sig := range env.Signatures {
		pub, kerr := s.lookup(sig.KeyID, now)
		if kerr != nil {
			lastKeyErr = kerr
			continue
		}
		if VerifySignature(pub, env.PayloadType, env.Payload, sig.Sig) {
			return env.Payload, sig.KeyID, nil
		}
	}
	// A single-signature envelope (the common case for mandates) surfaces
	// the precise key-resolution failure rather than a generic mismatch.
	if len(env.Signatures) == 1 && lastKeyErr != nil {
		return nil, "", lastKeyErr
	}
	return nil, "", assayerr.New(assayerr.MSigInvalid, "no signature verified against the trusted key set")
}

// VerifyPack implements spec §4.2's verify_pack: parse the envelope,
// resolve the signer's key against the manifest, and verify the DSSE
// signature over the canonical pack bytes. now is passed explicitly for
// testability.
func (s *Store) VerifyPack(canonicalBytes []byte, envelopeJSON []byte, now time.Time) error {
	var env canonicalize.Envelope
	if err := json.Unmarshal(envelopeJSON, &env); err != nil {
		return assayerr.New(assayerr.MSignatureMalformed, "pack envelope is not valid JSON")
	}
	if err := env.Validate(); err != nil {
		return assayerr.New(assayerr.MSignatureMalformed, err.Error())
	}
	if !bytes.Equal(env.Payload, canonicalBytes) {
		return assayerr.New(assayerr.MSignatureMalformed, "envelope payload does not match canonical pack bytes")
	}

	// Fail closed: every listed signature must resolve and verify; a
	// single ambiguous signature denies trust for the whole pack.
	if len(env.Signatures) == 0 {
		return assayerr.New(assayerr.MSignatureMalformed, "no signatures present")
	}
	for _, sig := range env.Signatures {
		pub, kerr := s.lookup(sig.KeyID, now)
		if kerr != nil {
			return kerr
		}
		if !VerifySignature(pub, env.PayloadType, env.Payload, sig.Sig) {
			return assayerr.New(assayerr.MSigInvalid, fmt.Sprintf("signature invalid for key %s", sig.KeyID))
		}
	}
	return nil
}
