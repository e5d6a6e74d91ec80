package trust

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mindburn-labs/assay/pkg/assayerr"
)

func mustSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner()
	require.NoError(t, err)
	return s
}

func TestKeyID_IsSHA256Prefix(t *testing.T) {
	s := mustSigner(t)
	require.Len(t, s.KeyID, 32) // 16 bytes hex-encoded
}

func TestSignAndVerifyEnvelope(t *testing.T) {
	signer := mustSigner(t)
	payload := map[string]interface{}{"name": "demo", "version": "1.0.0"}

	env, err := signer.SignEnvelope(PackPayloadType, payload)
	require.NoError(t, err)
	require.Len(t, env.Signatures, 1)

	ok := VerifySignature(
		mustPub(t, signer),
		PackPayloadType,
		env.Payload,
		env.Signatures[0].Sig,
	)
	require.True(t, ok)
}

func mustPub(t *testing.T, s *Signer) ed25519.PublicKey {
	t.Helper()
	raw, err := hex.DecodeString(s.PublicKeyHex())
	require.NoError(t, err)
	return ed25519.PublicKey(raw)
}

func buildSignedManifest(t *testing.T, root *Signer, keys []KeyRecord) []byte {
	t.Helper()
	manifest := KeysManifest{SchemaVersion: 1, Keys: keys}
	env, err := root.SignEnvelope(KeysManifestPayloadType, manifest)
	require.NoError(t, err)
	out, err := json.Marshal(env)
	require.NoError(t, err)
	return out
}

func TestLoadKeysManifest_RejectsUnpinnedRoot(t *testing.T) {
	root := mustSigner(t)
	store := NewStore(map[string]ed25519.PublicKey{}) // no pinned roots at all

	manifestJSON := buildSignedManifest(t, root, nil)
	err := store.LoadKeysManifest(manifestJSON)
	require.Error(t, err)

	var ae *assayerr.Error
	require.ErrorAs(t, err, &ae)
	require.Equal(t, assayerr.MKeyUnknown, ae.Code)
}

func TestVerifyPack_FullFlow(t *testing.T) {
	root := mustSigner(t)
	signingKey := mustSigner(t)
	now := time.Now()

	manifestJSON := buildSignedManifest(t, root, []KeyRecord{
		{
			KeyID:     signingKey.KeyID,
			PublicKey: signingKey.PublicKeyHex(),
			NotBefore: now.Add(-time.Hour),
			NotAfter:  now.Add(time.Hour),
		},
	})

	store := NewStore(map[string]ed25519.PublicKey{root.KeyID: mustPub(t, root)})
	require.NoError(t, store.LoadKeysManifest(manifestJSON))

	canonicalPack := []byte(`{"name":"demo","version":"1.0.0"}`)
	env, err := signingKey.SignEnvelope(PackPayloadType, json.RawMessage(canonicalPack))
	require.NoError(t, err)
	envJSON, err := json.Marshal(env)
	require.NoError(t, err)

	require.NoError(t, store.VerifyPack(env.Payload, envJSON, now))
	_ = canonicalPack
}

func TestVerifyPack_RejectsRevokedKey(t *testing.T) {
	root := mustSigner(t)
	signingKey := mustSigner(t)
	now := time.Now()
	revokedAt := now.Add(-time.Minute)

	manifestJSON := buildSignedManifest(t, root, []KeyRecord{
		{
			KeyID:     signingKey.KeyID,
			PublicKey: signingKey.PublicKeyHex(),
			NotBefore: now.Add(-time.Hour),
			NotAfter:  now.Add(time.Hour),
			RevokedAt: &revokedAt,
		},
	})

	store := NewStore(map[string]ed25519.PublicKey{root.KeyID: mustPub(t, root)})
	require.NoError(t, store.LoadKeysManifest(manifestJSON))

	env, err := signingKey.SignEnvelope(PackPayloadType, json.RawMessage(`{"x":1}`))
	require.NoError(t, err)
	envJSON, err := json.Marshal(env)
	require.NoError(t, err)

	err = store.VerifyPack(env.Payload, envJSON, now)
	require.Error(t, err)
	var ae *assayerr.Error
	require.ErrorAs(t, err, &ae)
	require.Equal(t, assayerr.MKeyRevoked, ae.Code)
}

func TestVerifyPack_RejectsPayloadMismatch(t *testing.T) {
	root := mustSigner(t)
	signingKey := mustSigner(t)
	now := time.Now()

	manifestJSON := buildSignedManifest(t, root, []KeyRecord{
		{
			KeyID:     signingKey.KeyID,
			PublicKey: signingKey.PublicKeyHex(),
			NotBefore: now.Add(-time.Hour),
			NotAfter:  now.Add(time.Hour),
		},
	})
	store := NewStore(map[string]ed25519.PublicKey{root.KeyID: mustPub(t, root)})
	require.NoError(t, store.LoadKeysManifest(manifestJSON))

	env, err := signingKey.SignEnvelope(PackPayloadType, json.RawMessage(`{"x":1}`))
	require.NoError(t, err)
	envJSON, err := json.Marshal(env)
	require.NoError(t, err)

	err = store.VerifyPack([]byte(`{"x":2}`), envJSON, now)
	require.Error(t, err)
	var ae *assayerr.Error
	require.ErrorAs(t, err, &ae)
	require.Equal(t, assayerr.MSignatureMalformed, ae.Code)
}
