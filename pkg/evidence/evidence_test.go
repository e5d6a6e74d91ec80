package evidence

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mindburn-labs/assay/pkg/assayerr"
	"github.com/mindburn-labs/assay/pkg/trust"
)

func fixedEmitter() *Emitter {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &Emitter{Source: "urn:assay:test", Now: func() time.Time { return fixed }}
}

func TestEmit_ContentAddressed(t *testing.T) {
	e := fixedEmitter()
	ev1, err := e.Emit(TypeToolDecision, map[string]interface{}{"a": 1})
	require.NoError(t, err)
	ev2, err := e.Emit(TypeToolDecision, map[string]interface{}{"a": 1})
	require.NoError(t, err)
	require.Equal(t, ev1.ID, ev2.ID)

	ev3, err := e.Emit(TypeToolDecision, map[string]interface{}{"a": 2})
	require.NoError(t, err)
	require.NotEqual(t, ev1.ID, ev3.ID)
}

func TestBuildBundle_Deterministic(t *testing.T) {
	e := fixedEmitter()
	ev1, _ := e.Emit(TypeToolDecision, map[string]interface{}{"n": 1})
	ev2, _ := e.Emit(TypeMandateUsed, map[string]interface{}{"n": 2})

	b1, err := BuildBundle([]Event{ev1, ev2}, Producer{Name: "assay", Version: "test"})
	require.NoError(t, err)
	b2, err := BuildBundle([]Event{ev2, ev1}, Producer{Name: "assay", Version: "test"})
	require.NoError(t, err)
	require.Equal(t, b1, b2)
}

func TestBuildThenVerify_RoundTrips(t *testing.T) {
	e := fixedEmitter()
	ev1, _ := e.Emit(TypeToolDecision, map[string]interface{}{"n": 1})
	ev2, _ := e.Emit(TypeMandateUsed, map[string]interface{}{"n": 2})

	bundle, err := BuildBundle([]Event{ev1, ev2}, Producer{Name: "assay", Version: "test"})
	require.NoError(t, err)

	result, err := VerifyBundle(bundle, DefaultVerifyLimits, nil, time.Now())
	require.NoError(t, err)
	require.Len(t, result.Events, 2)
	require.Equal(t, 2, result.Manifest.EventsCount)
	require.NotEmpty(t, result.Manifest.MerkleRoot)
}

func TestVerifyManifestSignatures(t *testing.T) {
	root, err := trust.NewSigner()
	require.NoError(t, err)
	rootPub, err := hex.DecodeString(root.PublicKeyHex())
	require.NoError(t, err)
	store := trust.NewStore(map[string]ed25519.PublicKey{root.KeyID: ed25519.PublicKey(rootPub)})

	signer, err := trust.NewSigner()
	require.NoError(t, err)

	now := time.Now()
	keysManifest := trust.KeysManifest{
		SchemaVersion: 1,
		Keys: []trust.KeyRecord{
			{KeyID: signer.KeyID, PublicKey: signer.PublicKeyHex(), NotBefore: now.Add(-time.Hour), NotAfter: now.Add(time.Hour)},
		},
	}
	keysEnv, err := root.SignEnvelope(trust.KeysManifestPayloadType, keysManifest)
	require.NoError(t, err)
	keysEnvJSON, err := json.Marshal(keysEnv)
	require.NoError(t, err)
	require.NoError(t, store.LoadKeysManifest(keysEnvJSON))

	manifest := Manifest{
		SchemaVersion: schemaVersion,
		Producer:      Producer{Name: "assay", Version: "test"},
		EventsCount:   1,
		EventsSHA256:  "deadbeef",
		MerkleRoot:    "beadfeed",
		Hashes:        map[string]string{eventsEntryName: "deadbeef"},
	}
	manifestEnv, err := signer.SignEnvelope(ManifestPayloadType, manifest)
	require.NoError(t, err)
	manifest.Signatures = []ManifestSig{{KeyID: signer.KeyID, Sig: hex.EncodeToString(manifestEnv.Signatures[0].Sig)}}

	require.NoError(t, verifyManifestSignatures(manifest, store, now))

	tampered := manifest
	tampered.EventsCount = 2
	require.Error(t, verifyManifestSignatures(tampered, store, now))

	require.Error(t, verifyManifestSignatures(manifest, nil, now))
}

func TestVerifyBundle_RejectsPathTraversal(t *testing.T) {
	bundle := buildHostileTar(t, map[string][]byte{
		"../escape.json": []byte(`{}`),
	})
	_, err := VerifyBundle(bundle, DefaultVerifyLimits, nil, time.Now())
	requireCode(t, err, assayerr.SPathTraversal)
}

func TestVerifyBundle_RejectsSymlink(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	hdr := &tar.Header{
		Name:     "manifest.json",
		Typeflag: tar.TypeSymlink,
		Linkname: "/etc/passwd",
	}
	require.NoError(t, tw.WriteHeader(hdr))
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())

	_, err := VerifyBundle(buf.Bytes(), DefaultVerifyLimits, nil, time.Now())
	requireCode(t, err, assayerr.SSymlinkRejected)
}

func TestVerifyBundle_RejectsDuplicateEntries(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for i := 0; i < 2; i++ {
		data := []byte(`{"schema_version":1}`)
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: "manifest.json", Size: int64(len(data)), Typeflag: tar.TypeReg, Mode: 0644,
		}))
		_, err := tw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())

	_, err := VerifyBundle(buf.Bytes(), DefaultVerifyLimits, nil, time.Now())
	requireCode(t, err, assayerr.SDuplicateEntry)
}

func TestVerifyBundle_RejectsOversizeCompressed(t *testing.T) {
	_, err := VerifyBundle(make([]byte, 10), VerifyLimits{MaxCompressedSize: 1, MaxDecompressedSize: 100, MaxEventCount: 10}, nil, time.Now())
	requireCode(t, err, assayerr.SOversize)
}

func buildHostileTar(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for name, data := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name, Size: int64(len(data)), Typeflag: tar.TypeReg, Mode: 0644,
		}))
		_, err := tw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

func requireCode(t *testing.T, err error, code assayerr.Code) {
	t.Helper()
	require.Error(t, err)
	var ae *assayerr.Error
	require.ErrorAs(t, err, &ae)
	require.Equal(t, code, ae.Code)
}
