package evidence

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/mindburn-labs/assay/pkg/assayerr"
	"github.com/mindburn-labs/assay/pkg/canonicalize"
	"github.com/mindburn-labs/assay/pkg/merkle"
	"github.com/mindburn-labs/assay/pkg/trust"
)

const (
	manifestEntryName = "manifest.json"
	eventsEntryName   = "events.ndjson"
	schemaVersion     = 1

	// ManifestPayloadType identifies the signed payload for a bundle
	// manifest's optional inline signatures (spec §4.5: "verify signatures
	// if present"). The signed bytes are the manifest's JCS-canonical form
	// with Signatures itself cleared.
	ManifestPayloadType = "application/vnd.assay.evidence-manifest+json"
)

func eventTimeString(e Event) string {
	return e.Time.UTC().Format(time.RFC3339Nano)
}

func eventID(e Event) (string, error) {
	return canonicalize.CanonicalHash(idInput{
		Source: e.Source,
		Type:   e.Type,
		Time:   eventTimeString(e),
		Data:   e.Data,
	})
}

// BuildBundle lays out events deterministically per spec §4.5: manifest.json
// then events.ndjson (events sorted by (time, id)), fixed tar headers
// (mtime 0, uid/gid 0, mode 0644), forward-slash paths. The same event set
// always produces byte-identical bytes.
func BuildBundle(events []Event, producer Producer) ([]byte, error) {
	sorted := make([]Event, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool {
		ti, tj := eventTimeString(sorted[i]), eventTimeString(sorted[j])
		if ti != tj {
			return ti < tj
		}
		return sorted[i].ID < sorted[j].ID
	})

	var eventsBuf bytes.Buffer
	for _, e := range sorted {
		line, err := canonicalize.JCS(e)
		if err != nil {
			return nil, fmt.Errorf("evidence: canonicalize event %s: %w", e.ID, err)
		}
		eventsBuf.Write(line)
		eventsBuf.WriteByte('\n')
	}
	eventsBytes := eventsBuf.Bytes()
	eventsHash := sha256.Sum256(eventsBytes)

	ids := make([]string, len(sorted))
	for i, e := range sorted {
		ids[i] = e.ID
	}
	root := merkle.Root(ids)

	manifest := Manifest{
		SchemaVersion: schemaVersion,
		Producer:      producer,
		EventsCount:   len(sorted),
		EventsSHA256:  hex.EncodeToString(eventsHash[:]),
		MerkleRoot:    root,
		Hashes: map[string]string{
			eventsEntryName: hex.EncodeToString(eventsHash[:]),
		},
	}
	manifestBytes, err := canonicalize.JCS(manifest)
	if err != nil {
		return nil, fmt.Errorf("evidence: canonicalize manifest: %w", err)
	}

	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	for _, entry := range []struct {
		name string
		data []byte
	}{
		{manifestEntryName, manifestBytes},
		{eventsEntryName, eventsBytes},
	} {
		hdr := &tar.Header{
			Name:     entry.name,
			Size:     int64(len(entry.data)),
			Mode:     0644,
			Uid:      0,
			Gid:      0,
			Typeflag: tar.TypeReg,
			// ModTime left zero-valued: fixed epoch per spec §4.5.
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("evidence: write tar header %s: %w", entry.name, err)
		}
		if _, err := tw.Write(entry.data); err != nil {
			return nil, fmt.Errorf("evidence: write tar body %s: %w", entry.name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("evidence: close tar writer: %w", err)
	}

	var gzBuf bytes.Buffer
	gw, err := gzip.NewWriterLevel(&gzBuf, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("evidence: gzip writer: %w", err)
	}
	// Name and ModTime left zero-valued so the gzip header itself is
	// deterministic across machines.
	if _, err := gw.Write(tarBuf.Bytes()); err != nil {
		return nil, fmt.Errorf("evidence: gzip write: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("evidence: gzip close: %w", err)
	}

	return gzBuf.Bytes(), nil
}

// VerifyLimits bounds resource consumption while reading untrusted bundles
// (spec §4.5).
type VerifyLimits struct {
	MaxCompressedSize   int64
	MaxDecompressedSize int64
	MaxEventCount       int
}

// DefaultVerifyLimits matches spec §4.5's stated defaults.
var DefaultVerifyLimits = VerifyLimits{
	MaxCompressedSize:   100 * 1024 * 1024,
	MaxDecompressedSize: 1024 * 1024 * 1024,
	MaxEventCount:       100000,
}

// VerifyResult is the outcome of a successful verify_bundle.
type VerifyResult struct {
	Manifest Manifest
	Events   []Event
}

// VerifyBundle reconstructs and checks a bundle per spec §4.5. It treats
// the bytes as hostile: it resists tar/zip bombs (size limits enforced
// during decompression, not after), path traversal, duplicate entries,
// BOM injection, CRLF injection, and symlink entries (unconditionally
// rejected).
//
// trustStore resolves the manifest's optional inline signatures (§4.5:
// "verify signatures if present"); it may be nil only when the manifest
// carries no signatures at all — a signed manifest with no trust store to
// check it against fails closed rather than being silently accepted.
func VerifyBundle(data []byte, limits VerifyLimits, trustStore *trust.Store, now time.Time) (*VerifyResult, error) {
	if int64(len(data)) > limits.MaxCompressedSize {
		return nil, assayerr.New(assayerr.SOversize, "compressed bundle exceeds max compressed size")
	}

	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, assayerr.New(assayerr.IManifestMismatch, "not a valid gzip stream")
	}
	defer gr.Close()

	limited := &io.LimitedReader{R: gr, N: limits.MaxDecompressedSize + 1}
	tr := tar.NewReader(limited)

	seen := map[string][]byte{}

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, assayerr.New(assayerr.IManifestMismatch, fmt.Sprintf("malformed tar stream: %v", err))
		}

		name := path.Clean(hdr.Name)
		if name == "." || name == ".." || strings.HasPrefix(name, "../") || path.IsAbs(hdr.Name) {
			return nil, assayerr.New(assayerr.SPathTraversal, fmt.Sprintf("rejected entry path %q", hdr.Name))
		}
		if hdr.Typeflag == tar.TypeSymlink || hdr.Typeflag == tar.TypeLink {
			return nil, assayerr.New(assayerr.SSymlinkRejected, fmt.Sprintf("rejected symlink entry %q", hdr.Name))
		}
		if hdr.Typeflag != tar.TypeReg {
			return nil, assayerr.New(assayerr.SSymlinkRejected, fmt.Sprintf("rejected non-regular entry %q", hdr.Name))
		}
		if _, dup := seen[name]; dup {
			return nil, assayerr.New(assayerr.SDuplicateEntry, fmt.Sprintf("duplicate entry %q", name))
		}

		body, err := io.ReadAll(tr)
		if err != nil {
			if limited.N <= 0 {
				return nil, assayerr.New(assayerr.SOversize, "decompressed bundle exceeds max decompressed size")
			}
			return nil, assayerr.New(assayerr.IManifestMismatch, fmt.Sprintf("failed reading entry %q: %v", name, err))
		}
		if bytes.HasPrefix(body, []byte{0xEF, 0xBB, 0xBF}) {
			return nil, assayerr.New(assayerr.SBOMInjection, fmt.Sprintf("entry %q begins with a UTF-8 BOM", name))
		}

		seen[name] = body
	}
	if limited.N <= 0 {
		return nil, assayerr.New(assayerr.SOversize, "decompressed bundle exceeds max decompressed size")
	}

	manifestBytes, ok := seen[manifestEntryName]
	if !ok {
		return nil, assayerr.New(assayerr.IManifestMismatch, "missing manifest.json")
	}
	eventsBytes, ok := seen[eventsEntryName]
	if !ok {
		return nil, assayerr.New(assayerr.IManifestMismatch, "missing events.ndjson")
	}

	var manifest Manifest
	if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
		return nil, assayerr.New(assayerr.IManifestMismatch, "manifest.json is not valid JSON")
	}

	if err := verifyManifestSignatures(manifest, trustStore, now); err != nil {
		return nil, err
	}

	if manifest.EventsCount > limits.MaxEventCount {
		return nil, assayerr.New(assayerr.SEventCount, "events_count exceeds max event count")
	}

	if bytes.Contains(eventsBytes, []byte("\r")) {
		return nil, assayerr.New(assayerr.SCRLFInjection, "events.ndjson contains a carriage return")
	}

	lines := splitNDJSONLines(eventsBytes)
	if manifest.EventsCount != len(lines) {
		return nil, assayerr.New(assayerr.IManifestMismatch, "events_count does not match events.ndjson line count")
	}
	if len(lines) > limits.MaxEventCount {
		return nil, assayerr.New(assayerr.SEventCount, "event line count exceeds max event count")
	}

	events := make([]Event, 0, len(lines))
	ids := make([]string, 0, len(lines))
	for i, line := range lines {
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, assayerr.New(assayerr.IManifestMismatch, fmt.Sprintf("event %d is not valid JSON", i))
		}
		recomputedID, err := eventID(e)
		if err != nil {
			return nil, assayerr.New(assayerr.IManifestMismatch, fmt.Sprintf("event %d: failed recomputing id: %v", i, err))
		}
		if recomputedID != e.ID {
			return nil, assayerr.New(assayerr.IEventIDMismatch, fmt.Sprintf("event %d: id does not match recomputed digest", i))
		}
		events = append(events, e)
		ids = append(ids, e.ID)
	}

	recomputedEventsHash := sha256.Sum256(eventsBytes)
	if hex.EncodeToString(recomputedEventsHash[:]) != manifest.EventsSHA256 {
		return nil, assayerr.New(assayerr.IHashMismatch, "events_sha256 mismatch")
	}

	recomputedRoot := merkle.Root(ids)
	if recomputedRoot != manifest.MerkleRoot {
		return nil, assayerr.New(assayerr.IMerkleMismatch, "merkle_root mismatch")
	}

	if expected, ok := manifest.Hashes[eventsEntryName]; ok && expected != manifest.EventsSHA256 {
		return nil, assayerr.New(assayerr.IHashMismatch, "hashes[events.ndjson] mismatch")
	}

	return &VerifyResult{Manifest: manifest, Events: events}, nil
}

// verifyManifestSignatures checks manifest.Signatures, if any, against
// trustStore. At least one signature must verify against a key the store
// considers currently valid; this mirrors trust.Store.VerifyEnvelope's
// tolerance for multiple signers rather than VerifyPack's all-must-verify
// rule, since a bundle manifest is signed by whichever single producer
// emitted it, not by a multi-party pack.
func verifyManifestSignatures(manifest Manifest, trustStore *trust.Store, now time.Time) error {
	if len(manifest.Signatures) == 0 {
		return nil
	}
	if trustStore == nil {
		return assayerr.New(assayerr.MSignatureMalformed, "manifest carries signatures but no trust store was provided to verify them")
	}

	unsigned := manifest
	unsigned.Signatures = nil
	canonicalManifest, err := canonicalize.JCS(unsigned)
	if err != nil {
		return fmt.Errorf("evidence: canonicalize manifest for signature check: %w", err)
	}

	for _, sig := range manifest.Signatures {
		pub, err := trustStore.PublicKeyFor(sig.KeyID, now)
		if err != nil {
			continue
		}
		sigBytes, err := hex.DecodeString(sig.Sig)
		if err != nil {
			continue
		}
		if trust.VerifySignature(pub, ManifestPayloadType, canonicalManifest, sigBytes) {
			return nil
		}
	}
	return assayerr.New(assayerr.MSigInvalid, "no manifest signature verified against the trusted key set")
}

func splitNDJSONLines(data []byte) [][]byte {
	data = bytes.TrimSuffix(data, []byte("\n"))
	if len(data) == 0 {
		return nil
	}
	return bytes.Split(data, []byte("\n"))
}
