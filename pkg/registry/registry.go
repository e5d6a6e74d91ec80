// Package registry implements the pack registry client (C4): resolving a
// (name, version) pack request through local override, local cache,
// builtin set, and remote registry, in that order, per spec §4.4.
//
// Grounded on the teacher's pkg/pack/resolver.go (resolution + cache shape)
// and pkg/pack/fs_registry.go (filesystem-backed registry layout), rebuilt
// around Assay's (name, version)-keyed signed packs instead of the
// teacher's capability-resolution model.
package registry

import (
	"time"

	"github.com/mindburn-labs/assay/pkg/policy"
)

// Ref identifies a requested pack.
type Ref struct {
	Name    string
	Version string
}

// CacheEntry is what's written atomically to the on-disk cache, per spec
// §4.4 step 6: "(pack_bytes, canonical_digest, signature, metadata)".
type CacheEntry struct {
	PackBytes       []byte    `json:"pack_bytes"`
	CanonicalDigest string    `json:"canonical_digest"`
	EnvelopeJSON    []byte    `json:"envelope_json,omitempty"`
	CachedAt        time.Time `json:"cached_at"`
}

// lockfileSchemaVersion is the only Lockfile v2 schema_version spec §3
// recognizes.
const lockfileSchemaVersion = "2"

// LockEntry pins a known-good (name, version) to its digest, signer, and
// source, per spec §3's Lockfile v2 shape and §4.4's enforcement rule.
type LockEntry struct {
	Name            string `yaml:"name"`
	Version         string `yaml:"version"`
	CanonicalDigest string `yaml:"canonical_digest"`
	KeyID           string `yaml:"signature_key_id,omitempty"`
	SourceURL       string `yaml:"source_url"`
}

// Lockfile is the v2 lockfile format (spec §3: "YAML file at a well-known
// path; schema version \"2\"; entries sorted by (name, version)"). Any
// digest or key_id mismatch against an existing entry is a hard error
// (E_LOCKFILE_MISMATCH); adding a new entry is always an explicit, separate
// action.
type Lockfile struct {
	SchemaVersion string      `yaml:"schema_version"`
	Entries       []LockEntry `yaml:"entries"`

	index map[string]LockEntry
}

func lockKey(ref Ref) string {
	return ref.Name + "@" + ref.Version
}

func lockEntryKey(e LockEntry) string {
	return e.Name + "@" + e.Version
}

// lookup resolves a pinned entry for ref, if any. Callers must not mutate
// lf before calling lookup; the index is built once, at load time.
func (lf *Lockfile) lookup(ref Ref) (LockEntry, bool) {
	if lf == nil {
		return LockEntry{}, false
	}
	entry, ok := lf.index[lockKey(ref)]
	return entry, ok
}

// Resolved is the outcome of resolving one pack reference: its verified
// pack and where it came from.
type Resolved struct {
	Pack   policy.Pack
	Digest string
	Source string // "override", "cache", "builtin", "remote"
}
