package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mindburn-labs/assay/pkg/assayerr"
	"github.com/mindburn-labs/assay/pkg/policy"
	"github.com/mindburn-labs/assay/pkg/trust"
)

func cacheFilePath(dir string, ref Ref) string {
	return filepath.Join(dir, ref.Name, ref.Version+".json")
}

// readCache loads a cache entry and re-verifies its digest (and signature,
// when present) on every read, per spec §4.4's cache-hygiene rule: "cache
// entries are content-untrusted". Returns (nil, nil) on a clean cache miss.
func readCache(dir string, ref Ref, trustStore *trust.Store, now time.Time) (*Resolved, error) {
	raw, err := os.ReadFile(cacheFilePath(dir, ref))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: read cache entry: %w", err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, nil // corrupt cache entry: treat as a miss, don't fail resolution
	}

	var pack policy.Pack
	if err := json.Unmarshal(entry.PackBytes, &pack); err != nil {
		return nil, nil
	}
	digest, err := pack.CanonicalDigest()
	if err != nil || digest != entry.CanonicalDigest {
		return nil, nil // cache entry no longer matches its own claimed digest
	}

	if len(entry.EnvelopeJSON) > 0 {
		if verr := trustStore.VerifyPack(entry.PackBytes, entry.EnvelopeJSON, now); verr != nil {
			return nil, nil // signer key rotated/expired since caching: miss, don't fail resolution
		}
	}

	return &Resolved{Pack: pack, Digest: digest, Source: "cache"}, nil
}

// writeCache atomically writes a cache entry: temp file in the same
// directory, fsync, rename — per spec §4.4 step 6, "never leave a partial
// entry."
func writeCache(dir string, ref Ref, entry CacheEntry) error {
	packDir := filepath.Join(dir, ref.Name)
	if err := os.MkdirAll(packDir, 0755); err != nil {
		return fmt.Errorf("registry: mkdir cache dir: %w", err)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("registry: marshal cache entry: %w", err)
	}

	tmp, err := os.CreateTemp(packDir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("registry: create temp cache file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }() // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("registry: write temp cache file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("registry: fsync temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("registry: close temp cache file: %w", err)
	}

	finalPath := cacheFilePath(dir, ref)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("registry: rename cache entry into place: %w", err)
	}
	return nil
}

// loadLockfile reads a v2 lockfile if present (spec §3: a YAML file, schema
// version "2", entries sorted by (name, version)). A missing lockfile is
// not an error: lockfile enforcement is opt-in by its presence.
func loadLockfile(path string) (*Lockfile, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: read lockfile: %w", err)
	}
	var lf Lockfile
	if err := yaml.Unmarshal(raw, &lf); err != nil {
		return nil, assayerr.New(assayerr.EPolicyParse, "lockfile is not valid YAML").WithPath(path)
	}
	if lf.SchemaVersion != lockfileSchemaVersion {
		return nil, assayerr.New(assayerr.EPolicyParse,
			fmt.Sprintf("unsupported lockfile schema_version %q, want %q", lf.SchemaVersion, lockfileSchemaVersion)).WithPath(path)
	}

	sort.Slice(lf.Entries, func(i, j int) bool {
		if lf.Entries[i].Name != lf.Entries[j].Name {
			return lf.Entries[i].Name < lf.Entries[j].Name
		}
		return lf.Entries[i].Version < lf.Entries[j].Version
	})
	lf.index = make(map[string]LockEntry, len(lf.Entries))
	for _, entry := range lf.Entries {
		lf.index[lockEntryKey(entry)] = entry
	}
	return &lf, nil
}

// checkLock enforces spec §4.4: "if a lockfile exists, any digest or
// key-id mismatch is a hard error."
func checkLock(lf *Lockfile, ref Ref, digest, keyID string) error {
	if lf == nil {
		return nil
	}
	entry, ok := lf.lookup(ref)
	if !ok {
		return nil // no pinned entry yet for this ref: nothing to enforce
	}
	if entry.CanonicalDigest != digest {
		return assayerr.New(assayerr.ELockfileMismatch, "resolved digest does not match lockfile entry").WithPath(lockKey(ref))
	}
	if keyID != "" && entry.KeyID != "" && entry.KeyID != keyID {
		return assayerr.New(assayerr.ELockfileMismatch, "signer key_id does not match lockfile entry").WithPath(lockKey(ref))
	}
	return nil
}
