package replay

import "github.com/mindburn-labs/assay/pkg/canonicalize"

// Fingerprint computes the stable per-test cache key from a test's
// canonical request, per spec §4.9 step 1: "compute a stable fingerprint
// per test from the canonical request". Reuses the same JCS+SHA-256
// substrate as pack and mandate-use content addressing (pkg/canonicalize)
// rather than a bespoke hash, so the same request always resolves to the
// same artifact regardless of which component computed it first.
func Fingerprint(request interface{}) (string, error) {
	return canonicalize.CanonicalHash(request)
}
