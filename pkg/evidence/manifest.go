package evidence

// Producer identifies the component that built a bundle.
type Producer struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Manifest is the bundle's manifest.json (spec §4.5).
type Manifest struct {
	SchemaVersion int               `json:"schema_version"`
	Producer      Producer          `json:"producer"`
	EventsCount   int               `json:"events_count"`
	EventsSHA256  string            `json:"events_sha256"`
	MerkleRoot    string            `json:"merkle_root"`
	Hashes        map[string]string `json:"hashes"`
	Signatures    []ManifestSig     `json:"signatures,omitempty"`
}

// ManifestSig is an optional signature over the manifest's canonical form
// minus the Signatures field itself.
type ManifestSig struct {
	KeyID string `json:"keyid"`
	Sig   string `json:"sig"` // hex-encoded
}
