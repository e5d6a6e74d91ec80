// Package config loads Assay's process configuration from environment
// variables. Modeled on the teacher's plain env-var Load() pattern rather
// than a flags/viper layer — there is one process, invoked as a proxy or a
// gate, and its knobs are few enough that a struct literal is clearer than a
// config file format.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds Assay's runtime configuration.
type Config struct {
	// CacheDir holds the resolved-pack cache (content-addressed by digest).
	CacheDir string
	// TrustStorePath points at the pinned-root keys file (no-TOFU §4.2).
	TrustStorePath string
	// RegistryBaseURL is the pack registry's base URL for resolve/fetch.
	RegistryBaseURL string
	// StorageDSN is the SQLite DSN for C11 persistence.
	StorageDSN string
	// ReplayMode is one of "replay_strict", "replay", "record", "auto",
	// "off" (spec §6); it is the default for the replay subcommand's -mode.
	ReplayMode string
	// CassetteDir is read from ASSAY_CASSETTE_DIR; no package in this
	// module reads or writes it.
	CassetteDir string
	// LogLevel is one of debug/info/warn/error.
	LogLevel string
	// OTLPEndpoint is the OpenTelemetry collector endpoint; empty disables export.
	OTLPEndpoint string
	// DryRun enables decision-only shadow mode: decisions and evidence are
	// produced but violations never block the call (spec §4.8).
	DryRun bool
	// MandateClockSkew is read from ASSAY_MANDATE_CLOCK_SKEW_SECONDS. The
	// mandate authorizer does not read it: it applies its own fixed 30s
	// skew to not_before/not_after.
	MandateClockSkew time.Duration
}

// Load reads configuration from the environment, applying the same
// defaults a local development invocation would need.
func Load() *Config {
	cacheDir := os.Getenv("ASSAY_CACHE_DIR")
	if cacheDir == "" {
		cacheDir = defaultUnder(".cache/assay")
	}

	trustStore := os.Getenv("ASSAY_TRUST_STORE")
	if trustStore == "" {
		trustStore = defaultUnder(".config/assay/trusted_keys.json")
	}

	registryURL := os.Getenv("ASSAY_REGISTRY_URL")
	if registryURL == "" {
		registryURL = "https://registry.assay.dev"
	}

	storageDSN := os.Getenv("ASSAY_STORAGE_DSN")
	if storageDSN == "" {
		storageDSN = defaultUnder(".local/share/assay/assay.db")
	}

	replayMode := strings.ToLower(os.Getenv("ASSAY_REPLAY_MODE"))
	if replayMode == "" {
		replayMode = "auto"
	}

	logLevel := strings.ToLower(os.Getenv("LOG_LEVEL"))
	if logLevel == "" {
		logLevel = "info"
	}

	skew := 30 * time.Second
	if raw := os.Getenv("ASSAY_MANDATE_CLOCK_SKEW_SECONDS"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
			skew = time.Duration(secs) * time.Second
		}
	}

	return &Config{
		CacheDir:         cacheDir,
		TrustStorePath:   trustStore,
		RegistryBaseURL:  registryURL,
		StorageDSN:       storageDSN,
		ReplayMode:       replayMode,
		CassetteDir:      os.Getenv("ASSAY_CASSETTE_DIR"),
		LogLevel:         logLevel,
		OTLPEndpoint:     os.Getenv("ASSAY_OTLP_ENDPOINT"),
		DryRun:           os.Getenv("ASSAY_DRY_RUN") == "true",
		MandateClockSkew: skew,
	}
}

func defaultUnder(rel string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return rel
	}
	return home + "/" + rel
}
