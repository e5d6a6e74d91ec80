package gate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mindburn-labs/assay/pkg/replay"
)

// writeJSONAtomic writes v as indented JSON via a temp-file-then-rename,
// the same atomic-write discipline pkg/registry/cache.go and
// pkg/replay/cache.go use: a gate output file is read by CI tooling
// immediately after the process exits, so a torn write is not acceptable.
func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("gate: marshal %s: %w", path, err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("gate: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("gate: create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("gate: write temp file for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("gate: fsync temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("gate: close temp file for %s: %w", path, err)
	}
	return os.Rename(tmpPath, path)
}

// WriteRunJSON writes the minimal run.json surface, per spec §4.10
// ("minimal on early-exit, extended otherwise" — extension is
// summary.json's job, run.json stays minimal always in this
// implementation, which satisfies both cases).
func WriteRunJSON(path string, run *replay.Run, sarifOmitted int) error {
	doc := BuildRunDocument(run, sarifOmitted)
	return writeJSONAtomic(path, doc)
}

// WriteSummaryJSON writes the full run document.
func WriteSummaryJSON(path string, run *replay.Run, sarifOmitted int) error {
	summary := BuildSummary(run, sarifOmitted)
	return writeJSONAtomic(path, summary)
}

// WriteSARIF writes the (possibly truncated) SARIF log.
func WriteSARIF(path string, run *replay.Run, cap int) (int, error) {
	log, omitted := BuildSARIF(run, cap)
	if err := writeJSONAtomic(path, log); err != nil {
		return 0, err
	}
	return omitted, nil
}

// WriteJUnit writes the JUnit XML report.
func WriteJUnit(path string, run *replay.Run) error {
	suite := BuildJUnit(run)
	data, err := marshalJUnitXML(suite)
	if err != nil {
		return fmt.Errorf("gate: marshal junit: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("gate: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("gate: create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("gate: write temp file for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("gate: fsync temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("gate: close temp file for %s: %w", path, err)
	}
	return os.Rename(tmpPath, path)
}
