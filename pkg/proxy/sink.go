package proxy

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/mindburn-labs/assay/pkg/evidence"
)

// EventSink persists the evidence events the proxy emits. Grounded on
// marcohefti-zero-context-lab's internal/store.AppendJSONL: append-only,
// newline-delimited JSON, parent directory created on first write.
type EventSink interface {
	Write(evidence.Event) error
}

// JSONLSink appends one canonical JSON line per event to a file.
type JSONLSink struct {
	path string
	mu   sync.Mutex
}

func NewJSONLSink(path string) *JSONLSink {
	return &JSONLSink{path: path}
}

func (s *JSONLSink) Write(ev evidence.Event) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ev); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	_, err = f.Write(buf.Bytes())
	return err
}

// NopSink discards events. Used by tests and by callers that persist
// evidence some other way (e.g. directly into C11 storage).
type NopSink struct{}

func (NopSink) Write(evidence.Event) error { return nil }
