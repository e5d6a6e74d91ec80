// Package evidence implements the evidence writer/reader (C5): emitting
// CloudEvents-shaped evidence events, building deterministic tar.gz
// bundles over them, and verifying bundles as untrusted input. Grounded on
// the teacher's (deleted) pkg/evidence package's event/bundle split, fully
// rebuilt around CloudEvents 1.0 + the spec's deterministic-archive and
// hostile-bundle-resistance requirements.
package evidence

import (
	"time"

	"github.com/mindburn-labs/assay/pkg/canonicalize"
)

// SpecVersion is the fixed CloudEvents spec version Assay emits (spec §6).
const SpecVersion = "1.0"

// DataContentType is the fixed content type for event data (spec §6).
const DataContentType = "application/json"

// Event types in the closed registry (spec §3).
const (
	TypeToolDecision = "tool.decision"
	TypeMandateUsed  = "mandate.used"
)

// Event is a CloudEvents-shaped evidence record (spec §3, §6).
type Event struct {
	ID              string      `json:"id"`
	Source          string      `json:"source"`
	Type            string      `json:"type"`
	SpecVersion     string      `json:"specversion"`
	Time            time.Time   `json:"time"`
	DataContentType string      `json:"datacontenttype"`
	Data            interface{} `json:"data"`
}

// idInput is the exact structure id is computed over: {source, type, time,
// data} — note this is narrower than the full Event (no id, specversion,
// or datacontenttype), per spec §3's "id is content-addressed: SHA-256
// over the JCS canonicalization of {source, type, time, data}".
type idInput struct {
	Source string      `json:"source"`
	Type   string      `json:"type"`
	Time   string      `json:"time"`
	Data   interface{} `json:"data"`
}

// Emitter produces events with a fixed source, per invariant I3 ("Fixed
// Source": the source attribute is configured at startup and never varies
// per call).
type Emitter struct {
	Source string
	Now    func() time.Time // overridable for deterministic tests
}

// NewEmitter constructs an Emitter with the real clock.
func NewEmitter(source string) *Emitter {
	return &Emitter{Source: source, Now: time.Now}
}

// Emit builds and content-addresses one evidence event.
func (e *Emitter) Emit(eventType string, data interface{}) (Event, error) {
	now := e.Now().UTC()
	rfc3339 := now.Format(time.RFC3339Nano)

	id, err := canonicalize.CanonicalHash(idInput{
		Source: e.Source,
		Type:   eventType,
		Time:   rfc3339,
		Data:   data,
	})
	if err != nil {
		return Event{}, err
	}

	return Event{
		ID:              id,
		Source:          e.Source,
		Type:            eventType,
		SpecVersion:     SpecVersion,
		Time:            now,
		DataContentType: DataContentType,
		Data:            data,
	}, nil
}
