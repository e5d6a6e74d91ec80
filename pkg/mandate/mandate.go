// Package mandate implements the mandate store and authorizer (C7): parsing
// and validating signed single-use authorization mandates, checking them
// against a tool call, and atomically consuming them exactly once per
// (mandate_id, tool_call_id, arguments) per spec §4.7.
//
// Grounded on the teacher's pkg/store/receipt_store_sqlite.go for the
// SQLite access shape (database/sql + modernc.org/sqlite driver, one
// migrate() per store, RFC3339Nano timestamp strings) and on pkg/trust for
// mandate signature verification.
package mandate

import (
	"time"

	"github.com/mindburn-labs/assay/pkg/policy"
)

// PayloadType is the fixed DSSE payload type for a mandate envelope.
const PayloadType = "application/vnd.assay.mandate+json"

// Mandate is a signed, time-bounded, single-use authorization (spec §3).
// It is the payload carried inside a DSSE envelope; the envelope's
// signature is verified separately by the Authorizer before a Mandate
// value is trusted.
type Mandate struct {
	MandateID      string                `json:"mandate_id"`
	Subject        string                `json:"subject"`
	Scope          []string              `json:"scope"` // tool-name globs
	OperationClass policy.OperationClass `json:"operation_class"`
	NotBefore      time.Time             `json:"not_before"`
	NotAfter       time.Time             `json:"not_after"`
	TransactionRef string                `json:"transaction_ref,omitempty"`
}

// txnRefInput is the exact structure transaction_ref is recomputed over for
// commit-class tools, per spec §4.7 step 6.
type txnRefInput struct {
	MandateID string      `json:"mandate_id"`
	ToolName  string      `json:"tool_name"`
	Arguments interface{} `json:"arguments"`
}

// useIDInput is the exact structure use_id is computed over, per spec §4.7
// step 7 and §3's AuthzReceipt definition.
type useIDInput struct {
	MandateID  string      `json:"mandate_id"`
	ToolCallID string      `json:"tool_call_id"`
	Arguments  interface{} `json:"arguments"`
}

// AuthzReceipt is the result of consuming a mandate for one tool call
// (spec §3).
type AuthzReceipt struct {
	UseID      string    `json:"use_id"`
	WasNew     bool      `json:"was_new"`
	MandateID  string    `json:"mandate_id"`
	ConsumedAt time.Time `json:"consumed_at"`
}

// AuthorizeRequest bundles what the Authorizer needs about the call being
// authorized, independent of transport (proxy vs. replay).
type AuthorizeRequest struct {
	EnvelopeJSON []byte // the raw, still-untrusted DSSE-enveloped mandate
	ToolCallID   string
	ToolName     string
	Arguments    interface{}
	Rule         policy.ToolRule
}
