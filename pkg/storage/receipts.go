package storage

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/mindburn-labs/assay/pkg/decision"
	"github.com/mindburn-labs/assay/pkg/mandate"
	"github.com/mindburn-labs/assay/pkg/proxy"
)

// ReceiptStore is the durable backing for proxy.ReceiptStore, over the
// nonces table: one row per tool_call_id ever observed, carrying the
// Decision made for it (and the AuthzReceipt, if a mandate was consumed).
// This is the storage-backed implementation deferred when pkg/proxy was
// built with only an in-process memReceiptStore; it exists to survive
// process restarts, which an in-memory map cannot, per invariant I1
// ("exactly one tool.decision event per tool_call_id ever observed").
//
// proxy.ReceiptStore's Lookup/Save have no error return, so failures here
// are logged rather than propagated — a lookup miss on a storage error
// degrades to "treat this tool_call_id as unseen", which is safe: at worst
// it re-emits a tool.decision event for a call the store failed to record,
// which duplicate-suppression elsewhere does not depend on.
type ReceiptStore struct {
	store *Store
	log   *slog.Logger
	now   func() time.Time
}

func (s *Store) NewReceiptStore(log *slog.Logger) *ReceiptStore {
	if log == nil {
		log = slog.Default()
	}
	return &ReceiptStore{store: s, log: log.With("component", "storage.receipts"), now: time.Now}
}

type receiptRow struct {
	Decision decision.Decision
	Authz    *mandate.AuthzReceipt
}

func (r *ReceiptStore) Lookup(toolCallID string) (proxy.Receipt, bool) {
	var decisionJSON string
	var authzJSON sql.NullString
	err := r.store.db.QueryRow(
		`SELECT decision, authz FROM nonces WHERE tool_call_id = ?`, toolCallID,
	).Scan(&decisionJSON, &authzJSON)
	if err == sql.ErrNoRows {
		return proxy.Receipt{}, false
	}
	if err != nil {
		r.log.Error("receipt lookup failed", "tool_call_id", toolCallID, "error", err)
		return proxy.Receipt{}, false
	}

	var row receiptRow
	if err := json.Unmarshal([]byte(decisionJSON), &row.Decision); err != nil {
		r.log.Error("receipt decision unmarshal failed", "tool_call_id", toolCallID, "error", err)
		return proxy.Receipt{}, false
	}
	if authzJSON.Valid && authzJSON.String != "" {
		var authz mandate.AuthzReceipt
		if err := json.Unmarshal([]byte(authzJSON.String), &authz); err == nil {
			row.Authz = &authz
		}
	}
	return proxy.Receipt{Decision: row.Decision, Authz: row.Authz}, true
}

func (r *ReceiptStore) Save(toolCallID string, receipt proxy.Receipt) {
	decisionJSON, err := json.Marshal(receipt.Decision)
	if err != nil {
		r.log.Error("receipt decision marshal failed", "tool_call_id", toolCallID, "error", err)
		return
	}
	var authzJSON []byte
	if receipt.Authz != nil {
		authzJSON, err = json.Marshal(receipt.Authz)
		if err != nil {
			r.log.Error("receipt authz marshal failed", "tool_call_id", toolCallID, "error", err)
			return
		}
	}

	_, err = r.store.db.Exec(
		`INSERT INTO nonces (tool_call_id, decision, authz, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(tool_call_id) DO UPDATE SET decision = excluded.decision, authz = excluded.authz`,
		toolCallID, string(decisionJSON), nullIfEmptyBytes(authzJSON), formatTime(r.now()),
	)
	if err != nil {
		r.log.Error("receipt save failed", "tool_call_id", toolCallID, "error", err)
	}
}
