package proxy

import (
	"sync"

	"github.com/mindburn-labs/assay/pkg/decision"
	"github.com/mindburn-labs/assay/pkg/mandate"
)

// Receipt is what the proxy remembers about one tool_call_id, so that
// redelivery (invariant I4) returns the same outcome and produces no
// further evidence events.
type Receipt struct {
	Decision decision.Decision
	Authz    *mandate.AuthzReceipt // nil when no mandate was consumed
}

// ReceiptStore records one Receipt per tool_call_id ever observed, per
// invariant I1: "exactly one tool.decision event is produced per
// tool_call_id ever observed."
type ReceiptStore interface {
	Lookup(toolCallID string) (Receipt, bool)
	Save(toolCallID string, r Receipt)
}

// memReceiptStore is an in-process ReceiptStore, sufficient for one proxy
// process's lifetime. pkg/storage.ReceiptStore is the durable
// implementation over the nonces table (spec §4.11); NewProxy uses this
// one unless another ReceiptStore is supplied.
type memReceiptStore struct {
	mu   sync.Mutex
	byID map[string]Receipt
}

func NewMemReceiptStore() ReceiptStore {
	return &memReceiptStore{byID: map[string]Receipt{}}
}

func (s *memReceiptStore) Lookup(toolCallID string) (Receipt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[toolCallID]
	return r, ok
}

func (s *memReceiptStore) Save(toolCallID string, r Receipt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[toolCallID] = r
}
