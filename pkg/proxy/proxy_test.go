package proxy

import (
	"crypto/ed25519"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mindburn-labs/assay/pkg/evidence"
	"github.com/mindburn-labs/assay/pkg/mandate"
	"github.com/mindburn-labs/assay/pkg/policy"
	"github.com/mindburn-labs/assay/pkg/trust"

	_ "modernc.org/sqlite"
)

// fakeUpstream echoes a canned JSON-RPC result back for every Call,
// recording how many times it was invoked.
type fakeUpstream struct {
	mu    sync.Mutex
	calls int
}

func (u *fakeUpstream) Call(line []byte) ([]byte, error) {
	u.mu.Lock()
	u.calls++
	u.mu.Unlock()

	var req request
	_ = json.Unmarshal(line, &req)
	resp := response{JSONRPC: jsonRPCVersion, ID: req.ID, Result: json.RawMessage(`{"ok":true}`)}
	return json.Marshal(resp)
}

func (u *fakeUpstream) Send([]byte) error { return nil }
func (u *fakeUpstream) Close() error      { return nil }

func (u *fakeUpstream) callCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls
}

// countingSink records every event it's asked to persist.
type countingSink struct {
	mu     sync.Mutex
	events []evidence.Event
}

func (s *countingSink) Write(ev evidence.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func compiledPolicy(t *testing.T, pack policy.Pack) *policy.CompiledPolicy {
	t.Helper()
	cp, err := policy.Compile([]policy.Pack{pack})
	require.NoError(t, err)
	return cp
}

func toolCallRequest(t *testing.T, id, toolCallID, toolName string, args map[string]interface{}, mandateEnv []byte) request {
	t.Helper()
	argsJSON, err := json.Marshal(args)
	require.NoError(t, err)

	params := toolCallParams{Name: toolName, Arguments: argsJSON, ToolCallID: toolCallID, Mandate: mandateEnv}
	paramsJSON, err := json.Marshal(params)
	require.NoError(t, err)

	return request{
		JSONRPC: jsonRPCVersion,
		ID:      json.RawMessage(fmt.Sprintf("%q", id)),
		Method:  "tools/call",
		Params:  paramsJSON,
	}
}

func newTestTrust(t *testing.T) (*trust.Store, *trust.Signer) {
	t.Helper()
	root, err := trust.NewSigner()
	require.NoError(t, err)
	rootPub, err := hex.DecodeString(root.PublicKeyHex())
	require.NoError(t, err)
	store := trust.NewStore(map[string]ed25519.PublicKey{root.KeyID: ed25519.PublicKey(rootPub)})

	issuer, err := trust.NewSigner()
	require.NoError(t, err)
	manifest := trust.KeysManifest{
		SchemaVersion: 1,
		Keys: []trust.KeyRecord{
			{KeyID: issuer.KeyID, PublicKey: issuer.PublicKeyHex(), NotBefore: time.Now().Add(-time.Hour), NotAfter: time.Now().Add(time.Hour)},
		},
	}
	env, err := root.SignEnvelope(trust.KeysManifestPayloadType, manifest)
	require.NoError(t, err)
	envJSON, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, store.LoadKeysManifest(envJSON))
	return store, issuer
}

func newTestAuthorizer(t *testing.T) (*mandate.Authorizer, *trust.Signer) {
	t.Helper()
	trustStore, issuer := newTestTrust(t)
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store, err := mandate.NewStore(db)
	require.NoError(t, err)
	return mandate.NewAuthorizer(trustStore, store), issuer
}

func signedMandate(t *testing.T, issuer *trust.Signer, m mandate.Mandate) []byte {
	t.Helper()
	env, err := issuer.SignEnvelope(mandate.PayloadType, m)
	require.NoError(t, err)
	envJSON, err := json.Marshal(env)
	require.NoError(t, err)
	return envJSON
}

func TestHandleToolCall_AllowForwardsToUpstream(t *testing.T) {
	cp := compiledPolicy(t, policy.Pack{Name: "p", Version: "1.0.0"})
	up := &fakeUpstream{}
	sink := &countingSink{}
	p := NewProxy(Config{
		Policy:  cp,
		Emitter: evidence.NewEmitter("assay-proxy"),
		Sink:    sink,
		Upstream: up,
	})

	req := toolCallRequest(t, "1", "tc1", "files.read", map[string]interface{}{"path": "a.txt"}, nil)
	reqLine, err := json.Marshal(req)
	require.NoError(t, err)

	out, err := p.handleLine(reqLine)
	require.NoError(t, err)
	require.Equal(t, 1, up.callCount())

	var resp response
	require.NoError(t, json.Unmarshal(out, &resp))
	require.Nil(t, resp.Error)
	require.Equal(t, 1, sink.count())
}

func TestHandleToolCall_DenyReturnsErrorWithoutForwarding(t *testing.T) {
	cp := compiledPolicy(t, policy.Pack{Name: "p", Version: "1.0.0", Deny: []string{"exec.shell"}})
	up := &fakeUpstream{}
	sink := &countingSink{}
	p := NewProxy(Config{Policy: cp, Emitter: evidence.NewEmitter("assay-proxy"), Sink: sink, Upstream: up})

	req := toolCallRequest(t, "1", "tc1", "exec.shell", map[string]interface{}{"cmd": "rm -rf /"}, nil)
	reqLine, err := json.Marshal(req)
	require.NoError(t, err)

	out, err := p.handleLine(reqLine)
	require.NoError(t, err)
	require.Equal(t, 0, up.callCount())

	var resp response
	require.NoError(t, json.Unmarshal(out, &resp))
	require.NotNil(t, resp.Error)
	require.Equal(t, 1, sink.count())
}

func TestHandleToolCall_DryRunNeverDenies(t *testing.T) {
	cp := compiledPolicy(t, policy.Pack{Name: "p", Version: "1.0.0", Deny: []string{"exec.shell"}})
	up := &fakeUpstream{}
	sink := &countingSink{}
	p := NewProxy(Config{Policy: cp, Emitter: evidence.NewEmitter("assay-proxy"), Sink: sink, Upstream: up, DryRun: true})

	req := toolCallRequest(t, "1", "tc1", "exec.shell", map[string]interface{}{"cmd": "rm -rf /"}, nil)
	reqLine, err := json.Marshal(req)
	require.NoError(t, err)

	out, err := p.handleLine(reqLine)
	require.NoError(t, err)
	require.Equal(t, 1, up.callCount())

	var resp response
	require.NoError(t, json.Unmarshal(out, &resp))
	require.Nil(t, resp.Error)
}

func TestHandleToolCall_RedeliveryEmitsNoAdditionalEvents(t *testing.T) {
	cp := compiledPolicy(t, policy.Pack{Name: "p", Version: "1.0.0"})
	up := &fakeUpstream{}
	sink := &countingSink{}
	p := NewProxy(Config{Policy: cp, Emitter: evidence.NewEmitter("assay-proxy"), Sink: sink, Upstream: up})

	req := toolCallRequest(t, "1", "tc-dup", "files.read", map[string]interface{}{"path": "a.txt"}, nil)
	reqLine, err := json.Marshal(req)
	require.NoError(t, err)

	_, err = p.handleLine(reqLine)
	require.NoError(t, err)
	_, err = p.handleLine(reqLine)
	require.NoError(t, err)

	require.Equal(t, 2, up.callCount()) // the tool itself executes both times
	require.Equal(t, 1, sink.count())   // but exactly one tool.decision event ever (I1/I4)
}

func TestHandleToolCall_MandateRequiredButMissingDenies(t *testing.T) {
	cp := compiledPolicy(t, policy.Pack{
		Name: "p", Version: "1.0.0",
		Tools: []policy.ToolRule{{ToolName: "commerce.charge", OperationClass: policy.OpCommit, MandateRequirement: policy.MandateAny}},
	})
	up := &fakeUpstream{}
	sink := &countingSink{}
	p := NewProxy(Config{Policy: cp, Emitter: evidence.NewEmitter("assay-proxy"), Sink: sink, Upstream: up})

	req := toolCallRequest(t, "1", "tc1", "commerce.charge", map[string]interface{}{"amount": 100}, nil)
	reqLine, err := json.Marshal(req)
	require.NoError(t, err)

	out, err := p.handleLine(reqLine)
	require.NoError(t, err)
	require.Equal(t, 0, up.callCount())

	var resp response
	require.NoError(t, json.Unmarshal(out, &resp))
	require.NotNil(t, resp.Error)
}

func TestHandleToolCall_MandateConsumedEmitsMandateUsedThenDecision(t *testing.T) {
	cp := compiledPolicy(t, policy.Pack{
		Name: "p", Version: "1.0.0",
		Tools: []policy.ToolRule{{ToolName: "commerce.charge", OperationClass: policy.OpWrite, MandateRequirement: policy.MandateAny}},
	})
	authz, issuer := newTestAuthorizer(t)
	up := &fakeUpstream{}
	sink := &countingSink{}
	p := NewProxy(Config{Policy: cp, Authorizer: authz, Emitter: evidence.NewEmitter("assay-proxy"), Sink: sink, Upstream: up})

	now := time.Now().UTC()
	m := mandate.Mandate{
		MandateID: "m1", Subject: "agent-1", Scope: []string{"commerce.*"},
		OperationClass: policy.OpWrite, NotBefore: now.Add(-time.Minute), NotAfter: now.Add(time.Minute),
	}
	envJSON := signedMandate(t, issuer, m)

	req := toolCallRequest(t, "1", "tc1", "commerce.charge", map[string]interface{}{"amount": 100}, envJSON)
	reqLine, err := json.Marshal(req)
	require.NoError(t, err)

	out, err := p.handleLine(reqLine)
	require.NoError(t, err)
	require.Equal(t, 1, up.callCount())

	var resp response
	require.NoError(t, json.Unmarshal(out, &resp))
	require.Nil(t, resp.Error)

	require.Equal(t, 2, sink.count()) // mandate.used THEN tool.decision
	require.Equal(t, evidence.TypeMandateUsed, sink.events[0].Type)
	require.Equal(t, evidence.TypeToolDecision, sink.events[1].Type)
}
