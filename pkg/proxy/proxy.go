package proxy

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mindburn-labs/assay/pkg/assayerr"
	"github.com/mindburn-labs/assay/pkg/decision"
	"github.com/mindburn-labs/assay/pkg/evidence"
	"github.com/mindburn-labs/assay/pkg/mandate"
	"github.com/mindburn-labs/assay/pkg/policy"
)

// Config wires a Proxy's dependencies.
type Config struct {
	Policy     *policy.CompiledPolicy
	Authorizer *mandate.Authorizer // nil disables mandate enforcement entirely
	Emitter    *evidence.Emitter
	Sink       EventSink
	Receipts   ReceiptStore // defaults to an in-process map if nil
	Upstream   Upstream
	DryRun     bool // spec §4.8: decisions computed and logged but never deny
	Now        func() time.Time
	Logger     *slog.Logger
}

// Proxy implements spec §4.8: accept JSON-RPC on stdin/stdout, forward to
// upstream, interpose on tools/call.
type Proxy struct {
	cfg Config
	now func() time.Time
	log *slog.Logger

	histMu  sync.Mutex
	history map[string][]string // sessionID -> ordered allowed tool names
}

// NewProxy constructs a Proxy. sessionID scopes sequence-rule history;
// the proxy process is 1:1 with one client connection, so one Proxy
// tracks one session's history.
func NewProxy(cfg Config) *Proxy {
	if cfg.Receipts == nil {
		cfg.Receipts = NewMemReceiptStore()
	}
	if cfg.Sink == nil {
		cfg.Sink = NopSink{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Proxy{
		cfg:     cfg,
		now:     cfg.Now,
		log:     cfg.Logger.With("component", "proxy"),
		history: map[string][]string{},
	}
}

// Run drives the proxy's single event loop: read one client line, handle
// it, write the result, repeat. Handling is strictly sequential — spec
// §5's "single event loop per process" — so no two tool calls ever run
// concurrently.
func (p *Proxy) Run(ctx context.Context, clientIn io.Reader, clientOut io.Writer) error {
	sc := bufio.NewScanner(clientIn)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}

		out, err := p.handleLine(line)
		if err != nil {
			p.log.Error("handling client message failed", "error", err)
			continue
		}
		if out == nil {
			continue // notification: no response to write
		}
		if _, werr := clientOut.Write(append(out, '\n')); werr != nil {
			return fmt.Errorf("proxy: write client response: %w", werr)
		}
	}
	return sc.Err()
}

func (p *Proxy) handleLine(line []byte) ([]byte, error) {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		resp := newErrorResponse(nil, errParse, "invalid JSON", nil)
		return json.Marshal(resp)
	}

	if req.Method != "tools/call" {
		if len(req.ID) == 0 {
			return nil, p.cfg.Upstream.Send(line)
		}
		respLine, err := p.cfg.Upstream.Call(line)
		if err != nil {
			resp := newErrorResponse(req.ID, errInternalError, err.Error(), nil)
			return json.Marshal(resp)
		}
		return respLine, nil
	}

	return p.handleToolCall(req)
}

func (p *Proxy) handleToolCall(req request) ([]byte, error) {
	var params toolCallParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			resp := newErrorResponse(req.ID, errInvalidReq, "invalid tools/call params", nil)
			return json.Marshal(resp)
		}
	}
	if params.ToolCallID == "" {
		params.ToolCallID = uuid.New().String()
	}

	if receipt, ok := p.cfg.Receipts.Lookup(params.ToolCallID); ok {
		// I4: redelivery returns the same receipt, emits no further events.
		return p.respondFromReceipt(req, params, receipt)
	}

	var arguments interface{}
	if len(params.Arguments) > 0 {
		if err := json.Unmarshal(params.Arguments, &arguments); err != nil {
			resp := newErrorResponse(req.ID, errInvalidReq, "invalid tool arguments", nil)
			return json.Marshal(resp)
		}
	}

	sessionID := "default"
	call := decision.Call{
		ToolCallID: params.ToolCallID,
		ToolName:   params.Name,
		Arguments:  arguments,
		HasMandate: len(params.Mandate) > 0,
		SessionID:  sessionID,
	}

	dec := decision.Decide(call, p.cfg.Policy, p.sessionHistory, p.now())

	// Dry-run (spec §4.8): the computed decision is still the one that
	// gets logged, for shadow-testing a new policy against real traffic —
	// only the enforcement (blocking the call) is suppressed.
	enforce := !p.cfg.DryRun

	if dec.Verdict == decision.Deny {
		if p.cfg.DryRun {
			p.log.Info("dry-run: would deny", "tool_call_id", params.ToolCallID, "tool", params.Name, "reason", dec.ReasonCode)
		}
		if enforce {
			p.emitDecision(dec, sessionID, params.Name)
			p.cfg.Receipts.Save(params.ToolCallID, Receipt{Decision: dec})
			resp := newErrorResponse(req.ID, errInvalidReq, string(dec.ReasonCode), map[string]any{
				"tool_call_id": params.ToolCallID,
				"reason_code":  dec.ReasonCode,
			})
			return json.Marshal(resp)
		}
	}

	var authz *mandate.AuthzReceipt
	if call.HasMandate && p.cfg.Authorizer != nil {
		rule, _ := p.cfg.Policy.ToolRuleFor(params.Name)
		receipt, aerr := p.cfg.Authorizer.Authorize(mandate.AuthorizeRequest{
			EnvelopeJSON: params.Mandate,
			ToolCallID:   params.ToolCallID,
			ToolName:     params.Name,
			Arguments:    arguments,
			Rule:         rule,
		}, p.now())
		if aerr != nil {
			var code assayerr.Code
			if ae, ok := aerr.(*assayerr.Error); ok {
				code = ae.Code
			}
			dec.Verdict = decision.Deny
			dec.ReasonCode = code
			if enforce {
				p.emitDecision(dec, sessionID, params.Name)
				p.cfg.Receipts.Save(params.ToolCallID, Receipt{Decision: dec})
				resp := newErrorResponse(req.ID, errInvalidReq, aerr.Error(), map[string]any{
					"tool_call_id": params.ToolCallID,
					"reason_code":  code,
				})
				return json.Marshal(resp)
			}
			p.log.Info("dry-run: mandate would deny", "tool_call_id", params.ToolCallID, "reason", code)
		} else {
			authz = receipt
		}
	}

	// I2: mandate.used is only emitted after the consume transaction has
	// committed (Authorize already committed it above), THEN tool.decision.
	if authz != nil {
		p.emit(evidence.TypeMandateUsed, mandateUsedData{
			MandateID:  authz.MandateID,
			UseID:      authz.UseID,
			WasNew:     authz.WasNew,
			ToolCallID: params.ToolCallID,
		})
	}
	p.emitDecision(dec, sessionID, params.Name)

	p.appendHistory(sessionID, params.Name)
	p.cfg.Receipts.Save(params.ToolCallID, Receipt{Decision: dec, Authz: authz})

	reqLine, merr := json.Marshal(req)
	if merr != nil {
		return nil, fmt.Errorf("proxy: re-marshal forwarded request: %w", merr)
	}
	respLine, uerr := p.cfg.Upstream.Call(reqLine)
	if uerr != nil {
		resp := newErrorResponse(req.ID, errInternalError, uerr.Error(), nil)
		return json.Marshal(resp)
	}
	return respLine, nil
}

// respondFromReceipt replays a previously computed outcome for a
// redelivered tool_call_id without emitting any further evidence events,
// still forwarding to upstream when the original verdict was allow (the
// tool executes again; only the evidence trail stays single-write, per
// I1/I4 and spec scenario S3).
func (p *Proxy) respondFromReceipt(req request, params toolCallParams, receipt Receipt) ([]byte, error) {
	if receipt.Decision.Verdict == decision.Deny {
		resp := newErrorResponse(req.ID, errInvalidReq, string(receipt.Decision.ReasonCode), map[string]any{
			"tool_call_id": params.ToolCallID,
			"reason_code":  receipt.Decision.ReasonCode,
		})
		return json.Marshal(resp)
	}

	reqLine, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("proxy: re-marshal redelivered request: %w", err)
	}
	respLine, uerr := p.cfg.Upstream.Call(reqLine)
	if uerr != nil {
		resp := newErrorResponse(req.ID, errInternalError, uerr.Error(), nil)
		return json.Marshal(resp)
	}
	return respLine, nil
}

type toolDecisionData struct {
	ToolCallID string   `json:"tool_call_id"`
	ToolName   string   `json:"tool_name"`
	Verdict    string   `json:"verdict"`
	ReasonCode string   `json:"reason_code"`
	PolicyRefs []string `json:"policy_refs,omitempty"`
	SessionID  string   `json:"session_id"`
}

type mandateUsedData struct {
	MandateID  string `json:"mandate_id"`
	UseID      string `json:"use_id"`
	WasNew     bool   `json:"was_new"`
	ToolCallID string `json:"tool_call_id"`
}

func (p *Proxy) emitDecision(dec decision.Decision, sessionID, toolName string) {
	p.emit(evidence.TypeToolDecision, toolDecisionData{
		ToolCallID: dec.ToolCallID,
		ToolName:   toolName,
		Verdict:    string(dec.Verdict),
		ReasonCode: string(dec.ReasonCode),
		PolicyRefs: dec.PolicyRefs,
		SessionID:  sessionID,
	})
}

func (p *Proxy) emit(eventType string, data interface{}) {
	ev, err := p.cfg.Emitter.Emit(eventType, data)
	if err != nil {
		p.log.Error("failed to build evidence event", "type", eventType, "error", err)
		return
	}
	if err := p.cfg.Sink.Write(ev); err != nil {
		// Evidence write failures never unwind an already-committed
		// consume or an already-decided verdict (I2): log and move on.
		p.log.Error("failed to persist evidence event", "type", eventType, "error", err)
	}
}

func (p *Proxy) sessionHistory(sessionID string) []string {
	p.histMu.Lock()
	defer p.histMu.Unlock()
	hist := p.history[sessionID]
	out := make([]string, len(hist))
	copy(out, hist)
	return out
}

func (p *Proxy) appendHistory(sessionID, toolName string) {
	p.histMu.Lock()
	defer p.histMu.Unlock()
	p.history[sessionID] = append(p.history[sessionID], toolName)
}
