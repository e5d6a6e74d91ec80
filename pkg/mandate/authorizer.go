package mandate

import (
	"encoding/json"
	"time"

	"github.com/mindburn-labs/assay/pkg/assayerr"
	"github.com/mindburn-labs/assay/pkg/canonicalize"
	"github.com/mindburn-labs/assay/pkg/policy"
	"github.com/mindburn-labs/assay/pkg/trust"
)

// clockSkew is the ±30s tolerance on not_before/not_after, per spec §4.7
// step 2. Revocation (step 3) uses no skew.
const clockSkew = 30 * time.Second

// Authorizer implements spec §4.7's 7-step flow: verify, validate, and
// atomically consume a mandate for one tool call.
type Authorizer struct {
	trust *trust.Store
	store *Store
}

// NewAuthorizer constructs an Authorizer. trustStore resolves and verifies
// the mandate issuer's signature; store performs the atomic consume.
func NewAuthorizer(trustStore *trust.Store, store *Store) *Authorizer {
	return &Authorizer{trust: trustStore, store: store}
}

// Authorize runs steps 1-6 of spec §4.7 and, on success, performs the
// atomic consume (step 7). now is passed explicitly for testability.
func (a *Authorizer) Authorize(req AuthorizeRequest, now time.Time) (*AuthzReceipt, error) {
	m, err := a.verifyAndParse(req.EnvelopeJSON, now)
	if err != nil {
		return nil, err
	}

	if now.Before(m.NotBefore.Add(-clockSkew)) {
		return nil, assayerr.New(assayerr.MNotYetValid, "mandate not yet valid")
	}
	if now.After(m.NotAfter.Add(clockSkew)) {
		return nil, assayerr.New(assayerr.MExpired, "mandate has expired")
	}

	revoked, err := a.store.IsRevoked(m.MandateID, now)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, assayerr.New(assayerr.MRevoked, "mandate has been revoked")
	}

	if !scopeMatches(m.Scope, req.ToolName) {
		return nil, assayerr.New(assayerr.MScope, "tool name is outside the mandate's scope")
	}

	if req.Rule.OperationClass != "" && m.OperationClass != req.Rule.OperationClass {
		return nil, assayerr.New(assayerr.MOpClass, "mandate operation class does not match tool's declared class")
	}

	if req.Rule.OperationClass == policy.OpCommit {
		expected, terr := canonicalize.CanonicalHash(txnRefInput{
			MandateID: m.MandateID,
			ToolName:  req.ToolName,
			Arguments: req.Arguments,
		})
		if terr != nil {
			return nil, assayerr.New(assayerr.MTxnRef, "failed recomputing transaction_ref")
		}
		if m.TransactionRef != expected {
			return nil, assayerr.New(assayerr.MTxnRef, "transaction_ref does not match recomputed digest")
		}
	}

	if err := a.store.UpsertMandate(*m, now); err != nil {
		return nil, err
	}

	return a.store.Consume(m.MandateID, req.ToolCallID, req.Arguments, now)
}

// verifyAndParse implements spec §4.7 steps 1-2's signature half: resolve
// and verify the envelope's signature against the trust store, then
// unmarshal the payload into a Mandate.
func (a *Authorizer) verifyAndParse(envelopeJSON []byte, now time.Time) (*Mandate, error) {
	payload, _, err := a.trust.VerifyEnvelope(PayloadType, envelopeJSON, now)
	if err != nil {
		return nil, err
	}
	var m Mandate
	if jerr := json.Unmarshal(payload, &m); jerr != nil {
		return nil, assayerr.New(assayerr.MMalformed, "mandate payload is not valid JSON")
	}
	if m.MandateID == "" || m.Subject == "" || len(m.Scope) == 0 || m.NotAfter.IsZero() {
		return nil, assayerr.New(assayerr.MMalformed, "mandate is missing required fields")
	}
	return &m, nil
}

func scopeMatches(scope []string, toolName string) bool {
	for _, pattern := range scope {
		if policy.MatchesGlob(pattern, toolName) {
			return true
		}
	}
	return false
}
