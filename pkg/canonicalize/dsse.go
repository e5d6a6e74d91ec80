package canonicalize

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
)

// PAE computes the DSSE Pre-Authentication Encoding of a payload type and
// payload, per the DSSE spec: a length-prefixed concatenation that binds
// the payload type into the bytes that get signed.
//
//	PAE(type, body) = "DSSEv1" + SP + LEN(type) + SP + type + SP +
//	                   LEN(body) + SP + body
func PAE(payloadType string, payload []byte) []byte {
	out := make([]byte, 0, len(payload)+len(payloadType)+64)
	out = append(out, "DSSEv1"...)
	out = append(out, ' ')
	out = appendLenPrefixed(out, []byte(payloadType))
	out = append(out, ' ')
	out = appendLenPrefixed(out, payload)
	return out
}

func appendLenPrefixed(buf []byte, b []byte) []byte {
	buf = strconv.AppendInt(buf, int64(len(b)), 10)
	buf = append(buf, ' ')
	buf = append(buf, b...)
	return buf
}

// Envelope is a Dead Simple Signing Envelope. Payload and Signatures[].Sig
// hold raw bytes in Go; they marshal to/from the wire's base64 strings via
// the custom (Un)MarshalJSON below, per the DSSE envelope shape
// ({payloadType, payload (base64), signatures[]}).
type Envelope struct {
	PayloadType string
	Payload     []byte
	Signatures  []EnvelopeSignature
}

// EnvelopeSignature is one signature within a DSSE envelope.
type EnvelopeSignature struct {
	KeyID string
	Sig   []byte
}

type envelopeWire struct {
	PayloadType string                   `json:"payloadType"`
	Payload     string                   `json:"payload"`
	Signatures  []envelopeSignatureWire  `json:"signatures"`
}

type envelopeSignatureWire struct {
	KeyID string `json:"keyid"`
	Sig   string `json:"sig"`
}

// MarshalJSON renders the envelope with base64-encoded payload/signatures.
func (e Envelope) MarshalJSON() ([]byte, error) {
	wire := envelopeWire{
		PayloadType: e.PayloadType,
		Payload:     base64.StdEncoding.EncodeToString(e.Payload),
		Signatures:  make([]envelopeSignatureWire, len(e.Signatures)),
	}
	for i, s := range e.Signatures {
		wire.Signatures[i] = envelopeSignatureWire{
			KeyID: s.KeyID,
			Sig:   base64.StdEncoding.EncodeToString(s.Sig),
		}
	}
	return json.Marshal(wire)
}

// UnmarshalJSON parses the wire envelope shape, base64-decoding payload and
// signatures back into raw bytes.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var wire envelopeWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	payload, err := base64.StdEncoding.DecodeString(wire.Payload)
	if err != nil {
		return &ErrEnvelopeMalformed{Reason: "payload is not valid base64"}
	}
	sigs := make([]EnvelopeSignature, len(wire.Signatures))
	for i, s := range wire.Signatures {
		sig, err := base64.StdEncoding.DecodeString(s.Sig)
		if err != nil {
			return &ErrEnvelopeMalformed{Reason: fmt.Sprintf("signature[%d].sig is not valid base64", i)}
		}
		sigs[i] = EnvelopeSignature{KeyID: s.KeyID, Sig: sig}
	}
	e.PayloadType = wire.PayloadType
	e.Payload = payload
	e.Signatures = sigs
	return nil
}

// ErrEnvelopeMalformed is returned when an envelope fails structural
// validation before any cryptographic check runs.
type ErrEnvelopeMalformed struct{ Reason string }

func (e *ErrEnvelopeMalformed) Error() string {
	return fmt.Sprintf("dsse: malformed envelope: %s", e.Reason)
}

// Validate checks an envelope's structural shape without verifying any
// signature.
func (e *Envelope) Validate() error {
	if e.PayloadType == "" {
		return &ErrEnvelopeMalformed{Reason: "empty payloadType"}
	}
	if len(e.Payload) == 0 {
		return &ErrEnvelopeMalformed{Reason: "empty payload"}
	}
	if len(e.Signatures) == 0 {
		return &ErrEnvelopeMalformed{Reason: "no signatures"}
	}
	for i, s := range e.Signatures {
		if s.KeyID == "" {
			return &ErrEnvelopeMalformed{Reason: fmt.Sprintf("signature[%d]: empty keyid", i)}
		}
		if len(s.Sig) == 0 {
			return &ErrEnvelopeMalformed{Reason: fmt.Sprintf("signature[%d]: empty sig", i)}
		}
	}
	return nil
}
