package canonicalize

import (
	"encoding/json"
	"fmt"
)

// Limits bounds the shape of a parsed value before canonicalization, per
// spec §4.1: overflow is a measurement-time error, not a parse success.
type Limits struct {
	MaxDepth      int
	MaxStringLen  int
	MaxObjectKeys int
}

// DefaultLimits matches the spec's defaults: nesting depth 64, 16 MiB
// strings, 65536 keys per object.
var DefaultLimits = Limits{
	MaxDepth:      64,
	MaxStringLen:  16 * 1024 * 1024,
	MaxObjectKeys: 65536,
}

// LimitError reports which structural limit was exceeded.
type LimitError struct {
	Kind string // "depth", "string_length", "object_keys"
	Path string
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("canonicalize: limit exceeded (%s) at %s", e.Kind, e.Path)
}

// CheckLimits walks a decoded value (as produced by a json.Decoder with
// UseNumber) and enforces Limits, failing closed on the first violation.
func CheckLimits(v interface{}, limits Limits) error {
	return checkLimits(v, limits, 0, "$")
}

func checkLimits(v interface{}, limits Limits, depth int, path string) error {
	if depth > limits.MaxDepth {
		return &LimitError{Kind: "depth", Path: path}
	}
	switch t := v.(type) {
	case string:
		if len(t) > limits.MaxStringLen {
			return &LimitError{Kind: "string_length", Path: path}
		}
	case json.Number:
		if len(t.String()) > limits.MaxStringLen {
			return &LimitError{Kind: "string_length", Path: path}
		}
	case []interface{}:
		for i, elem := range t {
			if err := checkLimits(elem, limits, depth+1, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	case map[string]interface{}:
		if len(t) > limits.MaxObjectKeys {
			return &LimitError{Kind: "object_keys", Path: path}
		}
		for k, val := range t {
			if len(k) > limits.MaxStringLen {
				return &LimitError{Kind: "string_length", Path: path + "." + k}
			}
			if err := checkLimits(val, limits, depth+1, path+"."+k); err != nil {
				return err
			}
		}
	}
	return nil
}
