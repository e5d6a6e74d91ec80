package canonicalize

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// StrictYAMLErrorKind is a stable error kind for parse_yaml_strict failures,
// distinct from the free-form yaml.v3 parse error message.
type StrictYAMLErrorKind string

const (
	YAMLErrAnchor      StrictYAMLErrorKind = "anchor_not_allowed"
	YAMLErrAlias       StrictYAMLErrorKind = "alias_not_allowed"
	YAMLErrCustomTag   StrictYAMLErrorKind = "custom_tag_not_allowed"
	YAMLErrDuplicate   StrictYAMLErrorKind = "duplicate_key"
	YAMLErrMalformed   StrictYAMLErrorKind = "malformed"
	YAMLErrUnsupported StrictYAMLErrorKind = "unsupported_node"
)

// StrictYAMLError carries a stable kind alongside the underlying message.
type StrictYAMLError struct {
	Kind StrictYAMLErrorKind
	Path string
	Msg  string
}

func (e *StrictYAMLError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("parse_yaml_strict: %s at %s: %s", e.Kind, e.Path, e.Msg)
	}
	return fmt.Sprintf("parse_yaml_strict: %s: %s", e.Kind, e.Msg)
}

var knownTags = map[string]bool{
	"!!map":   true,
	"!!seq":   true,
	"!!str":   true,
	"!!int":   true,
	"!!float": true,
	"!!bool":  true,
	"!!null":  true,
	"!!timestamp": true,
}

// ParseYAMLStrict parses text as a single YAML document, rejecting anchors,
// aliases, custom tags, and duplicate keys at any depth. The returned value
// uses map[string]interface{}/[]interface{}/json.Number/string/bool/nil so
// it can be fed directly into JCS.
func ParseYAMLStrict(text []byte) (interface{}, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(text, &doc); err != nil {
		return nil, &StrictYAMLError{Kind: YAMLErrMalformed, Msg: err.Error()}
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	return strictNodeToValue(doc.Content[0], "$")
}

func strictNodeToValue(n *yaml.Node, path string) (interface{}, error) {
	if n.Anchor != "" {
		return nil, &StrictYAMLError{Kind: YAMLErrAnchor, Path: path, Msg: "anchor: " + n.Anchor}
	}
	if n.Alias != nil {
		return nil, &StrictYAMLError{Kind: YAMLErrAlias, Path: path, Msg: "alias node"}
	}
	if n.Tag != "" && !knownTags[n.Tag] && n.Tag != "!!binary" {
		return nil, &StrictYAMLError{Kind: YAMLErrCustomTag, Path: path, Msg: "tag: " + n.Tag}
	}

	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) != 1 {
			return nil, &StrictYAMLError{Kind: YAMLErrMalformed, Path: path, Msg: "document must have exactly one root"}
		}
		return strictNodeToValue(n.Content[0], path)
	case yaml.ScalarNode:
		return strictScalar(n, path)
	case yaml.SequenceNode:
		out := make([]interface{}, 0, len(n.Content))
		for i, c := range n.Content {
			v, err := strictNodeToValue(c, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.MappingNode:
		out := make(map[string]interface{}, len(n.Content)/2)
		seen := make(map[string]bool, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			keyNode := n.Content[i]
			valNode := n.Content[i+1]
			if keyNode.Kind != yaml.ScalarNode {
				return nil, &StrictYAMLError{Kind: YAMLErrUnsupported, Path: path, Msg: "non-scalar mapping key"}
			}
			key, err := strictScalar(keyNode, path)
			if err != nil {
				return nil, err
			}
			keyStr, ok := key.(string)
			if !ok {
				keyStr = fmt.Sprintf("%v", key)
			}
			if seen[keyStr] {
				return nil, &StrictYAMLError{Kind: YAMLErrDuplicate, Path: path, Msg: "duplicate key: " + keyStr}
			}
			seen[keyStr] = true
			val, err := strictNodeToValue(valNode, path+"."+keyStr)
			if err != nil {
				return nil, err
			}
			out[keyStr] = val
		}
		return out, nil
	case yaml.AliasNode:
		return nil, &StrictYAMLError{Kind: YAMLErrAlias, Path: path, Msg: "alias node"}
	default:
		return nil, &StrictYAMLError{Kind: YAMLErrUnsupported, Path: path, Msg: "unsupported node kind"}
	}
}

// DecodeStrict parses text with ParseYAMLStrict and re-materializes the
// result into out (a pointer to a typed Go value), via a JSON round trip.
// This is the on-ramp every pack/lockfile ingestion path should use in
// place of encoding/json.Unmarshal directly: YAML is a superset of JSON, so
// this accepts both encodings while still enforcing parse_yaml_strict's
// anchor/alias/custom-tag/duplicate-key rejection (spec §4.1, §8.2).
func DecodeStrict(text []byte, out interface{}) error {
	val, err := ParseYAMLStrict(text)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("canonicalize: remarshal strict value: %w", err)
	}
	return json.Unmarshal(raw, out)
}

func strictScalar(n *yaml.Node, path string) (interface{}, error) {
	var v interface{}
	if err := n.Decode(&v); err != nil {
		return nil, &StrictYAMLError{Kind: YAMLErrMalformed, Path: path, Msg: err.Error()}
	}
	switch t := v.(type) {
	case int:
		return jsonNumberFromInt64(int64(t)), nil
	case int64:
		return jsonNumberFromInt64(t), nil
	case float64:
		return jsonNumberFromFloat(t), nil
	default:
		return v, nil
	}
}
