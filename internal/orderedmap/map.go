// Package orderedmap implements a string-keyed map that preserves
// insertion (declaration) order through JSON and YAML round-trips. The
// config parser (internal/buildconfig) needs this for pipeline iteration
// order (spec.md §4.5/§8 invariant 6); plain encoding/json and yaml.v3
// decode into map[string]V lose key order. Condensed from the corpus's
// insertion-ordered-map idiom (github.com/buildkite/agent/internal/ordered),
// trimmed to the single generic parameter and the operations the config
// parser needs: ordered construction, lookup, and ordered iteration.
package orderedmap

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Map is an order-preserving map with string keys.
type Map[V any] struct {
	keys   []string
	values map[string]V
}

// New returns an empty Map.
func New[V any]() *Map[V] {
	return &Map[V]{values: make(map[string]V)}
}

// Len returns the number of entries.
func (m *Map[V]) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Get retrieves the value for k, reporting whether it was present.
func (m *Map[V]) Get(k string) (V, bool) {
	var zero V
	if m == nil {
		return zero, false
	}
	v, ok := m.values[k]
	return v, ok
}

// Set appends k (or updates it in place, if already present) with value v.
func (m *Map[V]) Set(k string, v V) {
	if m.values == nil {
		m.values = make(map[string]V)
	}
	if _, exists := m.values[k]; !exists {
		m.keys = append(m.keys, k)
	}
	m.values[k] = v
}

// Keys returns the keys in declaration order.
func (m *Map[V]) Keys() []string {
	if m == nil {
		return nil
	}
	return m.keys
}

// Range iterates entries in declaration order, stopping early if f returns
// an error.
func (m *Map[V]) Range(f func(k string, v V) error) error {
	if m == nil {
		return nil
	}
	for _, k := range m.keys {
		if err := f(k, m.values[k]); err != nil {
			return err
		}
	}
	return nil
}

// MarshalJSON preserves key order in the encoded object.
func (m *Map[V]) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	b.WriteByte('{')
	first := true
	err := m.Range(func(k string, v V) error {
		if !first {
			b.WriteByte(',')
		}
		first = false
		if err := enc.Encode(k); err != nil {
			return err
		}
		b.WriteByte(':')
		return enc.Encode(v)
	})
	if err != nil {
		return nil, err
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, preserving key order, by walking
// the token stream directly (encoding/json gives no other way to observe
// object key order).
func (m *Map[V]) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("orderedmap: expected JSON object, got %v", tok)
	}

	*m = Map[V]{values: make(map[string]V)}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("orderedmap: non-string JSON object key %v", keyTok)
		}
		var v V
		if err := dec.Decode(&v); err != nil {
			return err
		}
		m.Set(key, v)
	}
	_, err = dec.Token() // trailing '}'
	return err
}

// UnmarshalYAML decodes a YAML mapping node, preserving key order (a
// yaml.MappingNode's Content is already [key, value, key, value, …] in
// document order).
func (m *Map[V]) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("orderedmap: line %d: expected a mapping", n.Line)
	}
	*m = Map[V]{values: make(map[string]V)}
	for i := 0; i+1 < len(n.Content); i += 2 {
		var key string
		if err := n.Content[i].Decode(&key); err != nil {
			return err
		}
		var v V
		if err := n.Content[i+1].Decode(&v); err != nil {
			return err
		}
		m.Set(key, v)
	}
	return nil
}
