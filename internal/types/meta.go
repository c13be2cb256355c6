package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// MetaPair is one metadata key/value.
type MetaPair struct {
	Key   string
	Value string
}

// Meta is ordered metadata. Insertion order is part of the contract:
// pairs are serialized into log lines in the order they arrived, and the
// canonical serialization feeds the deterministic entry ID.
type Meta []MetaPair

// Get returns the value for key and whether it exists.
func (m Meta) Get(key string) (string, bool) {
	for _, p := range m {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// Set replaces the value for key in place, or appends a new pair.
func (m *Meta) Set(key, value string) {
	for i, p := range *m {
		if p.Key == key {
			(*m)[i].Value = value
			return
		}
	}
	*m = append(*m, MetaPair{Key: key, Value: value})
}

// Has reports whether key is present.
func (m Meta) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Keys returns the keys in insertion order.
func (m Meta) Keys() []string {
	keys := make([]string, len(m))
	for i, p := range m {
		keys[i] = p.Key
	}
	return keys
}

// Canonical renders the "k1=v1; k2=v2" form used in log lines and in
// the entry ID hash. Pipes in values become spaces, newlines too, so a
// value can never break the line format.
func (m Meta) Canonical() string {
	if len(m) == 0 {
		return ""
	}
	parts := make([]string, len(m))
	for i, p := range m {
		parts[i] = p.Key + "=" + SanitizeMetaValue(p.Value)
	}
	return strings.Join(parts, "; ")
}

// Clone returns an independent copy.
func (m Meta) Clone() Meta {
	if m == nil {
		return nil
	}
	out := make(Meta, len(m))
	copy(out, m)
	return out
}

// SanitizeMetaValue strips the characters that would break the line
// format: pipes and newlines become spaces.
func SanitizeMetaValue(v string) string {
	v = strings.ReplaceAll(v, "|", " ")
	v = strings.ReplaceAll(v, "\n", " ")
	v = strings.ReplaceAll(v, "\r", " ")
	return v
}

// MarshalJSON emits a JSON object preserving insertion order.
func (m Meta) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(p.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(p.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts a JSON object (document order preserved) or an
// array of [key, value] pairs. Scalar values are stringified.
func (m *Meta) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*m = nil
		return nil
	}

	switch trimmed[0] {
	case '{':
		return m.unmarshalObject(trimmed)
	case '[':
		return m.unmarshalPairs(trimmed)
	default:
		return fmt.Errorf("meta must be an object or an array of pairs")
	}
}

func (m *Meta) unmarshalObject(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("meta: expected object")
	}

	var out Meta
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("meta: non-string key")
		}
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		out = append(out, MetaPair{Key: key, Value: StringifyScalar(raw)})
	}
	*m = out
	return nil
}

func (m *Meta) unmarshalPairs(data []byte) error {
	var pairs [][]any
	if err := json.Unmarshal(data, &pairs); err != nil {
		return fmt.Errorf("meta: array form must be [[key, value], …]: %w", err)
	}
	var out Meta
	for _, p := range pairs {
		if len(p) != 2 {
			return fmt.Errorf("meta: pair must have exactly 2 elements, got %d", len(p))
		}
		key, ok := p[0].(string)
		if !ok {
			return fmt.Errorf("meta: pair key must be a string")
		}
		out = append(out, MetaPair{Key: key, Value: StringifyScalar(p[1])})
	}
	*m = out
	return nil
}

// StringifyScalar converts a decoded JSON scalar to its string form.
// Maps and arrays are re-encoded as compact JSON.
func StringifyScalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(data)
	}
}
