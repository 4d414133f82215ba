// Package kv holds the typed key/value maps used for session and stage context.
//
// A Value is one of a closed set of shapes: string, number, boolean or a
// nested Map. Maps serialize to plain JSON objects so the persisted context
// stays readable by other tools.
package kv

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies the shape held by a Value.
type Kind int

const (
	KindInvalid Kind = iota
	KindString
	KindNumber
	KindBool
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindMap:
		return "map"
	default:
		return "invalid"
	}
}

// Value is a single context value.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	m    Map
}

// Map is a context map keyed by name.
type Map map[string]Value

func String(s string) Value  { return Value{kind: KindString, str: s} }
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }
func Bool(b bool) Value      { return Value{kind: KindBool, b: b} }

// Object wraps a nested map. A nil map is stored as an empty one.
func Object(m Map) Value {
	if m == nil {
		m = Map{}
	}
	return Value{kind: KindMap, m: m}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) AsString() (string, bool)  { return v.str, v.kind == KindString }
func (v Value) AsNumber() (float64, bool) { return v.num, v.kind == KindNumber }
func (v Value) AsBool() (bool, bool)      { return v.b, v.kind == KindBool }
func (v Value) AsMap() (Map, bool)        { return v.m, v.kind == KindMap }

// Any converts the value to its plain Go form (string, float64, bool, map[string]any).
func (v Value) Any() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindMap:
		return v.m.Any()
	default:
		return nil
	}
}

// Text renders the value for display. Maps render as compact JSON.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindMap:
		data, err := json.Marshal(v.m)
		if err != nil {
			return "{}"
		}
		return string(data)
	default:
		return ""
	}
}

// Equal reports deep equality.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	case KindMap:
		return v.m.Equal(o.m)
	default:
		return true
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindInvalid {
		return nil, fmt.Errorf("kv: cannot marshal invalid value")
	}
	return json.Marshal(v.Any())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FromAny converts decoded JSON (or YAML) data into a Value. Arrays and nulls
// are rejected.
func FromAny(raw any) (Value, error) {
	switch t := raw.(type) {
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("kv: invalid number %q", t.String())
		}
		return Number(n), nil
	case map[string]any:
		m, err := MapFromAny(t)
		if err != nil {
			return Value{}, err
		}
		return Object(m), nil
	case Value:
		return t, nil
	case nil:
		return Value{}, fmt.Errorf("kv: null values are not supported")
	default:
		return Value{}, fmt.Errorf("kv: unsupported value type %T", raw)
	}
}

// MapFromAny converts a decoded JSON object into a Map.
func MapFromAny(raw map[string]any) (Map, error) {
	m := make(Map, len(raw))
	for key, item := range raw {
		v, err := FromAny(item)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		m[key] = v
	}
	return m, nil
}

// Parse infers a value from command-line text: true/false become booleans,
// numerals become numbers, JSON objects become maps and anything else is a
// string. A JSON-quoted string is unquoted and kept as a string.
func Parse(text string) Value {
	trimmed := strings.TrimSpace(text)
	switch trimmed {
	case "true":
		return Bool(true)
	case "false":
		return Bool(false)
	}
	if n, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return Number(n)
	}
	if strings.HasPrefix(trimmed, "{") {
		var v Value
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil && v.kind == KindMap {
			return v
		}
	}
	if len(trimmed) >= 2 && strings.HasPrefix(trimmed, `"`) && strings.HasSuffix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal([]byte(trimmed), &s); err == nil {
			return String(s)
		}
	}
	return String(text)
}

// Any converts the map to map[string]any.
func (m Map) Any() map[string]any {
	out := make(map[string]any, len(m))
	for key, v := range m {
		out[key] = v.Any()
	}
	return out
}

// Keys returns the keys in sorted order.
func (m Map) Keys() []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy.
func (m Map) Clone() Map {
	if m == nil {
		return Map{}
	}
	out := make(Map, len(m))
	for key, v := range m {
		if v.kind == KindMap {
			v = Object(v.m.Clone())
		}
		out[key] = v
	}
	return out
}

// Merge returns a copy of m with the top-level keys of patch applied on top.
// Nested maps are replaced, not merged.
func (m Map) Merge(patch Map) Map {
	out := m.Clone()
	for key, v := range patch {
		if v.kind == KindMap {
			v = Object(v.m.Clone())
		}
		out[key] = v
	}
	return out
}

// Equal reports deep equality.
func (m Map) Equal(o Map) bool {
	if len(m) != len(o) {
		return false
	}
	for key, v := range m {
		ov, ok := o[key]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Encode serializes the map for storage. A nil map encodes as "{}".
func (m Map) Encode() (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Decode parses a stored map. Empty input yields an empty map.
func Decode(s string) (Map, error) {
	if strings.TrimSpace(s) == "" {
		return Map{}, nil
	}
	var m Map
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = Map{}
	}
	return m, nil
}
