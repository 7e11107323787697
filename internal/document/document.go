// Package document models the nested, schema-free configuration documents
// carried by inspection requests as a tagged variant type.
package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Value is one node of a document: a mapping, a sequence, or a scalar.
type Value interface {
	isValue()
}

// Mapping is an object node keyed by strings.
type Mapping map[string]Value

// Sequence is an ordered list node.
type Sequence []Value

// String is a string scalar.
type String string

// Int is an integer scalar. JSON numbers without a fractional part
// decode as Int so that round trips preserve them losslessly.
type Int int64

// Float is a floating point scalar.
type Float float64

// Bool is a boolean scalar.
type Bool bool

// Null is the JSON null scalar.
type Null struct{}

func (Mapping) isValue()  {}
func (Sequence) isValue() {}
func (String) isValue()   {}
func (Int) isValue()      {}
func (Float) isValue()    {}
func (Bool) isValue()     {}
func (Null) isValue()     {}

// MarshalJSON renders Null as the JSON null literal.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// Decode parses a JSON document into a Mapping. The top level must be an
// object; anything else is rejected.
func Decode(data []byte) (Mapping, error) {
	v, err := DecodeValue(data)
	if err != nil {
		return nil, err
	}
	m, ok := v.(Mapping)
	if !ok {
		return nil, fmt.Errorf("document root must be an object, got %T", v)
	}
	return m, nil
}

// DecodeValue parses a JSON value of any shape.
func DecodeValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return FromAny(raw)
}

// FromAny converts a decoded encoding/json value tree into a Value.
// Numbers are expected as json.Number so integers survive intact.
func FromAny(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null{}, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		if i, err := strconv.ParseInt(t.String(), 10, 64); err == nil {
			return Int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("parse number %q: %w", t.String(), err)
		}
		return Float(f), nil
	case float64:
		// Callers that decoded without UseNumber still work; integral
		// floats are normalized back to Int.
		if t == float64(int64(t)) {
			return Int(int64(t)), nil
		}
		return Float(t), nil
	case int:
		return Int(t), nil
	case int64:
		return Int(t), nil
	case map[string]any:
		m := make(Mapping, len(t))
		for k, child := range t {
			v, err := FromAny(child)
			if err != nil {
				return nil, err
			}
			m[k] = v
		}
		return m, nil
	case []any:
		s := make(Sequence, len(t))
		for i, child := range t {
			v, err := FromAny(child)
			if err != nil {
				return nil, err
			}
			s[i] = v
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported document value of type %T", raw)
	}
}

// Clone returns a deep copy of v.
func Clone(v Value) Value {
	switch t := v.(type) {
	case Mapping:
		cp := make(Mapping, len(t))
		for k, child := range t {
			cp[k] = Clone(child)
		}
		return cp
	case Sequence:
		cp := make(Sequence, len(t))
		for i, child := range t {
			cp[i] = Clone(child)
		}
		return cp
	default:
		// Scalars are immutable.
		return v
	}
}

// Copy returns a deep copy of the mapping.
func (m Mapping) Copy() Mapping {
	if m == nil {
		return nil
	}
	return Clone(m).(Mapping)
}

// MapStrings applies f to every string leaf, depth first, and returns the
// rewritten value. Mappings and sequences are updated in place; callers
// that must not alias the input should Clone first.
func MapStrings(v Value, f func(string) string) Value {
	switch t := v.(type) {
	case Mapping:
		for k, child := range t {
			t[k] = MapStrings(child, f)
		}
		return t
	case Sequence:
		for i, child := range t {
			t[i] = MapStrings(child, f)
		}
		return t
	case String:
		return String(f(string(t)))
	default:
		return v
	}
}

// ScalarString renders a scalar as its string form. It reports false for
// mappings, sequences and null.
func ScalarString(v Value) (string, bool) {
	switch t := v.(type) {
	case String:
		return string(t), true
	case Int:
		return strconv.FormatInt(int64(t), 10), true
	case Float:
		return strconv.FormatFloat(float64(t), 'f', -1, 64), true
	case Bool:
		return strconv.FormatBool(bool(t)), true
	default:
		return "", false
	}
}
