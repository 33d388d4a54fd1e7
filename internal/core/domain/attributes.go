package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// ValueKind tags the scalar held by a Value.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	}
	return "null"
}

// Value is a provider-defined attribute scalar.
type Value struct {
	Kind ValueKind
	str  string // string value, or the literal text of a number
	num  float64
	b    bool
}

func Null() Value           { return Value{Kind: KindNull} }
func String(s string) Value { return Value{Kind: KindString, str: s} }
func Bool(b bool) Value     { return Value{Kind: KindBool, b: b} }

func Number(f float64) Value {
	return Value{Kind: KindNumber, num: f, str: strconv.FormatFloat(f, 'f', -1, 64)}
}

// NumberLiteral keeps the number's source text so large integers such as
// OBJECTIDs render exactly as the provider sent them.
func NumberLiteral(n json.Number) (Value, error) {
	f, err := n.Float64()
	if err != nil {
		return Value{}, err
	}
	return Value{Kind: KindNumber, num: f, str: n.String()}, nil
}

func (v Value) IsNull() bool { return v.Kind == KindNull }

// Float returns the numeric value and whether the Value is a number.
func (v Value) Float() (float64, bool) { return v.num, v.Kind == KindNumber }

// Text renders the value for display. Null renders as an empty string.
func (v Value) Text() string {
	switch v.Kind {
	case KindString, KindNumber:
		return v.str
	case KindBool:
		return strconv.FormatBool(v.b)
	}
	return ""
}

// MarshalJSON encodes the value as its JSON scalar.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return []byte(v.str), nil
	case KindBool:
		return json.Marshal(v.b)
	}
	return []byte("null"), nil
}

// UnmarshalJSON decodes a JSON scalar. Objects and arrays are kept as their
// compact JSON text.
func (v *Value) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	switch t := tok.(type) {
	case nil:
		*v = Null()
	case string:
		*v = String(t)
	case bool:
		*v = Bool(t)
	case json.Number:
		nv, err := NumberLiteral(t)
		if err != nil {
			return err
		}
		*v = nv
	default:
		var buf bytes.Buffer
		if err := json.Compact(&buf, b); err != nil {
			return err
		}
		*v = String(buf.String())
	}
	return nil
}

// Attribute is one named field of a feature.
type Attribute struct {
	Key   string
	Value Value
}

// Attributes is an ordered field mapping. Order follows the provider's
// response.
type Attributes struct {
	fields []Attribute
	index  map[string]int
}

// NewAttributes returns an empty mapping.
func NewAttributes() *Attributes {
	return &Attributes{index: make(map[string]int)}
}

// Set inserts or replaces key, keeping the first insertion position.
func (a *Attributes) Set(key string, v Value) {
	if a.index == nil {
		a.index = make(map[string]int)
	}
	if i, ok := a.index[key]; ok {
		a.fields[i].Value = v
		return
	}
	a.index[key] = len(a.fields)
	a.fields = append(a.fields, Attribute{Key: key, Value: v})
}

// Get looks up key.
func (a *Attributes) Get(key string) (Value, bool) {
	if a == nil {
		return Value{}, false
	}
	i, ok := a.index[key]
	if !ok {
		return Value{}, false
	}
	return a.fields[i].Value, true
}

// Len returns the number of fields.
func (a *Attributes) Len() int {
	if a == nil {
		return 0
	}
	return len(a.fields)
}

// Fields returns the fields in order. The slice must not be modified.
func (a *Attributes) Fields() []Attribute {
	if a == nil {
		return nil
	}
	return a.fields
}

// Keys returns the field names in order.
func (a *Attributes) Keys() []string {
	keys := make([]string, 0, a.Len())
	for _, f := range a.Fields() {
		keys = append(keys, f.Key)
	}
	return keys
}

// MarshalJSON writes the fields as a JSON object in insertion order.
func (a *Attributes) MarshalJSON() ([]byte, error) {
	if a == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range a.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := f.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object keeping key order.
func (a *Attributes) UnmarshalJSON(b []byte) error {
	parsed, err := ParseAttributesJSON(b)
	if err != nil {
		return err
	}
	if parsed == nil {
		*a = Attributes{}
		return nil
	}
	*a = *parsed
	return nil
}

// ParseAttributesJSON decodes a JSON object into ordered attributes.
// A JSON null yields nil.
func ParseAttributesJSON(raw []byte) (*Attributes, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("read attributes: %w", err)
	}
	if tok == nil {
		return nil, nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("attributes: expected object, got %v", tok)
	}

	attrs := NewAttributes()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("read attribute key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("attributes: unexpected key %v", keyTok)
		}
		var rawVal json.RawMessage
		if err := dec.Decode(&rawVal); err != nil {
			return nil, fmt.Errorf("read attribute %q: %w", key, err)
		}
		var v Value
		if err := v.UnmarshalJSON(rawVal); err != nil {
			return nil, fmt.Errorf("attribute %q: %w", key, err)
		}
		attrs.Set(key, v)
	}
	if _, err := dec.Token(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("close attributes: %w", err)
	}
	return attrs, nil
}
