package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"unicode/utf16"
)

// Value is a sealed interface over the permitted field value types.
type Value interface {
	notifyValue()
}

// String is a string field value.
type String string

func (String) notifyValue() {}

// Int is a signed integer field value.
type Int int64

func (Int) notifyValue() {}

// Uint is an unsigned integer field value. Heights, intervals and indices use it.
type Uint uint64

func (Uint) notifyValue() {}

// Bool is a boolean field value.
type Bool bool

func (Bool) notifyValue() {}

// Fields maps field names to values. Use SortedKeys for deterministic iteration.
type Fields map[string]Value

func (Fields) notifyValue() {}

// SortedKeys returns keys in RFC 8785 order (UTF-16 code units).
func (f Fields) SortedKeys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

// compareUTF16 orders strings by UTF-16 code units. Plain string comparison
// orders by UTF-8 bytes, which differs for characters above U+FFFF.
func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	return slices.Compare(a16, b16)
}

// MarshalJSON writes the fields with sorted keys.
func (f Fields) MarshalJSON() ([]byte, error) {
	return MarshalCanonical(f)
}

// UnmarshalJSON decodes a JSON object. Non-negative integers decode as Uint,
// negative ones as Int.
func (f *Fields) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = make(Fields, len(raw))
	for k, v := range raw {
		val, err := decodeValue(v)
		if err != nil {
			return fmt.Errorf("field %q: %w", k, err)
		}
		(*f)[k] = val
	}
	return nil
}

func decodeValue(data json.RawMessage) (Value, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty JSON value")
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return String(s), nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return Bool(b), nil
	case '{':
		var f Fields
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, err
		}
		return f, nil
	case 'n':
		return nil, fmt.Errorf("null is not a valid field value")
	case '[':
		return nil, fmt.Errorf("arrays are not valid field values")
	}
	if u, err := strconv.ParseUint(string(data), 10, 64); err == nil {
		return Uint(u), nil
	}
	i, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("not an integer: %s", data)
	}
	return Int(i), nil
}
