package model

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// Format is the declared type of an attribute. It drives comparison
// semantics and is never inferred from the runtime value.
type Format int

const (
	FormatString Format = iota
	FormatXML
	FormatGeometry
	FormatBoolean
	FormatDate
	FormatShort
	FormatInteger
	FormatLong
	FormatFloat
	FormatDouble
	FormatBinary
	FormatObject
)

var formatNames = [...]string{
	FormatString:   "STRING",
	FormatXML:      "XML",
	FormatGeometry: "GEOMETRY",
	FormatBoolean:  "BOOLEAN",
	FormatDate:     "DATE",
	FormatShort:    "SHORT",
	FormatInteger:  "INTEGER",
	FormatLong:     "LONG",
	FormatFloat:    "FLOAT",
	FormatDouble:   "DOUBLE",
	FormatBinary:   "BINARY",
	FormatObject:   "OBJECT",
}

func (f Format) String() string {
	if f < 0 || int(f) >= len(formatNames) {
		return fmt.Sprintf("Format(%d)", int(f))
	}
	return formatNames[f]
}

func ParseFormat(s string) (Format, error) {
	up := strings.ToUpper(strings.TrimSpace(s))
	for i, n := range formatNames {
		if n == up {
			return Format(i), nil
		}
	}
	return 0, fmt.Errorf("unknown attribute format %q", s)
}

func (f Format) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

func (f *Format) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("format must be a string: %w", err)
	}
	v, err := ParseFormat(s)
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// Attribute is a named, typed value on an entry.
type Attribute struct {
	Name   string `json:"name"`
	Format Format `json:"format"`
	Value  any    `json:"value"`
}

// UnmarshalJSON coerces the raw value into the Go type of the declared format
// (int16, int32, int64, float32, float64, bool, time.Time, string, []byte).
func (a *Attribute) UnmarshalJSON(b []byte) error {
	var raw struct {
		Name   string          `json:"name"`
		Format Format          `json:"format"`
		Value  json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("parse attribute: %w", err)
	}
	a.Name = raw.Name
	a.Format = raw.Format
	a.Value = nil
	if len(raw.Value) == 0 || string(raw.Value) == "null" {
		return nil
	}
	v, err := decodeValue(raw.Format, raw.Value)
	if err != nil {
		return fmt.Errorf("attribute %q (%s): %w", raw.Name, raw.Format, err)
	}
	a.Value = v
	return nil
}

func decodeValue(f Format, raw json.RawMessage) (any, error) {
	switch f {
	case FormatString, FormatXML, FormatGeometry:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode string: %w", err)
		}
		return s, nil
	case FormatBoolean:
		var v bool
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode bool: %w", err)
		}
		return v, nil
	case FormatDate:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode date: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("decode date: %w", err)
		}
		return t, nil
	case FormatShort, FormatInteger, FormatLong:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("decode integer: %w", err)
		}
		i, err := n.Int64()
		if err != nil {
			return nil, fmt.Errorf("decode integer: %w", err)
		}
		switch f {
		case FormatShort:
			if i < math.MinInt16 || i > math.MaxInt16 {
				return nil, fmt.Errorf("value %d out of range for SHORT", i)
			}
			return int16(i), nil
		case FormatInteger:
			if i < math.MinInt32 || i > math.MaxInt32 {
				return nil, fmt.Errorf("value %d out of range for INTEGER", i)
			}
			return int32(i), nil
		default:
			return i, nil
		}
	case FormatFloat, FormatDouble:
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode number: %w", err)
		}
		if f == FormatFloat {
			return float32(v), nil
		}
		return v, nil
	case FormatBinary:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode binary: %w", err)
		}
		data, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("decode binary: %w", err)
		}
		return data, nil
	default:
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode object: %w", err)
		}
		return v, nil
	}
}
