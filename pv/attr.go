package pv

import (
	"fmt"
	"strconv"
)

// Datatype is the declared type of a camera attribute.
type Datatype int

// The attribute datatypes PvAPI can report.
const (
	DatatypeUnknown Datatype = iota
	DatatypeCommand
	DatatypeRaw
	DatatypeString
	DatatypeEnum
	DatatypeUint32
	DatatypeFloat32
	DatatypeInt64
	DatatypeBoolean
)

func (d Datatype) String() string {
	switch d {
	case DatatypeCommand:
		return "command"
	case DatatypeRaw:
		return "raw"
	case DatatypeString:
		return "string"
	case DatatypeEnum:
		return "enum"
	case DatatypeUint32:
		return "uint32"
	case DatatypeFloat32:
		return "float32"
	case DatatypeInt64:
		return "int64"
	case DatatypeBoolean:
		return "boolean"
	}
	return "unknown"
}

// Value is a tagged attribute value.  The control protocol deals in attribute
// name/value pairs with no compile time type, so the binding inspects the
// attribute's declared datatype and produces one of these.  The zero Value
// has kind DatatypeUnknown and carries nothing.
type Value struct {
	kind Datatype
	s    string
	u    uint32
	f    float32
	i    int64
	b    bool
}

// StringValue returns a Value of kind string.
func StringValue(s string) Value { return Value{kind: DatatypeString, s: s} }

// EnumValue returns a Value of kind enum.
func EnumValue(s string) Value { return Value{kind: DatatypeEnum, s: s} }

// Uint32Value returns a Value of kind uint32.
func Uint32Value(u uint32) Value { return Value{kind: DatatypeUint32, u: u} }

// Float32Value returns a Value of kind float32.
func Float32Value(f float32) Value { return Value{kind: DatatypeFloat32, f: f} }

// Int64Value returns a Value of kind int64.
func Int64Value(i int64) Value { return Value{kind: DatatypeInt64, i: i} }

// BoolValue returns a Value of kind boolean.
func BoolValue(b bool) Value { return Value{kind: DatatypeBoolean, b: b} }

// Kind returns the datatype the value carries.
func (v Value) Kind() Datatype { return v.kind }

// IsValid reports whether the value carries anything at all.
func (v Value) IsValid() bool { return v.kind != DatatypeUnknown }

// Str returns the string or enum payload.
func (v Value) Str() (string, bool) {
	return v.s, v.kind == DatatypeString || v.kind == DatatypeEnum
}

// Uint32 returns the uint32 payload.
func (v Value) Uint32() (uint32, bool) { return v.u, v.kind == DatatypeUint32 }

// Float32 returns the float32 payload.
func (v Value) Float32() (float32, bool) { return v.f, v.kind == DatatypeFloat32 }

// Int64 returns the int64 payload.
func (v Value) Int64() (int64, bool) { return v.i, v.kind == DatatypeInt64 }

// Bool returns the boolean payload.
func (v Value) Bool() (bool, bool) { return v.b, v.kind == DatatypeBoolean }

// Text renders the payload the way the control protocol transmits it.
func (v Value) Text() string {
	switch v.kind {
	case DatatypeString, DatatypeEnum:
		return v.s
	case DatatypeUint32:
		return strconv.FormatUint(uint64(v.u), 10)
	case DatatypeFloat32:
		return strconv.FormatFloat(float64(v.f), 'f', -1, 32)
	case DatatypeInt64:
		return strconv.FormatInt(v.i, 10)
	case DatatypeBoolean:
		if v.b {
			return "true"
		}
		return "false"
	}
	return ""
}

// ParseValue converts protocol text into a Value of the given declared
// datatype.  Datatypes without a value representation (commands, raw) and
// malformed text are errors; nothing is silently truncated.
func ParseValue(d Datatype, text string) (Value, error) {
	switch d {
	case DatatypeString:
		return StringValue(text), nil
	case DatatypeEnum:
		return EnumValue(text), nil
	case DatatypeUint32:
		u, err := strconv.ParseUint(text, 10, 32)
		if err != nil {
			return Value{}, fmt.Errorf("cannot parse %q as uint32", text)
		}
		return Uint32Value(uint32(u)), nil
	case DatatypeFloat32:
		f, err := strconv.ParseFloat(text, 32)
		if err != nil {
			return Value{}, fmt.Errorf("cannot parse %q as float32", text)
		}
		return Float32Value(float32(f)), nil
	case DatatypeInt64:
		i, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("cannot parse %q as int64", text)
		}
		return Int64Value(i), nil
	case DatatypeBoolean:
		switch text {
		case "true", "1":
			return BoolValue(true), nil
		case "false", "0":
			return BoolValue(false), nil
		}
		return Value{}, fmt.Errorf("cannot parse %q as boolean", text)
	}
	return Value{}, fmt.Errorf("attribute datatype %s has no value representation", d)
}
