package persist

import (
	"fmt"
	"math"
)

type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindBool
	KindUint8
	KindUint16
	KindUint32
	KindUint64
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindFloat
	KindDouble
	KindString
	KindBinary
)

var valueKindNames = [...]string{
	KindNull:   "null",
	KindBool:   "bool",
	KindUint8:  "uint8",
	KindUint16: "uint16",
	KindUint32: "uint32",
	KindUint64: "uint64",
	KindInt8:   "int8",
	KindInt16:  "int16",
	KindInt32:  "int32",
	KindInt64:  "int64",
	KindFloat:  "float",
	KindDouble: "double",
	KindString: "string",
	KindBinary: "binary",
}

func (k ValueKind) String() string {
	if int(k) < len(valueKindNames) {
		return valueKindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is one typed statement parameter.
type Value struct {
	kind ValueKind
	bits uint64
	str  string
	bin  []byte
}

func (v Value) Kind() ValueKind { return v.kind }

// Arg converts v to a database/sql argument. Unsigned 64-bit values are
// stored by bit pattern so the full range survives drivers that only take
// int64.
func (v Value) Arg() any {
	switch v.kind {
	case KindBool:
		return v.bits != 0
	case KindUint8, KindUint16, KindUint32, KindUint64, KindInt8, KindInt16, KindInt32, KindInt64:
		return int64(v.bits)
	case KindFloat:
		return float64(math.Float32frombits(uint32(v.bits)))
	case KindDouble:
		return math.Float64frombits(v.bits)
	case KindString:
		return v.str
	case KindBinary:
		return v.bin
	default:
		return nil
	}
}

func (v Value) String() string {
	if v.kind == KindNull {
		return "NULL"
	}
	return fmt.Sprintf("%s(%v)", v.kind, v.Arg())
}

func BoolValue(b bool) Value {
	var bits uint64
	if b {
		bits = 1
	}
	return Value{kind: KindBool, bits: bits}
}

func Uint8Value(u uint8) Value   { return Value{kind: KindUint8, bits: uint64(u)} }
func Uint16Value(u uint16) Value { return Value{kind: KindUint16, bits: uint64(u)} }
func Uint32Value(u uint32) Value { return Value{kind: KindUint32, bits: uint64(u)} }
func Uint64Value(u uint64) Value { return Value{kind: KindUint64, bits: u} }
func Int8Value(i int8) Value     { return Value{kind: KindInt8, bits: uint64(int64(i))} }
func Int16Value(i int16) Value   { return Value{kind: KindInt16, bits: uint64(int64(i))} }
func Int32Value(i int32) Value   { return Value{kind: KindInt32, bits: uint64(int64(i))} }
func Int64Value(i int64) Value   { return Value{kind: KindInt64, bits: uint64(i)} }
func FloatValue(f float32) Value { return Value{kind: KindFloat, bits: uint64(math.Float32bits(f))} }
func DoubleValue(f float64) Value {
	return Value{kind: KindDouble, bits: math.Float64bits(f)}
}
func StringValue(s string) Value { return Value{kind: KindString, str: s} }
func BinaryValue(b []byte) Value { return Value{kind: KindBinary, bin: b} }
func NullValue() Value           { return Value{} }
