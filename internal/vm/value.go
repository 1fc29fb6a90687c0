package vm

import "fmt"

// ValueType names a Wasm numeric type. Values match the Wasm binary
// encoding so a future real decoder can hand them through unchanged.
type ValueType byte

const (
	ValueTypeI32 ValueType = 0x7f
	ValueTypeI64 ValueType = 0x7e
	ValueTypeF32 ValueType = 0x7d
	ValueTypeF64 ValueType = 0x7c
)

// ValueTypeName returns the Wasm text-format name of t, or "unknown".
func ValueTypeName(t ValueType) string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	default:
		return "unknown"
	}
}

// Value is a single Wasm value of known type, spec.md's WasmValue. The zero
// Value is not meaningful on its own; always construct one via the I32/I64/
// F32/F64 helpers.
type Value struct {
	typ ValueType
	bits uint64
}

func I32(v uint32) Value { return Value{typ: ValueTypeI32, bits: uint64(v)} }
func I64(v uint64) Value { return Value{typ: ValueTypeI64, bits: v} }
func F32(v float32) Value {
	return Value{typ: ValueTypeF32, bits: uint64(f32bits(v))}
}
func F64(v float64) Value {
	return Value{typ: ValueTypeF64, bits: f64bits(v)}
}

// Type reports the Value's ValueType.
func (v Value) Type() ValueType { return v.typ }

// I32 returns the value reinterpreted as a uint32. Panics if Type() != ValueTypeI32.
func (v Value) I32() uint32 {
	v.mustBe(ValueTypeI32)
	return uint32(v.bits)
}

// I64 returns the value reinterpreted as a uint64. Panics if Type() != ValueTypeI64.
func (v Value) I64() uint64 {
	v.mustBe(ValueTypeI64)
	return v.bits
}

// F32 returns the value reinterpreted as a float32. Panics if Type() != ValueTypeF32.
func (v Value) F32() float32 {
	v.mustBe(ValueTypeF32)
	return f32frombits(uint32(v.bits))
}

// F64 returns the value reinterpreted as a float64. Panics if Type() != ValueTypeF64.
func (v Value) F64() float64 {
	v.mustBe(ValueTypeF64)
	return f64frombits(v.bits)
}

// Bits returns the raw 64-bit representation of the value, used by the
// interpreter's operand stack which is untyped.
func (v Value) Bits() uint64 { return v.bits }

func (v Value) mustBe(t ValueType) {
	if v.typ != t {
		panic(fmt.Sprintf("vm: value is %s, not %s", ValueTypeName(v.typ), ValueTypeName(t)))
	}
}

func (v Value) String() string {
	switch v.typ {
	case ValueTypeI32:
		return fmt.Sprintf("i32:%d", v.I32())
	case ValueTypeI64:
		return fmt.Sprintf("i64:%d", v.I64())
	case ValueTypeF32:
		return fmt.Sprintf("f32:%v", v.F32())
	case ValueTypeF64:
		return fmt.Sprintf("f64:%v", v.F64())
	default:
		return "invalid"
	}
}

// ValueFromRaw reconstructs a Value from a stack-style (type, bits) pair,
// used when the interpreter pops a typed result off its untyped stack.
func ValueFromRaw(t ValueType, bits uint64) Value {
	return Value{typ: t, bits: bits}
}
