package vm

import (
	"encoding/binary"
	"math"
)

// Word is the machine word: 32 bits, interpreted as unsigned, signed or
// floating point depending on context.
type Word = uint32

// TypeTag is the 2-bit scalar type selector embedded in ternary, MOV, NEG
// and NOT instructions.
type TypeTag byte

const (
	TypeI8  TypeTag = 0b00
	TypeI16 TypeTag = 0b01
	TypeI32 TypeTag = 0b10
	TypeF32 TypeTag = 0b11
)

func (t TypeTag) String() string {
	switch t {
	case TypeI8:
		return "b"
	case TypeI16:
		return "s"
	case TypeI32:
		return "i"
	case TypeF32:
		return "f"
	default:
		return "?type?"
	}
}

// Size returns the width in bytes of the scalar type.
func (t TypeTag) Size() Word {
	switch t {
	case TypeI8:
		return 1
	case TypeI16:
		return 2
	case TypeI32, TypeF32:
		return 4
	default:
		return 0
	}
}

// IsInteger is false only for TypeF32.
func (t TypeTag) IsInteger() bool {
	return t != TypeF32
}

// Cond is the 4-bit condition tag laid out as "<=>?": three comparison
// bits tested against zero plus an unused low bit, which the assembler
// always fixes at 0.
type Cond byte

const (
	CondNever Cond = 0b0000
	CondGT    Cond = 0b0010
	CondEQ    Cond = 0b0100
	CondGE    Cond = 0b0110
	CondLT    Cond = 0b1000
	CondNE    Cond = 0b1010
	CondLE    Cond = 0b1100
	CondAlway Cond = 0b1110
)

// Masked strips the unused low bit; any other bit pattern reaching a
// ternary-family instruction is a decode fault.
func (c Cond) Masked() Cond {
	return c & 0b1110
}

func (c Cond) String() string {
	switch c.Masked() {
	case CondNever:
		return "never"
	case CondGT:
		return ">"
	case CondEQ:
		return "=="
	case CondGE:
		return ">="
	case CondLT:
		return "<"
	case CondNE:
		return "!="
	case CondLE:
		return "<="
	case CondAlway:
		return "always"
	default:
		return "?cond?"
	}
}

// Test evaluates the condition against a signed comparison result: a
// negative value means "less than zero", zero means "equal", positive
// means "greater than zero".
func (c Cond) Test(sign int) bool {
	switch c.Masked() {
	case CondNever:
		return false
	case CondGT:
		return sign > 0
	case CondEQ:
		return sign == 0
	case CondGE:
		return sign >= 0
	case CondLT:
		return sign < 0
	case CondNE:
		return sign != 0
	case CondLE:
		return sign <= 0
	case CondAlway:
		return true
	default:
		return false
	}
}

// All multi-byte scalar access in the program image and both RAM regions
// is big-endian. i8 passes through unchanged; f32 is stored by
// reinterpreting its 32-bit pattern and byte-reversing the container
// around those bits, never the float value itself.

func readI8(b []byte) int8    { return int8(b[0]) }
func writeI8(b []byte, v int8) { b[0] = byte(v) }

func readI16(b []byte) int16 {
	return int16(binary.BigEndian.Uint16(b))
}

func writeI16(b []byte, v int16) {
	binary.BigEndian.PutUint16(b, uint16(v))
}

func readI32(b []byte) int32 {
	return int32(binary.BigEndian.Uint32(b))
}

func writeI32(b []byte, v int32) {
	binary.BigEndian.PutUint32(b, uint32(v))
}

func readU32(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}

func writeU32(b []byte, v uint32) {
	binary.BigEndian.PutUint32(b, v)
}

func readF32(b []byte) float32 {
	return math.Float32frombits(binary.BigEndian.Uint32(b))
}

func writeF32(b []byte, v float32) {
	binary.BigEndian.PutUint32(b, math.Float32bits(v))
}

// Scalar is a typed VM value: an i8/i16/i32 lives sign-extended in I, an
// f32 lives in F. Carrying the type tag alongside the value lets the
// execution engine's typed dispatch stay a single type switch per
// operation instead of four separate code paths per instruction.
type Scalar struct {
	Type TypeTag
	I    int32
	F    float32
}

// IntScalar builds an integer-typed Scalar, truncating v to the width of t.
func IntScalar(t TypeTag, v int32) Scalar {
	switch t {
	case TypeI8:
		return Scalar{Type: t, I: int32(int8(v))}
	case TypeI16:
		return Scalar{Type: t, I: int32(int16(v))}
	default:
		return Scalar{Type: t, I: v}
	}
}

// FloatScalar builds an f32-typed Scalar.
func FloatScalar(v float32) Scalar {
	return Scalar{Type: TypeF32, F: v}
}

// Sign returns -1/0/1 comparing the scalar against zero, which is all
// CMP and the conditional jump ever need.
func (s Scalar) Sign() int {
	if s.Type == TypeF32 {
		switch {
		case s.F < 0:
			return -1
		case s.F > 0:
			return 1
		default:
			return 0
		}
	}
	switch {
	case s.I < 0:
		return -1
	case s.I > 0:
		return 1
	default:
		return 0
	}
}

// ConvertTo converts a Scalar to a new type using host conversion
// semantics: integer<->integer truncates or sign-extends, integer<->float
// casts per Go's numeric conversion rules (float->int truncates toward
// zero; int->float rounds).
func (s Scalar) ConvertTo(dst TypeTag) Scalar {
	if dst == TypeF32 {
		if s.Type == TypeF32 {
			return s
		}
		return FloatScalar(float32(s.I))
	}
	if s.Type == TypeF32 {
		return IntScalar(dst, int32(s.F))
	}
	return IntScalar(dst, s.I)
}
