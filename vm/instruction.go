package vm

import "github.com/pkg/errors"

// Location is a 4-bit operand selector: the low 3 bits pick a register,
// the high bit marks indirection through that register's value as a
// RAM address.
type Location byte

// Reg returns the register index the location names, ignoring the
// indirect bit.
func (l Location) Reg() int { return int(l & 0b0111) }

// Indirect reports whether the location addresses RAM through its
// register rather than the register itself.
func (l Location) Indirect() bool { return l&0b1000 != 0 }

func (l Location) String() string {
	if l.Indirect() {
		if l.Reg() == SP {
			return "@sp"
		}
		return "@r" + string(rune('0'+l.Reg()))
	}
	if l.Reg() == SP {
		return "sp"
	}
	return "r" + string(rune('0'+l.Reg()))
}

// Ternary opcodes: top two bits of byte 1 are 0b11, low nibble holds
// this 4-bit operation code.
type TernaryOp byte

const (
	OpNop0 TernaryOp = 0b0000
	OpXor  TernaryOp = 0b0001
	OpOr   TernaryOp = 0b0010
	OpAnd  TernaryOp = 0b0011
	OpNop4 TernaryOp = 0b0100
	OpNop5 TernaryOp = 0b0101
	OpShl  TernaryOp = 0b0110
	OpShr  TernaryOp = 0b0111
	OpNop8 TernaryOp = 0b1000
	OpMul  TernaryOp = 0b1001
	OpAdd  TernaryOp = 0b1010
	OpSub  TernaryOp = 0b1011
	OpDiv  TernaryOp = 0b1100
	OpMod  TernaryOp = 0b1101
	OpCmp  TernaryOp = 0b1110
	OpJmp  TernaryOp = 0b1111
)

// isReservedFault reports whether op is one of the reserved ternary
// codes the source treats as an implicit no-op. Per spec.md's Redesign
// Flags, this rewrite is strict: only the true 0000 NOP opcode executes
// as a no-op; 0100, 0101 and 1000 decode-fault instead.
func isReservedFault(op TernaryOp) bool {
	switch op {
	case OpNop4, OpNop5, OpNop8:
		return true
	default:
		return false
	}
}

// integerOnly reports whether op is only defined for integer types.
func integerOnly(op TernaryOp) bool {
	switch op {
	case OpXor, OpOr, OpAnd, OpShl, OpShr:
		return true
	default:
		return false
	}
}

// TernaryInstruction is the decoded form of a 3-byte ternary instruction.
type TernaryInstruction struct {
	Op       TernaryOp
	Type     TypeTag
	Src1     Location
	Src2     Location
	Dst      Location
	CmpCond  Cond // valid only when Op == OpCmp or OpJmp
}

// DecodeTernary decodes the 3 bytes of a ternary-family instruction. b
// must already have its top two bits equal to 0b11.
func DecodeTernary(b []byte) (TernaryInstruction, error) {
	if len(b) < 3 {
		return TernaryInstruction{}, errors.Wrap(ErrDecodeFault, "truncated ternary instruction")
	}
	t := TypeTag((b[0] >> 4) & 0b11)
	op := TernaryOp(b[0] & 0b1111)
	if isReservedFault(op) {
		return TernaryInstruction{}, errors.Wrapf(ErrIllegalOperation, "reserved ternary opcode %04b", op)
	}
	if integerOnly(op) && !t.IsInteger() {
		return TernaryInstruction{}, errors.Wrapf(ErrIllegalOperation, "opcode %04b does not support type f32", op)
	}

	src1 := Location((b[1] >> 4) & 0b1111)
	dst := Location((b[2] >> 4) & 0b1111)

	inst := TernaryInstruction{Op: op, Type: t, Src1: src1, Dst: dst}
	switch op {
	case OpCmp, OpJmp:
		// B2's low nibble carries the condition, not a second source
		// location, for these two opcodes.
		inst.CmpCond = Cond(b[1] & 0b1111)
	default:
		inst.Src2 = Location(b[1] & 0b1111)
	}
	return inst, nil
}

// EncodeTernary writes the 3-byte form of inst to out, which must have
// length >= 3.
func EncodeTernary(out []byte, inst TernaryInstruction) {
	out[0] = 0b1100_0000 | byte(inst.Type)<<4 | byte(inst.Op)
	switch inst.Op {
	case OpCmp, OpJmp:
		out[1] = byte(inst.Src1)<<4 | byte(inst.CmpCond)
	default:
		out[1] = byte(inst.Src1)<<4 | byte(inst.Src2)
	}
	out[2] = byte(inst.Dst) << 4
}

// UnaryOp is the high nibble of byte 1 for any instruction whose top two
// bits are not 0b11.
type UnaryOp byte

const (
	OpMov     UnaryOp = 0b0000
	OpLod8    UnaryOp = 0b0001
	OpLod16   UnaryOp = 0b0010
	OpLod32   UnaryOp = 0b0011
	OpHalt    UnaryOp = 0b0100
	OpMemcpy  UnaryOp = 0b0101
	OpNew     UnaryOp = 0b0110
	OpDel     UnaryOp = 0b0111
	OpNeg     UnaryOp = 0b1000
	OpNot     UnaryOp = 0b1001
	OpInput   UnaryOp = 0b1010
	OpOutput  UnaryOp = 0b1011
)

// InstructionSize returns the total byte length of the instruction whose
// first byte is b, or an error if the first byte doesn't name a known
// family/opcode.
func InstructionSize(b byte) (Word, error) {
	if b&0b1100_0000 == 0b1100_0000 {
		return 3, nil
	}
	switch UnaryOp(b >> 4) {
	case OpMov:
		return 2, nil
	case OpLod8:
		return 2, nil
	case OpLod16:
		return 3, nil
	case OpLod32:
		return 5, nil
	case OpHalt:
		return 1, nil
	case OpMemcpy:
		return 2, nil
	case OpNew:
		return 2, nil
	case OpDel:
		return 1, nil
	case OpNeg:
		return 2, nil
	case OpNot:
		return 2, nil
	case OpInput:
		return 1, nil
	case OpOutput:
		return 1, nil
	default:
		return 0, errors.Wrapf(ErrUnknownOpcode, "byte 0x%02x", b)
	}
}
