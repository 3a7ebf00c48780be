package vm

import (
	"math"

	"github.com/pkg/errors"
)

// execNext fetches the instruction at v.IP, advances IP past it, and
// executes it. A panic raised by an out-of-range memory access anywhere
// below this call (register file, RAM, program image) is recovered here
// and turned into ErrSegmentationFault, since Go has no separate
// release build to compile bounds checks out of.
func (v *VM) execNext() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(ErrSegmentationFault, "%v", r)
		}
	}()

	if v.IP >= Word(len(v.Program)) {
		return ErrProgramFinished
	}
	b0 := v.Program[v.IP]

	if b0&0b1100_0000 == 0b1100_0000 {
		return v.execTernary()
	}
	return v.execUnary()
}

func (v *VM) fetch(n Word) []byte {
	if v.IP+n > Word(len(v.Program)) {
		panic("instruction fetch past end of program image")
	}
	return v.Program[v.IP : v.IP+n]
}

func (v *VM) execTernary() error {
	raw := v.fetch(3)
	inst, err := DecodeTernary(raw)
	if err != nil {
		return err
	}
	v.IP += 3

	switch inst.Op {
	case OpNop0:
		return nil

	case OpCmp:
		src, err := v.readLocation(inst.Src1, inst.Type)
		if err != nil {
			return err
		}
		result := int8(0)
		if inst.CmpCond.Test(src.Sign()) {
			result = 1
		}
		return v.writeLocation(inst.Dst, Scalar{Type: TypeI8, I: int32(result)})

	case OpJmp:
		src, err := v.readLocation(inst.Src1, inst.Type)
		if err != nil {
			return err
		}
		if !inst.CmpCond.Test(src.Sign()) {
			return nil
		}
		target, err := v.readLocation(inst.Dst, TypeI32)
		if err != nil {
			return err
		}
		v.IP = uint32(target.I)
		return nil

	default:
		a, err := v.readLocation(inst.Src1, inst.Type)
		if err != nil {
			return err
		}
		b, err := v.readLocation(inst.Src2, inst.Type)
		if err != nil {
			return err
		}
		result, err := applyBinaryOp(inst.Op, inst.Type, a, b)
		if err != nil {
			return err
		}
		return v.writeLocation(inst.Dst, result)
	}
}

func applyBinaryOp(op TernaryOp, t TypeTag, a, b Scalar) (Scalar, error) {
	if t == TypeF32 {
		x, y := a.F, b.F
		switch op {
		case OpMul:
			return FloatScalar(x * y), nil
		case OpAdd:
			return FloatScalar(x + y), nil
		case OpSub:
			return FloatScalar(x - y), nil
		case OpDiv:
			return FloatScalar(x / y), nil
		case OpMod:
			return FloatScalar(euclidModF(x, y)), nil
		default:
			return Scalar{}, errors.Wrapf(ErrIllegalOperation, "opcode %04b has no float form", op)
		}
	}

	x, y := a.I, b.I
	switch op {
	case OpXor:
		return IntScalar(t, x^y), nil
	case OpOr:
		return IntScalar(t, x|y), nil
	case OpAnd:
		return IntScalar(t, x&y), nil
	case OpShl:
		return IntScalar(t, x<<uint32(y)), nil
	case OpShr:
		return IntScalar(t, x>>uint32(y)), nil
	case OpMul:
		return IntScalar(t, x*y), nil
	case OpAdd:
		return IntScalar(t, x+y), nil
	case OpSub:
		return IntScalar(t, x-y), nil
	case OpDiv:
		if y == 0 {
			return Scalar{}, errors.Wrap(ErrIllegalOperation, "integer division by zero")
		}
		return IntScalar(t, x/y), nil
	case OpMod:
		if y == 0 {
			return Scalar{}, errors.Wrap(ErrIllegalOperation, "modulo by zero")
		}
		return IntScalar(t, euclidMod(x, y)), nil
	default:
		return Scalar{}, errors.Wrapf(ErrUnknownOpcode, "ternary opcode %04b", op)
	}
}

// euclidMod applies spec.md §4.6's formula directly: ((x mod m) + m) mod m,
// with mod the host's truncated-toward-zero %.
func euclidMod(x, m int32) int32 {
	return (x%m + m) % m
}

func euclidModF(x, m float32) float32 {
	r := float32(math.Mod(float64(x), float64(m)))
	return float32(math.Mod(float64(r+m), float64(m)))
}

func (v *VM) execUnary() error {
	b0 := v.fetch(1)[0]
	op := UnaryOp(b0 >> 4)
	lowNibble := b0 & 0b1111

	switch op {
	case OpMov:
		b := v.fetch(2)
		srcType := TypeTag((lowNibble >> 2) & 0b11)
		dstType := TypeTag(lowNibble & 0b11)
		srcLoc := Location(b[1] >> 4)
		dstLoc := Location(b[1] & 0b1111)
		v.IP += 2
		src, err := v.readLocation(srcLoc, srcType)
		if err != nil {
			return err
		}
		return v.writeLocation(dstLoc, src.ConvertTo(dstType))

	case OpLod8:
		dstLoc := Location(lowNibble)
		b := v.fetch(2)
		imm := int8(b[1])
		v.IP += 2
		return v.writeLocation(dstLoc, IntScalar(TypeI8, int32(imm)))

	case OpLod16:
		dstLoc := Location(lowNibble)
		b := v.fetch(3)
		imm := readI16(b[1:3])
		v.IP += 3
		return v.writeLocation(dstLoc, IntScalar(TypeI16, int32(imm)))

	case OpLod32:
		dstLoc := Location(lowNibble)
		b := v.fetch(5)
		imm := readI32(b[1:5])
		v.IP += 5
		return v.writeLocation(dstLoc, IntScalar(TypeI32, imm))

	case OpHalt:
		v.IP++
		return errProgramHalted

	case OpMemcpy:
		sizeLoc := Location(lowNibble)
		b := v.fetch(2)
		srcLoc := Location(b[1] >> 4)
		dstLoc := Location(b[1] & 0b1111)
		v.IP += 2

		size, err := v.readLocation(sizeLoc, TypeI32)
		if err != nil {
			return err
		}
		src, err := v.readLocation(srcLoc, TypeI32)
		if err != nil {
			return err
		}
		dst, err := v.readLocation(dstLoc, TypeI32)
		if err != nil {
			return err
		}
		return v.RAM.Memcpy(uint32(dst.I), uint32(src.I), uint32(size.I))

	case OpNew:
		b := v.fetch(2)
		sizeLoc := Location(b[1] >> 4)
		dstLoc := Location(b[1] & 0b1111)
		v.IP += 2

		size, err := v.readLocation(sizeLoc, TypeI32)
		if err != nil {
			return err
		}
		ptr, err := v.RAM.Allocate(uint32(size.I))
		if err != nil {
			return err
		}
		return v.writeLocation(dstLoc, IntScalar(TypeI32, int32(ptr)))

	case OpDel:
		srcLoc := Location(lowNibble)
		v.IP++
		ptr, err := v.readLocation(srcLoc, TypeI32)
		if err != nil {
			return err
		}
		return v.RAM.Deallocate(uint32(ptr.I))

	case OpNeg:
		t := TypeTag((lowNibble >> 2) & 0b11)
		b := v.fetch(2)
		srcLoc := Location(b[1] >> 4)
		dstLoc := Location(b[1] & 0b1111)
		v.IP += 2
		src, err := v.readLocation(srcLoc, t)
		if err != nil {
			return err
		}
		if t == TypeF32 {
			return v.writeLocation(dstLoc, FloatScalar(-src.F))
		}
		return v.writeLocation(dstLoc, IntScalar(t, -src.I))

	case OpNot:
		t := TypeTag((lowNibble >> 2) & 0b11)
		if !t.IsInteger() {
			return errors.Wrap(ErrIllegalOperation, "not does not support type f32")
		}
		b := v.fetch(2)
		srcLoc := Location(b[1] >> 4)
		dstLoc := Location(b[1] & 0b1111)
		v.IP += 2
		src, err := v.readLocation(srcLoc, t)
		if err != nil {
			return err
		}
		return v.writeLocation(dstLoc, IntScalar(t, ^src.I))

	case OpInput:
		dstLoc := Location(lowNibble)
		v.IP++
		n, err := v.io.ReadInteger()
		if err != nil {
			return errors.Wrap(ErrIO, err.Error())
		}
		return v.writeLocation(dstLoc, IntScalar(TypeI32, n))

	case OpOutput:
		srcLoc := Location(lowNibble)
		v.IP++
		src, err := v.readLocation(srcLoc, TypeI32)
		if err != nil {
			return err
		}
		v.io.PrintInteger(src.I)
		return nil

	default:
		return errors.Wrapf(ErrUnknownOpcode, "byte 0x%02x", b0)
	}
}

// readLocation reads a typed scalar from a register or, for an indirect
// location, from RAM at the address held in that register.
func (v *VM) readLocation(loc Location, t TypeTag) (Scalar, error) {
	if loc.Indirect() {
		addr := v.Regs.ReadU32(loc.Reg())
		return v.RAM.ReadAt(addr, t)
	}
	return v.Regs.ReadScalar(loc.Reg(), t), nil
}

// writeLocation writes a typed scalar to a register or, for an indirect
// location, to RAM at the address held in that register.
func (v *VM) writeLocation(loc Location, val Scalar) error {
	if loc.Indirect() {
		addr := v.Regs.ReadU32(loc.Reg())
		return v.RAM.WriteAt(addr, val)
	}
	v.Regs.WriteScalar(loc.Reg(), val)
	return nil
}
