package vm

// NumRegisters is the size of the register file. Register 0 is SP by
// convention only; the ISA imposes no stack discipline on it.
const NumRegisters = 8

// SP names register 0.
const SP = 0

// RegisterFile holds eight machine words, each stored as four raw bytes
// so typed access goes through exactly the same big-endian conversion as
// RAM: a value written through one type and read back through another
// observes the same bit pattern whichever side of mov it sits on.
type RegisterFile struct {
	slots [NumRegisters][4]byte
}

// NewRegisterFile returns a zeroed register file.
func NewRegisterFile() *RegisterFile {
	return &RegisterFile{}
}

func (r *RegisterFile) checkIndex(index int) {
	if index < 0 || index >= NumRegisters {
		panic("register index out of range")
	}
}

// Raw returns the 4-byte backing slot for a register, for callers that
// need to address it directly (the indirect-location case in exec.go
// reads the register as an address rather than a typed scalar).
func (r *RegisterFile) Raw(index int) []byte {
	r.checkIndex(index)
	return r.slots[index][:]
}

// ReadU32 returns the register's bit pattern as an unsigned word,
// regardless of the type it was last written as — used to resolve an
// indirect location into a RAM address.
func (r *RegisterFile) ReadU32(index int) uint32 {
	return readU32(r.Raw(index))
}

// WriteU32 stores a raw word, bypassing type conversion.
func (r *RegisterFile) WriteU32(index int, v uint32) {
	writeU32(r.Raw(index), v)
}

// ReadScalar reads the register's slot as the given type.
func (r *RegisterFile) ReadScalar(index int, t TypeTag) Scalar {
	b := r.Raw(index)
	switch t {
	case TypeI8:
		return Scalar{Type: TypeI8, I: int32(readI8(b))}
	case TypeI16:
		return Scalar{Type: TypeI16, I: int32(readI16(b))}
	case TypeI32:
		return Scalar{Type: TypeI32, I: readI32(b)}
	case TypeF32:
		return Scalar{Type: TypeF32, F: readF32(b)}
	default:
		panic("unknown type tag")
	}
}

// WriteScalar stores v into the register's slot, writing only the bytes
// the type occupies and leaving the rest of the 4-byte slot untouched
// (an i8 write only ever touches one byte of the word).
func (r *RegisterFile) WriteScalar(index int, v Scalar) {
	b := r.Raw(index)
	switch v.Type {
	case TypeI8:
		writeI8(b[:1], int8(v.I))
	case TypeI16:
		writeI16(b[:2], int16(v.I))
	case TypeI32:
		writeI32(b[:4], v.I)
	case TypeF32:
		writeF32(b[:4], v.F)
	default:
		panic("unknown type tag")
	}
}
