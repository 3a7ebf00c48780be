package vm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeTernaryRoundTrip(t *testing.T) {
	inst := TernaryInstruction{Op: OpAdd, Type: TypeI32, Src1: Location(2), Src2: Location(3), Dst: Location(1)}
	b := make([]byte, 3)
	EncodeTernary(b, inst)

	require.Equal(t, []byte{0b11101010, 0b00100011, 0b00010000}, b)

	got, err := DecodeTernary(b)
	require.NoError(t, err)
	require.Equal(t, inst, got)
}

func TestEncodeDecodeCmpRoundTrip(t *testing.T) {
	inst := TernaryInstruction{Op: OpCmp, Type: TypeI8, Src1: Location(0b1010), Dst: Location(4), CmpCond: CondGE}
	b := make([]byte, 3)
	EncodeTernary(b, inst)

	got, err := DecodeTernary(b)
	require.NoError(t, err)
	require.Equal(t, inst, got)
}

func TestDecodeTernaryRejectsReservedOpcodes(t *testing.T) {
	for _, op := range []TernaryOp{OpNop4, OpNop5, OpNop8} {
		b := []byte{0b1100_0000 | byte(op), 0, 0}
		_, err := DecodeTernary(b)
		require.ErrorIs(t, err, ErrIllegalOperation)
	}
}

func TestDecodeTernaryAcceptsNop(t *testing.T) {
	b := []byte{0b1100_0000 | byte(OpNop0), 0, 0}
	inst, err := DecodeTernary(b)
	require.NoError(t, err)
	require.Equal(t, OpNop0, inst.Op)
}

func TestDecodeTernaryRejectsFloatBitwise(t *testing.T) {
	for _, op := range []TernaryOp{OpXor, OpOr, OpAnd, OpShl, OpShr} {
		b := []byte{0b1100_0000 | byte(TypeF32)<<4 | byte(op), 0, 0}
		_, err := DecodeTernary(b)
		require.ErrorIs(t, err, ErrIllegalOperation)
	}
}

func TestLocationEncoding(t *testing.T) {
	require.Equal(t, 3, Location(0b0011).Reg())
	require.False(t, Location(0b0011).Indirect())
	require.Equal(t, 3, Location(0b1011).Reg())
	require.True(t, Location(0b1011).Indirect())
}

func TestInstructionSizes(t *testing.T) {
	cases := map[byte]Word{
		0b1100_0000: 3, // ternary family
		0x00:        2, // mov
		0x10:        2, // lod8
		0x20:        3, // lod16
		0x30:        5, // lod32
		0x40:        1, // halt
		0x50:        2, // memcpy
		0x60:        2, // new
		0x70:        1, // del
		0x80:        2, // neg
		0x90:        2, // not
		0xA0:        1, // input
		0xB0:        1, // output
	}
	for b, want := range cases {
		got, err := InstructionSize(b)
		require.NoError(t, err)
		require.Equal(t, want, got, "byte 0x%02x", b)
	}
}
