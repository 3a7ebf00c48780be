package vm

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBigEndianRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(1))

	for i := 0; i < 200; i++ {
		buf := NewMemoryBuffer()
		buf.Resize(64)
		offset := Word(r.Intn(60))

		i8 := int8(r.Intn(256) - 128)
		buf.WriteI8(offset, i8)
		require.Equal(t, i8, buf.ReadI8(offset))

		i16 := int16(r.Intn(65536) - 32768)
		buf.WriteI16(offset, i16)
		require.Equal(t, i16, buf.ReadI16(offset))

		i32 := r.Int31() - r.Int31()
		buf.WriteI32(offset, i32)
		require.Equal(t, i32, buf.ReadI32(offset))

		u32 := r.Uint32()
		buf.WriteU32(offset, u32)
		require.Equal(t, u32, buf.ReadU32(offset))

		f32 := math.Float32frombits(r.Uint32())
		buf.WriteF32(offset, f32)
		got := buf.ReadF32(offset)
		if math.IsNaN(float64(f32)) {
			require.True(t, math.IsNaN(float64(got)))
		} else {
			require.Equal(t, f32, got)
		}
	}
}

func TestScalarSign(t *testing.T) {
	require.Equal(t, -1, IntScalar(TypeI32, -5).Sign())
	require.Equal(t, 0, IntScalar(TypeI32, 0).Sign())
	require.Equal(t, 1, IntScalar(TypeI32, 5).Sign())
	require.Equal(t, -1, FloatScalar(-0.5).Sign())
	require.Equal(t, 1, FloatScalar(0.5).Sign())
}

func TestScalarConvertTo(t *testing.T) {
	require.Equal(t, int32(int8(-1)), IntScalar(TypeI32, 0x1FF).ConvertTo(TypeI8).I)
	require.Equal(t, float32(42), IntScalar(TypeI32, 42).ConvertTo(TypeF32).F)
	require.Equal(t, int32(3), FloatScalar(3.9).ConvertTo(TypeI32).I)
	require.Equal(t, int32(-3), FloatScalar(-3.9).ConvertTo(TypeI32).I)
}

func TestCondTest(t *testing.T) {
	cases := []struct {
		cond Cond
		neg  bool
		zero bool
		pos  bool
	}{
		{CondNever, false, false, false},
		{CondGT, false, false, true},
		{CondEQ, false, true, false},
		{CondGE, false, true, true},
		{CondLT, true, false, false},
		{CondNE, true, false, true},
		{CondLE, true, true, false},
		{CondAlway, true, true, true},
	}
	for _, c := range cases {
		require.Equal(t, c.neg, c.cond.Test(-1), c.cond.String())
		require.Equal(t, c.zero, c.cond.Test(0), c.cond.String())
		require.Equal(t, c.pos, c.cond.Test(1), c.cond.String())
	}
}
