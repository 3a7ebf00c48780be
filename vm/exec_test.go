package vm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// testIO is a scripted IOHooks: reads come off a fixed queue, writes are
// captured in order, for assertions against spec.md §8's scenarios.
type testIO struct {
	inputs  []int32
	idx     int
	outputs []int32
}

func (io *testIO) hooks() IOHooks {
	return IOHooks{
		ReadInteger: func() (int32, error) {
			v := io.inputs[io.idx]
			io.idx++
			return v, nil
		},
		PrintInteger: func(v int32) {
			io.outputs = append(io.outputs, v)
		},
	}
}

func assembleAndRun(t *testing.T, src string, io IOHooks) *VM {
	t.Helper()
	image, diags, err := Assemble(src)
	require.NoError(t, err)
	require.Empty(t, diags)

	m := New(0, io)
	m.LoadProgram(image)
	err = m.RunProgram()
	require.NoError(t, err)
	require.Equal(t, Done, m.State())
	return m
}

func TestArithmeticAllTypes(t *testing.T) {
	cases := []struct {
		name string
		ty   string
		op   string
		a, b string
		want int32
	}{
		{"add-i8", "b", "add", "3", "4", 7},
		{"sub-i16", "s", "sub", "10", "4", 6},
		{"mul-i32", "i", "mul", "6", "7", 42},
		{"div-i32", "i", "div", "84", "2", 42},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			src := "lod r1 <- " + c.ty + " " + c.a + "\n" +
				"lod r2 <- " + c.ty + " " + c.b + "\n" +
				c.op + " " + c.ty + " r3 <- r1 ; r2\n" +
				"mov i r3 <- " + c.ty + " r3\n" +
				"output <- r3\n" +
				"halt\n"
			io := &testIO{}
			m := assembleAndRun(t, src, io.hooks())
			require.Equal(t, []int32{c.want}, io.outputs)
			_ = m
		})
	}
}

func TestArithmeticFloat(t *testing.T) {
	src := "lod r1 <- f 1.5\n" +
		"lod r2 <- f 2.5\n" +
		"add f r3 <- r1 ; r2\n" +
		"mov i r3 <- f r3\n" +
		"output <- r3\n" +
		"halt\n"
	io := &testIO{}
	assembleAndRun(t, src, io.hooks())
	require.Equal(t, []int32{4}, io.outputs)
}

func TestEuclideanMod(t *testing.T) {
	// Positive modulus always yields a non-negative result; negative
	// modulus follows spec.md §4.6's formula ((x mod m) + m) mod m
	// literally, which is not itself sign-normalized.
	cases := []struct {
		x, m, want int32
	}{
		{7, 3, 1},
		{-7, 3, 2},
		{7, -3, -2},
		{-7, -3, -1},
	}
	for _, c := range cases {
		src := "lod r1 <- i " + itoa(c.x) + "\n" +
			"lod r2 <- i " + itoa(c.m) + "\n" +
			"mod i r3 <- r1 ; r2\n" +
			"output <- r3\n" +
			"halt\n"
		io := &testIO{}
		assembleAndRun(t, src, io.hooks())
		require.Equal(t, []int32{c.want}, io.outputs, "mod(%d,%d)", c.x, c.m)
	}
}

func itoa(v int32) string {
	if v < 0 {
		return "-" + itoa(-v)
	}
	if v == 0 {
		return "0"
	}
	digits := []byte{}
	for v > 0 {
		digits = append([]byte{byte('0' + v%10)}, digits...)
		v /= 10
	}
	return string(digits)
}

func TestDivisionByZeroFaults(t *testing.T) {
	src := "lod r1 <- i 1\n" +
		"lod r2 <- i 0\n" +
		"div i r3 <- r1 ; r2\n" +
		"halt\n"
	image := assembleOK(t, src)
	m := New(0, IOHooks{})
	m.LoadProgram(image)
	err := m.RunProgram()
	require.Error(t, err)
	require.ErrorIs(t, err, ErrIllegalOperation)
	require.Equal(t, Faulted, m.State())
}

func TestJumpAlwaysRetargets(t *testing.T) {
	src := "lod r2 <- TARGET\n" +
		"jmp r2 always\n" +
		"lod r1 <- i 1\n" +
		"output <- r1\n" +
		"halt\n" +
		"TARGET:\n" +
		"lod r1 <- i 2\n" +
		"output <- r1\n" +
		"halt\n"
	io := &testIO{}
	assembleAndRun(t, src, io.hooks())
	require.Equal(t, []int32{2}, io.outputs)
}

func TestConditionalJumpAllComparisons(t *testing.T) {
	conds := []struct {
		sym         string
		takenAtNeg  bool
		takenAtZero bool
		takenAtPos  bool
	}{
		{">", false, false, true},
		{"==", false, true, false},
		{">=", false, true, true},
		{"<", true, false, false},
		{"!=", true, false, true},
		{"<=", true, true, false},
	}

	run := func(value int32, sym string) bool {
		src := "lod r1 <- i " + itoa(value) + "\n" +
			"lod r3 <- TARGET\n" +
			"jmp r3 if i r1 " + sym + "\n" +
			"lod r2 <- i 0\n" +
			"output <- r2\n" +
			"halt\n" +
			"TARGET:\n" +
			"lod r2 <- i 1\n" +
			"output <- r2\n" +
			"halt\n"
		io := &testIO{}
		assembleAndRun(t, src, io.hooks())
		return io.outputs[0] == 1
	}

	for _, c := range conds {
		require.Equal(t, c.takenAtNeg, run(-1, c.sym), "cond %s at -1", c.sym)
		require.Equal(t, c.takenAtZero, run(0, c.sym), "cond %s at 0", c.sym)
		require.Equal(t, c.takenAtPos, run(1, c.sym), "cond %s at 1", c.sym)
	}
}

func TestMovConvertsTypes(t *testing.T) {
	src := "lod r1 <- i -1\n" +
		"mov b r2 <- i r1\n" +
		"mov i r3 <- b r2\n" +
		"output <- r3\n" +
		"halt\n"
	io := &testIO{}
	assembleAndRun(t, src, io.hooks())
	require.Equal(t, []int32{-1}, io.outputs)
}

func TestHeapBasics(t *testing.T) {
	src := "lod r2 <- i 20\n" +
		"new r1 <- r2\n" +
		"lod @r1 <- i 0xDEADBEEF\n" +
		"output <- @r1\n" +
		"del r1\n" +
		"halt\n"
	io := &testIO{}
	m := assembleAndRun(t, src, io.hooks())
	var bits uint32 = 0xDEADBEEF
	require.Equal(t, []int32{int32(bits)}, io.outputs)
	_ = m
}

func TestMemcpyOverlap(t *testing.T) {
	m := New(0, IOHooks{})
	for i := Word(0); i < 10; i++ {
		require.NoError(t, m.RAM.WriteAt(i, IntScalar(TypeI8, int32(i))))
	}
	require.NoError(t, m.RAM.Memcpy(2, 0, 8))

	want := []int32{0, 1, 0, 1, 2, 3, 4, 5, 6, 7}
	for i, w := range want {
		v, err := m.RAM.ReadAt(Word(i), TypeI8)
		require.NoError(t, err)
		require.Equal(t, int32(w), v.I)
	}
}

func TestCollatz(t *testing.T) {
	// r1 holds n; r2/r3 are scratch; r4 is reloaded with a jump target
	// before every jmp since the ISA jumps to an address held in a
	// register, not to a label directly.
	src := `
input <- r1
LOOP:
output <- r1
lod r3 <- i 1
sub i r2 <- r1 ; r3
lod r4 <- DONE
jmp r4 if i r2 ==
lod r3 <- i 2
mod i r2 <- r1 ; r3
lod r4 <- EVEN
jmp r4 if i r2 ==
lod r3 <- i 3
mul i r1 <- r1 ; r3
lod r3 <- i 1
add i r1 <- r1 ; r3
lod r4 <- LOOP
jmp r4 always
EVEN:
lod r3 <- i 2
div i r1 <- r1 ; r3
lod r4 <- LOOP
jmp r4 always
DONE:
halt
`
	io := &testIO{inputs: []int32{6}}
	assembleAndRun(t, src, io.hooks())
	require.Equal(t, []int32{6, 3, 10, 5, 16, 8, 4, 2, 1}, io.outputs)
}
